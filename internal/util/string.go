// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

// UNICODE: Rune-aware truncation never splits a multi-byte character.

// TruncateRunes truncates s to at most maxRunes runes, using "..." as the
// marker when there is room for it.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWithSuffix keeps the first keep runes of s and appends suffix
// when s is longer than keep runes. Unlike TruncateRunes the suffix is not
// counted against the limit.
func TruncateWithSuffix(s string, keep int, suffix string) string {
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	if len(runes) <= keep {
		return s
	}
	return string(runes[:keep]) + suffix
}
