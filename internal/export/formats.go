// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/gptchat/internal/model"
)

// document is the structured form shared by JSON and YAML.
type document struct {
	ID        string            `json:"id" yaml:"id"`
	Title     string            `json:"title" yaml:"title"`
	CreatedAt string            `json:"created_at" yaml:"created_at"`
	Messages  []documentMessage `json:"messages" yaml:"messages"`
}

type documentMessage struct {
	Role      string `json:"role" yaml:"role"`
	Content   string `json:"content" yaml:"content"`
	CreatedAt string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toDocument(conv model.Conversation) document {
	doc := document{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: formatTime(conv.CreatedAt),
		Messages:  make([]documentMessage, 0, len(conv.Messages)),
	}
	for _, m := range conv.Messages {
		doc.Messages = append(doc.Messages, documentMessage{
			Role:      string(m.Role),
			Content:   m.Content,
			CreatedAt: formatTime(m.CreatedAt),
		})
	}
	return doc
}

// JSONExporter writes indented JSON.
type JSONExporter struct{}

// Export implements Exporter.
func (e *JSONExporter) Export(conv model.Conversation, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(toDocument(conv))
}

// Extension implements Exporter.
func (e *JSONExporter) Extension() string { return "json" }

// YAMLExporter writes YAML.
type YAMLExporter struct{}

// Export implements Exporter.
func (e *YAMLExporter) Export(conv model.Conversation, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	defer func() { _ = enc.Close() }()
	enc.SetIndent(2)
	return enc.Encode(toDocument(conv))
}

// Extension implements Exporter.
func (e *YAMLExporter) Extension() string { return "yaml" }

// MarkdownExporter writes a readable transcript.
type MarkdownExporter struct{}

// Export implements Exporter.
func (e *MarkdownExporter) Export(conv model.Conversation, w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(conv.Title))
	if created := formatTime(conv.CreatedAt); created != "" {
		fmt.Fprintf(&sb, "- **Created**: %s\n", created)
	}
	fmt.Fprintf(&sb, "- **Messages**: %d\n\n", conv.MessageCount())

	for i, m := range conv.Messages {
		sb.WriteString("---\n\n")
		fmt.Fprintf(&sb, "### %s\n\n", m.Role.DisplayName())
		content := strings.TrimSpace(m.Content)
		if content == "" {
			content = "*(empty)*"
		}
		sb.WriteString(content)
		sb.WriteString("\n")
		if i < len(conv.Messages)-1 {
			sb.WriteString("\n")
		}
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// Extension implements Exporter.
func (e *MarkdownExporter) Extension() string { return "md" }

// escapeMarkdown keeps a title on one line and stops it from opening
// markup.
func escapeMarkdown(s string) string {
	s = strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
	return strings.NewReplacer(
		`\`, `\\`,
		"*", `\*`,
		"_", `\_`,
		"`", "\\`",
		"[", `\[`,
		"]", `\]`,
		"#", `\#`,
	).Replace(s)
}
