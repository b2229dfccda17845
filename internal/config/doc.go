// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for gptchat.
//
// Configuration is layered: built-in defaults, then ~/.gptchat/config.toml,
// then .env files, then GPTCHAT_* environment variables.
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.API.BaseURL)
//
// # Environment Variables
//
//   - GPTCHAT_API_URL: overrides api.base_url
//   - GPTCHAT_API_TIMEOUT_SECS: overrides api.timeout_secs
//   - GPTCHAT_SYSTEM_PROMPT: overrides api.system_prompt
//   - GPTCHAT_CACHE_BACKEND / GPTCHAT_CACHE_PATH: cache location
//   - GPTCHAT_SESSION_MODE / GPTCHAT_NEW_CHAT: session behaviour
//   - GPTCHAT_LOG_LEVEL / GPTCHAT_LOG_FORMAT: logging
package config
