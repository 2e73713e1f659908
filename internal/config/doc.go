// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and the live settings store
// for deepchat.
//
// Supports both TOML and JSON configuration formats, with defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: the full file contents ([api], [sampling], [storage], [log])
//   - Settings: the four values a chat request needs, read once per request
//   - Store: thread-safe holder with Update, Save and fsnotify-driven reload.
//     Environment overrides apply to the live view only and are never saved.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (DEEPCHAT_*)
//   - ~/.deepchat/config.toml
//   - ~/.deepchat/config.json
//   - Built-in defaults
//
// # Usage
//
//	file, err := config.LoadFileFromPath(path)
//	if err != nil {
//	    return err
//	}
//	if _, err := config.Resolve(file); err != nil {
//	    return err
//	}
//	store := config.NewStore(path, file, logger)
//	settings := store.Settings()
//	if err := settings.Validate(); err != nil {
//	    // prompt the user to run "deepchat config set api.key ..."
//	}
package config
