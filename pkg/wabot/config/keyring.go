// Package config – keyring.go stores the Discord bot token in the operating
// system's keyring (Linux: Secret Service, macOS: Keychain, Windows:
// Credential Manager).
//
// Priority for resolving the token:
//  1. discord.token in config.yaml (after ${VAR} expansion)
//  2. OS keyring (`wabot config set-token`)
//  3. DISCORD_BOT_TOKEN environment variable or .env file
package config

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const (
	// keyringService is the service name used in the OS keyring.
	keyringService = "wabot"

	// keyringDiscordToken is the key name for the Discord bot token.
	keyringDiscordToken = "discord_bot_token"
)

// StoreDiscordToken saves the Discord bot token to the OS keyring.
func StoreDiscordToken(token string) error {
	if token == "" {
		return errors.New("empty token")
	}
	return keyring.Set(keyringService, keyringDiscordToken, token)
}

// DeleteDiscordToken removes the Discord bot token from the OS keyring.
// A missing entry is not an error.
func DeleteDiscordToken() error {
	err := keyring.Delete(keyringService, keyringDiscordToken)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// keyringToken returns the stored Discord token, or "" when none is stored
// or no keyring is available.
func keyringToken() string {
	val, err := keyring.Get(keyringService, keyringDiscordToken)
	if err != nil {
		return ""
	}
	return val
}
