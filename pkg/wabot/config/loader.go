// Package config – loader.go handles loading configuration from YAML files
// with credentials supplied through environment variables and .env files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches environment variable references in config values:
//   - ${VAR_NAME}          - simple variable
//   - ${VAR_NAME:-default} - default value if not set
//   - ${VAR_NAME:?error}   - error message if not set
//
// Groups: 1=name, 2=modifier ("-" or "?"), 3=modifier value.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}`)

// configCandidates are tried in order by FindConfigFile.
var configCandidates = []string{
	"config.yaml",
	"config.yml",
	"wabot.yaml",
	"wabot.yml",
	"configs/config.yaml",
	"configs/wabot.yaml",
}

// LoadConfigFromFile reads, parses and validates a YAML configuration file.
// .env files are loaded first, then ${VAR} references are expanded in the
// transport, recipient and path fields. Reply and message texts are used
// verbatim. Every failure is returned as a *LoadError.
func LoadConfigFromFile(path string) (*Config, error) {
	loadEnvFiles()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Msg: "reading config file", Err: err}
	}

	cfg, lerr := decodeConfig(data)
	if lerr != nil {
		lerr.Path = path
		return nil, lerr
	}

	if lerr := expandConfigEnv(cfg); lerr != nil {
		lerr.Path = path
		return nil, lerr
	}

	resolveSecrets(cfg)
	resolveRelativePaths(cfg, path)
	checkFilePermissions(path)

	if err := cfg.Validate(); err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Path = path
		}
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses YAML bytes on top of DefaultConfig and validates the
// result.
func ParseConfig(data []byte) (*Config, error) {
	cfg, lerr := decodeConfig(data)
	if lerr != nil {
		return nil, lerr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeConfig overlays data on DefaultConfig. Unknown keys are rejected.
func decodeConfig(data []byte) (*Config, *LoadError) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and keeps the defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, &LoadError{Msg: "parsing config YAML", Err: err}
	}
	return cfg, nil
}

// SaveConfigToFile writes cfg as YAML to path with owner-only permissions.
// An existing file is copied to path+".bak" first.
func SaveConfigToFile(cfg *Config, path string) error {
	sanitized := *cfg
	sanitized.Discord.Token = sanitizeSecret(cfg.Discord.Token, "DISCORD_BOT_TOKEN")

	data, err := yaml.Marshal(&sanitized)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	var check map[string]any
	if err := yaml.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("config validation failed (refusing to write corrupt data): %w", err)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	if existing, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(path+".bak", existing, 0o600)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// FindConfigFile searches for config files in standard locations.
func FindConfigFile() string {
	for _, path := range configCandidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// IsEnvReference checks if a string is an unexpanded ${VAR} reference.
func IsEnvReference(s string) bool {
	return strings.HasPrefix(s, "${")
}

// MaskSecret hides all but the last four characters of a secret.
func MaskSecret(s string) string {
	if s == "" || IsEnvReference(s) {
		return s
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// ---------- Internal ----------

// loadEnvFiles loads .env files from the working directory.
// godotenv.Load does not overwrite variables that are already set.
func loadEnvFiles() {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
}

// EnvError reports a ${VAR:?message} reference whose variable is unset.
type EnvError struct {
	Var string
	Msg string
}

func (e *EnvError) Error() string {
	return e.Var + " - " + e.Msg
}

// expandEnv replaces ${VAR}, ${VAR:-default} and ${VAR:?error} references
// in s. Unset variables without a modifier keep their placeholder. The first
// unset ${VAR:?error} is returned as an *EnvError.
func expandEnv(s string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		sub := envVarPattern.FindStringSubmatch(match)
		varName, modifier, value := sub[1], sub[2], sub[3]

		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		switch modifier {
		case "?":
			if value == "" {
				value = "required environment variable not set"
			}
			if firstErr == nil {
				firstErr = &EnvError{Var: varName, Msg: value}
			}
			return match
		case "-":
			return value
		}
		return match
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// envField is a config string that may hold ${VAR} references.
type envField struct {
	name string
	ptr  *string
}

// expandConfigEnv expands env references in the transport, recipient and
// path fields.
func expandConfigEnv(cfg *Config) *LoadError {
	fields := []envField{
		{"transport", &cfg.Transport},
		{"discord.token", &cfg.Discord.Token},
		{"whatsapp.session_dir", &cfg.WhatsApp.SessionDir},
		{"whatsapp.database_path", &cfg.WhatsApp.DatabasePath},
		{"whatsapp.device_name", &cfg.WhatsApp.DeviceName},
		{"logging.file", &cfg.Logging.File},
		{"logging.level", &cfg.Logging.Level},
		{"logging.format", &cfg.Logging.Format},
	}
	for i := range cfg.AutoSend.Messages {
		fields = append(fields, envField{fmt.Sprintf("auto_send.messages[%d].to", i), &cfg.AutoSend.Messages[i].To})
	}
	for i := range cfg.Discord.AllowedGuilds {
		fields = append(fields, envField{fmt.Sprintf("discord.allowed_guilds[%d]", i), &cfg.Discord.AllowedGuilds[i]})
	}
	for i := range cfg.Discord.AllowedChannels {
		fields = append(fields, envField{fmt.Sprintf("discord.allowed_channels[%d]", i), &cfg.Discord.AllowedChannels[i]})
	}

	for _, f := range fields {
		v, err := expandEnv(*f.ptr)
		if err != nil {
			return &LoadError{Field: f.name, Msg: "expanding environment variables", Err: err}
		}
		*f.ptr = v
	}
	return nil
}

// resolveSecrets fills the Discord token from the OS keyring, then the
// environment, when the config leaves it empty or unexpanded.
func resolveSecrets(cfg *Config) {
	if cfg.Discord.Token != "" && !IsEnvReference(cfg.Discord.Token) {
		return
	}
	if tok := keyringToken(); tok != "" {
		cfg.Discord.Token = tok
		return
	}
	if tok := os.Getenv("DISCORD_BOT_TOKEN"); tok != "" {
		cfg.Discord.Token = tok
	}
}

// resolveRelativePaths makes file paths relative to the config file's
// directory so that the bot works regardless of the working directory.
func resolveRelativePaths(cfg *Config, configPath string) {
	configDir := filepath.Dir(configPath)

	cfg.WhatsApp.SessionDir = resolvePathFromConfig(cfg.WhatsApp.SessionDir, configDir)
	cfg.WhatsApp.DatabasePath = resolvePathFromConfig(cfg.WhatsApp.DatabasePath, configDir)
	cfg.Logging.File = resolvePathFromConfig(cfg.Logging.File, configDir)
}

// resolvePathFromConfig converts path to an absolute path, resolving
// relative paths against configDir and expanding a leading ~/.
func resolvePathFromConfig(path, configDir string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		path = filepath.Join(home, path[2:])
	}

	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(configDir, path)
}

// sanitizeSecret replaces a secret with its env var reference when the
// environment already holds the same value.
func sanitizeSecret(value, envVar string) string {
	if value == "" || IsEnvReference(value) {
		return value
	}
	if os.Getenv(envVar) == value {
		return "${" + envVar + "}"
	}
	return value
}

// checkFilePermissions warns if the config file is group or world readable.
func checkFilePermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	mode := info.Mode().Perm()
	if mode&0o044 != 0 {
		slog.Warn("config file has open permissions, consider restricting",
			"path", path,
			"current", fmt.Sprintf("%04o", mode),
			"recommended", "0600",
			"fix", fmt.Sprintf("chmod 600 %s", path),
		)
	}
}
