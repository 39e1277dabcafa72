// Package config resolves VibeTunnel's runtime configuration per
// spec.md §6: flags override environment variables override an optional
// YAML file's defaults. Grounded on the teacher's internal/config
// (default-then-load-then-validate shape, atomic YAML save), scaled down
// to this spec's much smaller option set.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"go.yaml.in/yaml/v3"
)

// Config is the fully resolved set of options from spec.md §6.
type Config struct {
	Port int    `yaml:"port"`
	Bind string `yaml:"bind"`

	Username             string `yaml:"username,omitempty"`
	Password             string `yaml:"-"` // never persisted in plaintext
	PasswordHash         string `yaml:"passwordHash,omitempty"`
	NoAuth               bool   `yaml:"noAuth"`
	AllowLocalBypass     bool   `yaml:"allowLocalBypass"`
	LocalAuthToken       string `yaml:"localAuthToken,omitempty"`
	EnableSSHKeys        bool   `yaml:"enableSSHKeys"`
	DisallowUserPassword bool   `yaml:"disallowUserPassword"`

	HQ      bool   `yaml:"hq"`
	HQURL   string `yaml:"hqUrl,omitempty"`
	HQName  string `yaml:"hqName,omitempty"`
	HQToken string `yaml:"-"`

	// JWTSecretHex is generated on first run and persisted so bearer
	// tokens survive a restart; never set via flag or env.
	JWTSecretHex string `yaml:"jwtSecret,omitempty"`

	ControlDir string `yaml:"controlDir"`
	Debug      bool   `yaml:"-"`
}

// JWTSecret decodes JWTSecretHex for auth.Config.
func (c Config) JWTSecret() ([]byte, error) {
	return hex.DecodeString(c.JWTSecretHex)
}

// DefaultPath returns the default config file location, ~/.vibetunnel/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".vibetunnel", "config.yaml")
}

// Default returns the built-in defaults before flags/env/file are
// layered on.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Port:       4020,
		Bind:       "0.0.0.0",
		ControlDir: filepath.Join(home, ".vibetunnel", "control"),
	}
}

// Load resolves configuration: start from Default(), overlay an optional
// YAML file at filePath (skipped if absent), overlay environment
// variables, then overlay command-line flags parsed from args. Flags win.
// If no JWT secret has ever been persisted, one is generated and saved
// back to filePath so it survives a restart.
func Load(filePath string, args []string) (Config, error) {
	cfg := Default()

	if filePath != "" {
		if err := loadFile(filePath, &cfg); err != nil {
			return cfg, err
		}
	}
	applyEnv(&cfg)
	if err := applyFlags(&cfg, args); err != nil {
		return cfg, err
	}

	if cfg.JWTSecretHex == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return cfg, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.JWTSecretHex = hex.EncodeToString(secret)
		if filePath != "" {
			if err := Save(filePath, cfg); err != nil {
				slog.Warn("[config] failed to persist generated jwt secret", "error", err)
			}
		}
	}
	return cfg, nil
}

// Save atomically writes cfg to path (temp file + rename), per the
// teacher's atomic config save idiom.
func Save(path string, cfg Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: marshal: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("save config: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("save config: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: chmod temp: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("save config: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save config: close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("save config: rename: %w", err)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if os.Getenv("DEBUG") == "1" {
		cfg.Debug = true
	}
}

func applyFlags(cfg *Config, args []string) error {
	fs := flag.NewFlagSet("vibetunnel", flag.ContinueOnError)

	port := fs.Int("port", cfg.Port, "listen port")
	bind := fs.String("bind", cfg.Bind, "bind address")
	username := fs.String("username", cfg.Username, "basic auth username")
	password := fs.String("password", cfg.Password, "basic auth password")
	noAuth := fs.Bool("no-auth", cfg.NoAuth, "disable authentication")
	allowLocalBypass := fs.Bool("allow-local-bypass", cfg.AllowLocalBypass, "localhost connections skip auth")
	localAuthToken := fs.String("local-auth-token", cfg.LocalAuthToken, "required header value for local bypass")
	enableSSHKeys := fs.Bool("enable-ssh-keys", cfg.EnableSSHKeys, "accept SSH-key challenge auth")
	disallowUserPassword := fs.Bool("disallow-user-password", cfg.DisallowUserPassword, "require SSH-key auth only")
	hq := fs.Bool("hq", cfg.HQ, "run as HQ")
	hqURL := fs.String("hq-url", cfg.HQURL, "HQ base URL (remote role)")
	hqName := fs.String("name", cfg.HQName, "this remote's registered name")
	hqToken := fs.String("token", cfg.HQToken, "bearer token for HQ registration")
	controlDir := fs.String("control-dir", cfg.ControlDir, "override CONTROL_DIR")
	fs.String("config", "", "config file path (handled by the caller before Load)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg.Port = *port
	cfg.Bind = *bind
	cfg.Username = *username
	cfg.Password = *password
	cfg.NoAuth = *noAuth
	cfg.AllowLocalBypass = *allowLocalBypass
	cfg.LocalAuthToken = *localAuthToken
	cfg.EnableSSHKeys = *enableSSHKeys
	cfg.DisallowUserPassword = *disallowUserPassword
	cfg.HQ = *hq
	cfg.HQURL = *hqURL
	cfg.HQName = *hqName
	cfg.HQToken = *hqToken
	cfg.ControlDir = *controlDir
	return nil
}
