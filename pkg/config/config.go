// Package config loads the lmchat client configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/lmchat/pkg/session"
)

const (
	// PathEnv overrides the default config file location.
	PathEnv = "LMCHAT_CONFIG"

	// APIKeyEnv supplies the assistant key when the file does not.
	APIKeyEnv = "LMCHAT_API_KEY"

	dirName  = ".lmchat"
	fileName = "config.toml"
)

// Config is the client configuration.
//
//	base_url = "http://localhost:6070"
//	idle_timeout = "60s"
//
//	[assistant]
//	id = "asst_123"
//	api_key = "sk-..."
type Config struct {
	BaseURL     string        `toml:"base_url"`
	IdleTimeout time.Duration `toml:"idle_timeout"`
	PaceDelay   time.Duration `toml:"pace_delay"`
	Debug       bool          `toml:"debug"`

	Assistant Assistant `toml:"assistant"`
}

// Assistant is the chat target.
type Assistant struct {
	ID     string `toml:"id"`
	APIKey string `toml:"api_key"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		BaseURL:     "http://localhost:6070",
		IdleTimeout: session.DefaultIdleTimeout,
	}
}

// ResolvePath returns the config file to use: flagPath if set, then
// $LMCHAT_CONFIG, then ~/.lmchat/config.toml.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, dirName, fileName), nil
}

// Load reads path over the defaults. A missing file is not an error.
// The API key falls back to $LMCHAT_API_KEY.
func Load(path string) (Config, error) {
	cfg := Default()

	md, err := toml.DecodeFile(path, &cfg)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("could not parse config %s: %w", path, err)
	default:
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("unknown keys in config %s: %v", path, undecoded)
		}
	}

	if cfg.Assistant.APIKey == "" {
		cfg.Assistant.APIKey = os.Getenv(APIKeyEnv)
	}
	return cfg, nil
}

// Session returns the Engine configuration.
func (c Config) Session() session.Config {
	return session.Config{
		Target: session.Target{
			ID:     c.Assistant.ID,
			APIKey: c.Assistant.APIKey,
		},
		IdleTimeout: c.IdleTimeout,
		PaceDelay:   c.PaceDelay,
	}
}
