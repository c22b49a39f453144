package viewer

import (
	"fmt"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/ngshow/ngshow"
)

const (
	// DefaultBindAddress listens on all interfaces.
	DefaultBindAddress = "0.0.0.0"

	// DefaultCacheMB is the size of the response cache in megabytes.
	DefaultCacheMB = 256
)

// Config holds the settings of a viewer server.
type Config struct {
	Server  ServerConfig
	Logging ngshow.LogConfig
}

type ServerConfig struct {
	BindAddress string `toml:"bind_address"`
	Port        int    // 0 picks any free port
	CacheMB     int    `toml:"cache_mb"` // zero or less disables the response cache
}

// DefaultConfig returns the configuration used when no TOML file is given.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			BindAddress: DefaultBindAddress,
			CacheMB:     DefaultCacheMB,
		},
	}
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		logfile, err := ngshow.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path: %v", err)
		}
		c.Logging.Logfile = logfile
	}
	return nil
}

// LoadConfig reads a TOML configuration file.  Unset values keep their defaults.
func LoadConfig(filename string) (Config, error) {
	cfg := DefaultConfig()
	if filename == "" {
		return cfg, fmt.Errorf("no TOML configuration file provided")
	}
	if _, err := toml.DecodeFile(filename, &cfg); err != nil {
		return cfg, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := cfg.convertPathsToAbsolute(filename); err != nil {
		return cfg, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = DefaultBindAddress
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return cfg, fmt.Errorf("bad port %d in TOML config", cfg.Server.Port)
	}
	ngshow.Debugf("tomlConfig: %+v\n", cfg)
	return cfg, nil
}
