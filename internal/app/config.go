package app

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the llmc configuration file (~/.config/llmc/config.yaml).
// Both tools read the same file; keys a tool has no flag for are ignored.
// All fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	Layout *string `yaml:"layout"`

	// Lossy
	Float16 *bool `yaml:"float16"`

	// Lossless
	Backend      *string `yaml:"backend"`
	Level        *int    `yaml:"level"`
	Workers      *int    `yaml:"workers"`
	WindowLog    *int    `yaml:"window_log"`
	LongDistance *bool   `yaml:"long_distance"`
	BlockSize    *int    `yaml:"block_size"`

	// Output
	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	// Server
	ServerAddress *string `yaml:"server_address"`
	MaxBodySize   *int64  `yaml:"max_body_size"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "llmc", "config.yaml")
}

// LoadConfig reads the config file at path. A missing file yields a zero
// Config unless explicit is set, in which case it is an error. A file that
// does not parse is always an error.
func LoadConfig(path string, explicit bool) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// apply copies config file values into s wherever the corresponding flag
// was not given on the command line.
func (s *settings) apply(c *cli.Command, cfg Config) {
	setString(c, "layout", cfg.Layout, &s.layout)
	setString(c, "log-level", cfg.LogLevel, &s.logLevel)
	setString(c, "log-format", cfg.LogFormat, &s.logFormat)

	if s.lossless() {
		setString(c, "backend", cfg.Backend, &s.backend)
		setInt(c, "level", cfg.Level, &s.level)
		setInt(c, "workers", cfg.Workers, &s.workers)
		setInt(c, "window-log", cfg.WindowLog, &s.windowLog)
		setInt(c, "block-size", cfg.BlockSize, &s.blockSize)
		if cfg.LongDistance != nil && !c.IsSet("no-long-distance") {
			s.noLongDistance = !*cfg.LongDistance
		}
	} else if cfg.Float16 != nil && !c.IsSet("float16") {
		s.float16 = *cfg.Float16
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, maxBody *int64) {
	setString(c, "addr", cfg.ServerAddress, addr)
	if cfg.MaxBodySize != nil && !c.IsSet("max-body") {
		*maxBody = *cfg.MaxBodySize
	}
}

func setString(c *cli.Command, flag string, v *string, dst *string) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}

func setInt(c *cli.Command, flag string, v *int, dst *int) {
	if v != nil && !c.IsSet(flag) {
		*dst = *v
	}
}
