// Package config handles configuration loading from CLI flags, environment
// variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for the Tagon dev engine.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Components ComponentsConfig `toml:"components"`
	Watch      WatchConfig      `toml:"watch"`
	Reload     ReloadConfig     `toml:"reload"`
	Logging    LoggingConfig    `toml:"logging"`
}

// ServerConfig holds dev server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ComponentsConfig holds component source tree settings.
type ComponentsConfig struct {
	Dir       string `toml:"dir"`       // Component source directory
	Extension string `toml:"extension"` // Component file extension
	StaticDir string `toml:"static"`    // Static files directory
}

// WatchConfig holds file watching settings.
type WatchConfig struct {
	Enabled  bool     `toml:"enabled"`
	Debounce Duration `toml:"debounce"` // Per-path event coalescing window
}

// ReloadConfig holds live-reload delivery settings.
type ReloadConfig struct {
	SendTimeout Duration `toml:"send-timeout"` // Per-channel delivery bound
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbosity int `toml:"verbosity"` // 0=errors, 1=lifecycle, 2=components, 3=events
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
// This allows both "-v -v -v" and "-vvv" styles to work.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 3000,
		},
		Components: ComponentsConfig{
			Dir:       "components",
			Extension: ".tg",
			StaticDir: "public",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: Duration(300 * time.Millisecond),
		},
		Reload: ReloadConfig{
			SendTimeout: Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Verbosity: 0,
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("tagon", flag.ContinueOnError)
	configFile := fs.String("config", "", "Path to tagon.toml")

	host := fs.String("host", "", "Dev server listen address")
	port := fs.Int("port", 0, "Dev server listen port")

	components := fs.String("components", "", "Component source directory")
	static := fs.String("static", "", "Static files directory")

	watch := fs.Bool("watch", true, "Watch component sources for changes")
	debounce := fs.Duration("debounce", 0, "File event debounce window")

	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Load TOML config if present
	configPath := "tagon.toml"
	if *configFile != "" {
		configPath = *configFile
	}
	if err := cfg.loadTOML(configPath); err != nil {
		if *configFile != "" || !os.IsNotExist(err) {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Apply CLI flags (highest priority)
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *components != "" {
		cfg.Components.Dir = *components
	}
	if *static != "" {
		cfg.Components.StaticDir = *static
	}
	watchSet := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "watch" {
			watchSet = true
		}
	})
	if watchSet {
		cfg.Watch.Enabled = *watch
	}
	if *debounce != 0 {
		cfg.Watch.Debounce = Duration(*debounce)
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("TAGON_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("TAGON_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("TAGON_COMPONENTS"); v != "" {
		c.Components.Dir = v
	}
	if v := os.Getenv("TAGON_STATIC"); v != "" {
		c.Components.StaticDir = v
	}
	if v := os.Getenv("TAGON_WATCH"); v != "" {
		c.Watch.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("TAGON_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.Debounce = Duration(d)
		}
	}
	if v := os.Getenv("TAGON_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Verbosity returns the configured verbosity level (0-3).
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log prints a message when the configured verbosity is at least level.
// Level 0 is for errors and is always printed.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if c.Logging.Verbosity >= level {
		log.Printf(format, args...)
	}
}

// Addr returns the host:port address for the dev server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
