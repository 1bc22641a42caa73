package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete mirrorpeer configuration
type Config struct {
	Peer      PeerConfig      `mapstructure:"peer"`
	Session   SessionConfig   `mapstructure:"session"`
	Scenarios ScenariosConfig `mapstructure:"scenarios"`
	Recorder  RecorderConfig  `mapstructure:"recorder"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PeerConfig identifies this peer and its counterpart and controls the
// transport between them
type PeerConfig struct {
	// Name is this peer's stable name. Role tie-breaks use the
	// lexicographic order of the two names, so the pair must be distinct.
	Name string `mapstructure:"name"`
	// PeerName is the counterpart's stable name
	PeerName string `mapstructure:"peer_name"`
	// ListenAddr is the host:port this peer accepts its inbound stream on
	ListenAddr string `mapstructure:"listen_addr"`
	// PeerAddr is the counterpart's host:port for the outbound stream
	PeerAddr string `mapstructure:"peer_addr"`
	// DialTimeoutSeconds bounds the initial outbound connection attempt,
	// retries included (default: 60)
	DialTimeoutSeconds int `mapstructure:"dial_timeout_seconds"`
	// MaxLineBytes is the maximum accepted wire line length (default: 1MB)
	MaxLineBytes int `mapstructure:"max_line_bytes"`
}

// SessionConfig controls the episode loop. Both peers must run with
// identical session values or their shared random streams diverge
type SessionConfig struct {
	// Episodes is the number of episodes to run (default: 10)
	Episodes int `mapstructure:"episodes"`
	// StartEpisode is the first episode number, letting a session resume
	// dataset numbering where a previous one stopped (default: 0)
	StartEpisode int `mapstructure:"start_episode"`
	// Seed is the shared base seed both peers derive every random stream
	// from (default: 1)
	Seed uint64 `mapstructure:"seed"`
	// SmokeTest cycles scenario types alphabetically instead of weighted
	// sampling, guaranteeing coverage on short runs (default: false)
	SmokeTest bool `mapstructure:"smoke_test"`
	// StopTimeoutSeconds bounds each episode's stop protocol (default: 30)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"`
}

// ScenariosConfig controls which scenario types may run
type ScenariosConfig struct {
	// Enabled restricts the types in play; empty means all registered
	Enabled []string `mapstructure:"enabled"`
	// FlatWorld marks the world as flat, allowing flat-world-only types
	FlatWorld bool `mapstructure:"flat_world"`
	// DurationsFile is an optional YAML file of typical-duration
	// overrides used by weighted selection
	DurationsFile string `mapstructure:"durations_file"`
}

// RecorderConfig controls the rendezvous with the external recorder
type RecorderConfig struct {
	// Enabled turns the recorder marker protocol on (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Dir is the marker directory shared with the external recorder
	Dir string `mapstructure:"dir"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the log file directory; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// DialTimeout returns the dial timeout as a time.Duration
func (p *PeerConfig) DialTimeout() time.Duration {
	return time.Duration(p.DialTimeoutSeconds) * time.Second
}

// StopTimeout returns the stop protocol timeout as a time.Duration
func (s *SessionConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutSeconds) * time.Second
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Peer: PeerConfig{
			DialTimeoutSeconds: 60,
			MaxLineBytes:       1 << 20,
		},
		Session: SessionConfig{
			Episodes:           10,
			StartEpisode:       0,
			Seed:               1,
			SmokeTest:          false,
			StopTimeoutSeconds: 30,
		},
		Scenarios: ScenariosConfig{
			Enabled:   []string{},
			FlatWorld: false,
		},
		Recorder: RecorderConfig{
			Enabled: false,
			Dir:     "",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Peer defaults
	viper.SetDefault("peer.name", defaults.Peer.Name)
	viper.SetDefault("peer.peer_name", defaults.Peer.PeerName)
	viper.SetDefault("peer.listen_addr", defaults.Peer.ListenAddr)
	viper.SetDefault("peer.peer_addr", defaults.Peer.PeerAddr)
	viper.SetDefault("peer.dial_timeout_seconds", defaults.Peer.DialTimeoutSeconds)
	viper.SetDefault("peer.max_line_bytes", defaults.Peer.MaxLineBytes)

	// Session defaults
	viper.SetDefault("session.episodes", defaults.Session.Episodes)
	viper.SetDefault("session.start_episode", defaults.Session.StartEpisode)
	viper.SetDefault("session.seed", defaults.Session.Seed)
	viper.SetDefault("session.smoke_test", defaults.Session.SmokeTest)
	viper.SetDefault("session.stop_timeout_seconds", defaults.Session.StopTimeoutSeconds)

	// Scenario defaults
	viper.SetDefault("scenarios.enabled", defaults.Scenarios.Enabled)
	viper.SetDefault("scenarios.flat_world", defaults.Scenarios.FlatWorld)
	viper.SetDefault("scenarios.durations_file", defaults.Scenarios.DurationsFile)

	// Recorder defaults
	viper.SetDefault("recorder.enabled", defaults.Recorder.Enabled)
	viper.SetDefault("recorder.dir", defaults.Recorder.Dir)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "mirrorpeer")
	}
	// Fall back to ~/.config/mirrorpeer
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mirrorpeer"
	}
	return filepath.Join(home, ".config", "mirrorpeer")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
