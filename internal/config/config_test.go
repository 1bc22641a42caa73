package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Peer.Name = "alice"
	cfg.Peer.PeerName = "bob"
	cfg.Peer.ListenAddr = "0.0.0.0:7777"
	cfg.Peer.PeerAddr = "10.0.0.2:7777"
	return cfg
}

func TestValidConfigPassesValidation(t *testing.T) {
	if errs := validConfig().Validate(); len(errs) > 0 {
		t.Fatalf("valid config rejected: %v", ValidationErrors(errs))
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "empty peer name",
			mutate:    func(c *Config) { c.Peer.Name = "" },
			wantField: "peer.name",
		},
		{
			name:      "peer name with spaces",
			mutate:    func(c *Config) { c.Peer.Name = "alice smith" },
			wantField: "peer.name",
		},
		{
			name:      "identical peer names",
			mutate:    func(c *Config) { c.Peer.PeerName = "alice" },
			wantField: "peer.peer_name",
		},
		{
			name:      "listen addr without port",
			mutate:    func(c *Config) { c.Peer.ListenAddr = "0.0.0.0" },
			wantField: "peer.listen_addr",
		},
		{
			name:      "empty peer addr",
			mutate:    func(c *Config) { c.Peer.PeerAddr = "" },
			wantField: "peer.peer_addr",
		},
		{
			name:      "zero dial timeout",
			mutate:    func(c *Config) { c.Peer.DialTimeoutSeconds = 0 },
			wantField: "peer.dial_timeout_seconds",
		},
		{
			name:      "tiny max line bytes",
			mutate:    func(c *Config) { c.Peer.MaxLineBytes = 100 },
			wantField: "peer.max_line_bytes",
		},
		{
			name:      "zero episodes",
			mutate:    func(c *Config) { c.Session.Episodes = 0 },
			wantField: "session.episodes",
		},
		{
			name:      "negative start episode",
			mutate:    func(c *Config) { c.Session.StartEpisode = -1 },
			wantField: "session.start_episode",
		},
		{
			name:      "zero stop timeout",
			mutate:    func(c *Config) { c.Session.StopTimeoutSeconds = 0 },
			wantField: "session.stop_timeout_seconds",
		},
		{
			name:      "recorder enabled without dir",
			mutate:    func(c *Config) { c.Recorder.Enabled = true },
			wantField: "recorder.dir",
		},
		{
			name:      "bogus log level",
			mutate:    func(c *Config) { c.Logging.Level = "loud" },
			wantField: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) == 0 {
				t.Fatal("expected validation error, got none")
			}
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for field %s in %v", tt.wantField, ValidationErrors(errs))
			}
		})
	}
}

func TestValidationErrorsFormatting(t *testing.T) {
	one := ValidationErrors{{Field: "peer.name", Value: "", Message: "cannot be empty"}}
	if !strings.Contains(one.Error(), "peer.name") {
		t.Errorf("single error output missing field: %q", one.Error())
	}

	two := append(one, ValidationError{Field: "session.episodes", Value: 0, Message: "must be at least 1"})
	msg := two.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("multi-error output missing count: %q", msg)
	}
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	viper.Set("peer.name", "alice")
	viper.Set("peer.peer_name", "bob")
	viper.Set("peer.listen_addr", "127.0.0.1:7777")
	viper.Set("peer.peer_addr", "127.0.0.1:7778")
	viper.Set("session.episodes", 25)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session.Episodes != 25 {
		t.Errorf("episodes = %d, want 25", cfg.Session.Episodes)
	}
	if cfg.Session.Seed != 1 {
		t.Errorf("seed default = %d, want 1", cfg.Session.Seed)
	}
	if cfg.Peer.MaxLineBytes != 1<<20 {
		t.Errorf("max_line_bytes default = %d, want %d", cfg.Peer.MaxLineBytes, 1<<20)
	}
	if got := cfg.Peer.DialTimeout().Seconds(); got != 60 {
		t.Errorf("dial timeout = %vs, want 60s", got)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetDefaults()

	// Peer names left empty.
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted empty peer identity")
	}
}
