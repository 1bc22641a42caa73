package config

import (
	"fmt"
	"net"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "peer.listen_addr")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// peerNameRegex validates peer name characters. Names travel in log
// fields and role tie-breaks, so keep them simple
var peerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePeer()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateRecorder()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validatePeer validates the PeerConfig
func (c *Config) validatePeer() []ValidationError {
	var errors []ValidationError

	for field, name := range map[string]string{
		"peer.name":      c.Peer.Name,
		"peer.peer_name": c.Peer.PeerName,
	} {
		if name == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   name,
				Message: "cannot be empty",
			})
		} else if !peerNameRegex.MatchString(name) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   name,
				Message: "must start with a letter and contain only alphanumeric characters, hyphens, or underscores",
			})
		}
	}

	// The lexicographic tie-break needs two distinct names
	if c.Peer.Name != "" && c.Peer.Name == c.Peer.PeerName {
		errors = append(errors, ValidationError{
			Field:   "peer.peer_name",
			Value:   c.Peer.PeerName,
			Message: "must differ from peer.name",
		})
	}

	for field, addr := range map[string]string{
		"peer.listen_addr": c.Peer.ListenAddr,
		"peer.peer_addr":   c.Peer.PeerAddr,
	} {
		if addr == "" {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   addr,
				Message: "cannot be empty",
			})
			continue
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   addr,
				Message: "must be a host:port address",
			})
		}
	}

	if c.Peer.DialTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "peer.dial_timeout_seconds",
			Value:   c.Peer.DialTimeoutSeconds,
			Message: "must be positive",
		})
	}

	const minLineBytes = 4096
	const maxLineBytes = 16 << 20
	if c.Peer.MaxLineBytes < minLineBytes {
		errors = append(errors, ValidationError{
			Field:   "peer.max_line_bytes",
			Value:   c.Peer.MaxLineBytes,
			Message: fmt.Sprintf("must be at least %d bytes", minLineBytes),
		})
	}
	if c.Peer.MaxLineBytes > maxLineBytes {
		errors = append(errors, ValidationError{
			Field:   "peer.max_line_bytes",
			Value:   c.Peer.MaxLineBytes,
			Message: fmt.Sprintf("exceeds maximum of %d bytes (16MB)", maxLineBytes),
		})
	}

	return errors
}

// validateSession validates the SessionConfig
func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	if c.Session.Episodes < 1 {
		errors = append(errors, ValidationError{
			Field:   "session.episodes",
			Value:   c.Session.Episodes,
			Message: "must be at least 1",
		})
	}

	const maxEpisodes = 100000
	if c.Session.Episodes > maxEpisodes {
		errors = append(errors, ValidationError{
			Field:   "session.episodes",
			Value:   c.Session.Episodes,
			Message: fmt.Sprintf("exceeds maximum of %d", maxEpisodes),
		})
	}

	if c.Session.StartEpisode < 0 {
		errors = append(errors, ValidationError{
			Field:   "session.start_episode",
			Value:   c.Session.StartEpisode,
			Message: "must be non-negative",
		})
	}

	if c.Session.StopTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "session.stop_timeout_seconds",
			Value:   c.Session.StopTimeoutSeconds,
			Message: "must be positive",
		})
	}

	return errors
}

// validateRecorder validates the RecorderConfig
func (c *Config) validateRecorder() []ValidationError {
	var errors []ValidationError

	if c.Recorder.Enabled && c.Recorder.Dir == "" {
		errors = append(errors, ValidationError{
			Field:   "recorder.dir",
			Value:   c.Recorder.Dir,
			Message: "cannot be empty when recorder is enabled",
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
