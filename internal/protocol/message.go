// Package protocol defines the wire format exchanged between the two
// peers: one JSON object per line, UTF-8, terminated by a single newline.
// The object shape is {"eventName": string, "eventParams": any}. There is
// no binary framing and no length prefix; the line break is the only
// message boundary.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Reserved phase names used by the episode lifecycle. Scenario code must
// not register handlers for these directly.
const (
	PhaseStop    = "stop"
	PhaseStopped = "stopped"
	PhaseError   = "error"
	PhaseBarrier = "barrier"
)

const scopedPrefix = "episode_"

// Message is the unit of exchange between peers. EventParams is opaque to
// the coordination layer; scenario code defines its shape per phase.
type Message struct {
	EventName   string          `json:"eventName"`
	EventParams json.RawMessage `json:"eventParams"`
}

// ScopedName builds the dispatch key for a phase within an episode.
// Scoping by episode number keeps a stray, delayed message from a previous
// (possibly aborted) episode from being taken for the current one.
func ScopedName(episode int, phase string) string {
	return scopedPrefix + strconv.Itoa(episode) + "_" + phase
}

// ParseScopedName splits a scoped event name back into its episode number
// and phase name. Phase names may themselves contain underscores; only the
// first two segments are structural.
func ParseScopedName(name string) (episode int, phase string, err error) {
	rest, ok := strings.CutPrefix(name, scopedPrefix)
	if !ok {
		return 0, "", fmt.Errorf("event name %q is not episode-scoped", name)
	}
	num, phase, ok := strings.Cut(rest, "_")
	if !ok || phase == "" {
		return 0, "", fmt.Errorf("event name %q has no phase segment", name)
	}
	episode, err = strconv.Atoi(num)
	if err != nil {
		return 0, "", fmt.Errorf("event name %q has a malformed episode number: %w", name, err)
	}
	return episode, phase, nil
}

// Encode serializes a message followed by the line terminator. The
// returned slice is written to the transport in a single call so a message
// is never split or merged on the wire.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.EventName, err)
	}
	return append(data, '\n'), nil
}

// Decode parses one complete line into a Message. Callers treat a decode
// failure as a dropped line, never as a fatal condition.
func Decode(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, fmt.Errorf("decode line: %w", err)
	}
	if msg.EventName == "" {
		return Message{}, fmt.Errorf("decode line: missing eventName")
	}
	return msg, nil
}

// NewMessage builds a scoped message, serializing the payload. A nil
// payload produces a JSON null, which is valid for barrier-style phases
// that carry no state.
func NewMessage(episode int, phase string, payload any) (Message, error) {
	params, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal payload for phase %s: %w", phase, err)
	}
	return Message{
		EventName:   ScopedName(episode, phase),
		EventParams: params,
	}, nil
}
