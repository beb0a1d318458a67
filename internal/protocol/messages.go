// Package protocol defines the admin messages exchanged with the moderator
// over the moderation.admin request/reply subject. All messages are JSON and
// follow a consistent envelope format with a type discriminator and an
// optional correlation id.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/whisper/chat-filter/internal/moderation"
	"github.com/whisper/chat-filter/internal/violation"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Request types (admin -> moderator).
const (
	TypeAddPattern      = "add_pattern"
	TypeRemovePattern   = "remove_pattern"
	TypeListPatterns    = "list_patterns"
	TypeAddExclusion    = "add_exclusion"
	TypeRemoveExclusion = "remove_exclusion"
	TypeListExclusions  = "list_exclusions"
	TypeTest            = "test"
	TypeViolations      = "violations"
	TypeResetViolations = "reset_violations"
	TypeHistory         = "history"
	TypeStats           = "stats"
	TypeReload          = "reload"
	TypeSetEnabled      = "set_enabled"
	TypePing            = "ping"
)

// Response types (moderator -> admin).
const (
	TypePatternChanged   = "pattern_changed"
	TypePatterns         = "patterns"
	TypeExclusionChanged = "exclusion_changed"
	TypeExclusions       = "exclusions"
	TypeTestResult       = "test_result"
	TypeViolationCounts  = "violation_counts"
	TypeViolationsReset  = "violations_reset"
	TypeHistoryResult    = "history_result"
	TypeStatsResult      = "stats_result"
	TypeReloaded         = "reloaded"
	TypeEnabled          = "enabled"
	TypeError            = "error"
	TypePong             = "pong"
)

// Error codes carried by ErrorMsg.
const (
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
	CodeInvalidArgument = "invalid_argument"
	CodeFailed          = "failed"
)

// ---------------------------------------------------------------------------
// Envelope: used for initial JSON parsing to extract the discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type, the correlation id and the raw JSON
// payload for deferred parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type" and
// "id" fields so the rest can be decoded into the right struct later.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	e.ID = partial.ID
	return nil
}

// ---------------------------------------------------------------------------
// Request structs
// ---------------------------------------------------------------------------

type PatternMsg struct {
	Type    string `json:"type"`
	Pattern string `json:"pattern"`
}

type AuthorMsg struct {
	Type   string `json:"type"`
	Author string `json:"author"`
}

type ListMsg struct {
	Type string `json:"type"`
}

type TestMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// SetEnabledMsg switches moderation on or off until the next reload.
type SetEnabledMsg struct {
	Type    string `json:"type"`
	Enabled bool   `json:"enabled"`
}

// ---------------------------------------------------------------------------
// Response structs
// ---------------------------------------------------------------------------

type PatternChangedMsg struct {
	Pattern  string `json:"pattern"`
	Changed  bool   `json:"changed"`
	Patterns int    `json:"patterns"`
}

type PatternsMsg struct {
	Patterns []string `json:"patterns"`
}

type ExclusionChangedMsg struct {
	Author  string `json:"author"`
	Changed bool   `json:"changed"`
}

type ExclusionsMsg struct {
	Authors []string `json:"authors"`
}

type TestResultMsg struct {
	Message string             `json:"message"`
	Matched bool               `json:"matched"`
	Pattern string             `json:"pattern,omitempty"`
	Matches []moderation.Match `json:"matches,omitempty"`
}

// ViolationCountsMsg answers a violations request. With an author it holds
// that author's count; without one it holds every count.
type ViolationCountsMsg struct {
	Author string         `json:"author,omitempty"`
	Count  int            `json:"count"`
	Counts map[string]int `json:"counts,omitempty"`
}

type ViolationsResetMsg struct {
	Author   string `json:"author,omitempty"`
	Previous int    `json:"previous"`
}

type HistoryMsg struct {
	Author    string               `json:"author"`
	Incidents []violation.Incident `json:"incidents"`
}

type StatsMsg struct {
	moderation.Stats
	Version string `json:"version,omitempty"`
}

type ReloadedMsg struct {
	Patterns int      `json:"patterns"`
	Warnings []string `json:"warnings,omitempty"`
}

type EnabledMsg struct {
	Enabled bool `json:"enabled"`
}

// ErrorMsg is sent to communicate an error condition.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseRequest parses raw bytes into a typed admin request. It returns the
// envelope (type and id), the decoded struct, and any error encountered. An
// error is returned for unknown or response-only message types; the
// envelope is still filled in when the type could be read.
func ParseRequest(data []byte) (Envelope, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAddPattern, TypeRemovePattern:
		var m PatternMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeAddExclusion, TypeRemoveExclusion, TypeViolations, TypeResetViolations, TypeHistory:
		var m AuthorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeListPatterns, TypeListExclusions, TypeStats, TypeReload, TypePing:
		var m ListMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeTest:
		var m TestMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeSetEnabled:
		var m SetEnabledMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env, nil, fmt.Errorf("protocol: unknown request type: %q", env.Type)
	}

	if err != nil {
		return env, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env, msg, nil
}

// NewRequest encodes an admin request with the given type and id.
func NewRequest(msgType, id string, payload interface{}) ([]byte, error) {
	return encode(msgType, id, payload)
}

// NewResponse encodes a response. The msgType and, when set, the request id
// are injected into the payload under the "type" and "id" keys.
func NewResponse(msgType, id string, payload interface{}) ([]byte, error) {
	return encode(msgType, id, payload)
}

func encode(msgType, id string, payload interface{}) ([]byte, error) {
	m := map[string]interface{}{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
		}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
		}
	}

	m["type"] = msgType
	if id != "" {
		m["id"] = id
	}

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal message: %w", err)
	}
	return out, nil
}
