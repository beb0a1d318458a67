package moderation

import (
	"fmt"
	"unicode/utf8"

	"github.com/whisper/chat-filter/internal/violation"
)

const (
	MaxMessageBytes = 4096 // 4KB max payload text
	MaxTextChars    = 2000 // max character count
	MaxAuthorChars  = 64
)

// ModerationRequest is published to moderation.check by a chat server for
// every message that needs review.
type ModerationRequest struct {
	Author string `json:"author"`
	ChatID string `json:"chat_id,omitempty"`
	Text   string `json:"text"`
	Ts     int64  `json:"ts"`
}

// Validate checks that a request is well formed before it is evaluated.
func (r ModerationRequest) Validate() error {
	if err := violation.ValidateAuthor(r.Author); err != nil {
		return err
	}
	if utf8.RuneCountInString(r.Author) > MaxAuthorChars {
		return fmt.Errorf("author exceeds %d character limit", MaxAuthorChars)
	}
	if len(r.Text) == 0 {
		return fmt.Errorf("message text is empty")
	}
	if len(r.Text) > MaxMessageBytes {
		return fmt.Errorf("message exceeds %d byte limit", MaxMessageBytes)
	}
	if utf8.RuneCountInString(r.Text) > MaxTextChars {
		return fmt.Errorf("message exceeds %d character limit", MaxTextChars)
	}
	if !utf8.ValidString(r.Text) {
		return fmt.Errorf("message contains invalid UTF-8")
	}
	return nil
}

// ModerationResult is published back to the chat server with the outcome.
type ModerationResult struct {
	Author   string   `json:"author"`
	ChatID   string   `json:"chat_id,omitempty"`
	Blocked  bool     `json:"blocked"`
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	Term     string   `json:"term,omitempty"`
	Count    int      `json:"count,omitempty"`
	Stage    int      `json:"stage,omitempty"`
	Warning  string   `json:"warning,omitempty"`
	Commands []string `json:"commands,omitempty"`
	Ts       int64    `json:"ts"`
}

// NewResult builds the reply for req from the pipeline's outcome.
func NewResult(req ModerationRequest, out Outcome) ModerationResult {
	return ModerationResult{
		Author:   req.Author,
		ChatID:   req.ChatID,
		Blocked:  out.Decision != DecisionAllow,
		Decision: out.Decision,
		Reason:   string(out.Reason),
		Term:     out.Pattern,
		Count:    out.Count,
		Stage:    out.Stage,
		Warning:  out.Warning,
		Commands: out.Commands,
		Ts:       req.Ts,
	}
}

// InvalidResult is the reply for a request that failed validation. The
// message is blocked without counting a violation.
func InvalidResult(req ModerationRequest, err error) ModerationResult {
	return ModerationResult{
		Author:   req.Author,
		ChatID:   req.ChatID,
		Blocked:  true,
		Decision: DecisionBlock,
		Reason:   "invalid: " + err.Error(),
		Ts:       req.Ts,
	}
}

// SanctionedResult is the reply for an author who is currently banned or
// muted. The message is blocked without being evaluated.
func SanctionedResult(req ModerationRequest, kind string) ModerationResult {
	return ModerationResult{
		Author:   req.Author,
		ChatID:   req.ChatID,
		Blocked:  true,
		Decision: DecisionBlock,
		Reason:   "sanctioned: " + kind,
		Ts:       req.Ts,
	}
}
