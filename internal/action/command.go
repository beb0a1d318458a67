package action

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Verbs executed by the moderator itself.
const (
	VerbBan    = "ban"
	VerbMute   = "mute"
	VerbUnban  = "unban"
	VerbUnmute = "unmute"
)

// ErrNotBuiltin is returned by ParseCommand for verbs the moderator
// forwards instead of executing.
var ErrNotBuiltin = errors.New("not a built-in command")

// Command is a parsed built-in command line.
type Command struct {
	Verb     string
	Author   string
	Duration time.Duration // zero means permanent
	Reason   string
}

// Kind returns the sanction kind the verb acts on.
func (c Command) Kind() Kind {
	if c.Verb == VerbMute || c.Verb == VerbUnmute {
		return KindMute
	}
	return KindBan
}

// Lifts reports whether the command removes a sanction.
func (c Command) Lifts() bool {
	return c.Verb == VerbUnban || c.Verb == VerbUnmute
}

// ParseCommand parses a rendered command line of the form
//
//	ban|mute <author> [duration] [reason...]
//	unban|unmute <author>
//
// Durations use time.ParseDuration syntax plus a "d" suffix for days. Any
// other verb yields ErrNotBuiltin.
func ParseCommand(line string) (Command, error) {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("action: empty command")
	}

	verb := strings.ToLower(fields[0])
	switch verb {
	case VerbBan, VerbMute, VerbUnban, VerbUnmute:
	default:
		return Command{}, fmt.Errorf("action: %q: %w", verb, ErrNotBuiltin)
	}
	if len(fields) < 2 {
		return Command{}, fmt.Errorf("action: %s: missing author", verb)
	}

	cmd := Command{Verb: verb, Author: fields[1]}
	if cmd.Lifts() {
		return cmd, nil
	}

	rest := fields[2:]
	if len(rest) > 0 {
		if d, err := parseDuration(rest[0]); err == nil {
			if d < 0 {
				return Command{}, fmt.Errorf("action: %s: negative duration %q", verb, rest[0])
			}
			cmd.Duration = d
			rest = rest[1:]
		}
	}
	cmd.Reason = strings.Join(rest, " ")
	return cmd, nil
}

func parseDuration(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
