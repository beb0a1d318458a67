package admin

import (
	"context"
	"fmt"
	"strings"

	"github.com/whisper/chat-filter/internal/moderation"
	"github.com/whisper/chat-filter/internal/protocol"
	"github.com/whisper/chat-filter/internal/violation"
)

// ReloadReport summarizes a configuration reload.
type ReloadReport struct {
	Patterns int
	Warnings []string
}

// Backend is the moderator state the default handlers operate on.
type Backend interface {
	AddPattern(pattern string) (bool, error)
	RemovePattern(pattern string) (bool, error)
	Patterns() []string

	AddExclusion(author string) (bool, error)
	RemoveExclusion(author string) (bool, error)
	Exclusions() []string

	Matches(message string) []moderation.Match
	ViolationCount(author string) int
	Violations() map[string]int
	ResetViolations(ctx context.Context, author string) (int, error)
	ResetAllViolations(ctx context.Context) int
	History(author string) []violation.Incident

	Stats() moderation.Stats
	Reload(ctx context.Context) (ReloadReport, error)
	SetEnabled(enabled bool)
}

// RegisterDefaults registers a handler for every admin request type.
func RegisterDefaults(d *Dispatcher, b Backend, version string) {
	d.Register(protocol.TypeAddPattern, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		m := msg.(protocol.PatternMsg)
		p, err := requireField("pattern", m.Pattern)
		if err != nil {
			return "", nil, err
		}
		changed, err := b.AddPattern(p)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypePatternChanged, protocol.PatternChangedMsg{
			Pattern: p, Changed: changed, Patterns: len(b.Patterns()),
		}, nil
	})

	d.Register(protocol.TypeRemovePattern, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		m := msg.(protocol.PatternMsg)
		p, err := requireField("pattern", m.Pattern)
		if err != nil {
			return "", nil, err
		}
		changed, err := b.RemovePattern(p)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypePatternChanged, protocol.PatternChangedMsg{
			Pattern: p, Changed: changed, Patterns: len(b.Patterns()),
		}, nil
	})

	d.Register(protocol.TypeListPatterns, func(context.Context, interface{}) (string, interface{}, error) {
		return protocol.TypePatterns, protocol.PatternsMsg{Patterns: nonNil(b.Patterns())}, nil
	})

	d.Register(protocol.TypeAddExclusion, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		author, err := requireField("author", msg.(protocol.AuthorMsg).Author)
		if err != nil {
			return "", nil, err
		}
		changed, err := b.AddExclusion(author)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypeExclusionChanged, protocol.ExclusionChangedMsg{Author: author, Changed: changed}, nil
	})

	d.Register(protocol.TypeRemoveExclusion, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		author, err := requireField("author", msg.(protocol.AuthorMsg).Author)
		if err != nil {
			return "", nil, err
		}
		changed, err := b.RemoveExclusion(author)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypeExclusionChanged, protocol.ExclusionChangedMsg{Author: author, Changed: changed}, nil
	})

	d.Register(protocol.TypeListExclusions, func(context.Context, interface{}) (string, interface{}, error) {
		return protocol.TypeExclusions, protocol.ExclusionsMsg{Authors: nonNil(b.Exclusions())}, nil
	})

	d.Register(protocol.TypeTest, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		m := msg.(protocol.TestMsg)
		res := protocol.TestResultMsg{Message: m.Message, Matches: b.Matches(m.Message)}
		if len(res.Matches) > 0 {
			res.Matched = true
			res.Pattern = res.Matches[0].Pattern
		}
		return protocol.TypeTestResult, res, nil
	})

	d.Register(protocol.TypeViolations, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		author := strings.TrimSpace(msg.(protocol.AuthorMsg).Author)
		if author == "" {
			counts := b.Violations()
			total := 0
			for _, n := range counts {
				total += n
			}
			return protocol.TypeViolationCounts, protocol.ViolationCountsMsg{Count: total, Counts: counts}, nil
		}
		return protocol.TypeViolationCounts, protocol.ViolationCountsMsg{
			Author: author, Count: b.ViolationCount(author),
		}, nil
	})

	d.Register(protocol.TypeResetViolations, func(ctx context.Context, msg interface{}) (string, interface{}, error) {
		author := strings.TrimSpace(msg.(protocol.AuthorMsg).Author)
		if author == "" {
			n := b.ResetAllViolations(ctx)
			return protocol.TypeViolationsReset, protocol.ViolationsResetMsg{Previous: n}, nil
		}
		n, err := b.ResetViolations(ctx, author)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypeViolationsReset, protocol.ViolationsResetMsg{Author: author, Previous: n}, nil
	})

	d.Register(protocol.TypeHistory, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		author, err := requireField("author", msg.(protocol.AuthorMsg).Author)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypeHistoryResult, protocol.HistoryMsg{Author: author, Incidents: b.History(author)}, nil
	})

	d.Register(protocol.TypeStats, func(context.Context, interface{}) (string, interface{}, error) {
		return protocol.TypeStatsResult, protocol.StatsMsg{Stats: b.Stats(), Version: version}, nil
	})

	d.Register(protocol.TypeReload, func(ctx context.Context, _ interface{}) (string, interface{}, error) {
		rep, err := b.Reload(ctx)
		if err != nil {
			return "", nil, err
		}
		return protocol.TypeReloaded, protocol.ReloadedMsg{
			Patterns: rep.Patterns, Warnings: rep.Warnings,
		}, nil
	})

	d.Register(protocol.TypeSetEnabled, func(_ context.Context, msg interface{}) (string, interface{}, error) {
		enabled := msg.(protocol.SetEnabledMsg).Enabled
		b.SetEnabled(enabled)
		return protocol.TypeEnabled, protocol.EnabledMsg{Enabled: enabled}, nil
	})
}

func requireField(name, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	return v, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
