package moderation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/whisper/chat-filter/internal/violation"
)

// Decision is what the collaborator should do with a message.
type Decision string

const (
	DecisionAllow    Decision = "allow"    // deliver the message
	DecisionBlock    Decision = "block"    // matched, no punishment configured
	DecisionEscalate Decision = "escalate" // matched, apply the stage's actions
)

// Reason explains how the pipeline reached its decision.
type Reason string

const (
	ReasonDisabled Reason = "disabled"
	ReasonExcluded Reason = "excluded"
	ReasonClean    Reason = "clean"
	ReasonMatched  Reason = "matched"
)

// Outcome is the result of evaluating one message.
type Outcome struct {
	ID       uuid.UUID `json:"id"`
	Author   string    `json:"author"`
	Message  string    `json:"message"`
	Decision Decision  `json:"decision"`
	Reason   Reason    `json:"reason"`
	Pattern  string    `json:"pattern,omitempty"`
	Count    int       `json:"count,omitempty"`
	Stage    int       `json:"stage,omitempty"`
	Warning  string    `json:"warning,omitempty"`
	Commands []string  `json:"commands,omitempty"`
	At       time.Time `json:"at"`
}

// Matched reports whether the message hit a forbidden pattern.
func (o Outcome) Matched() bool { return o.Reason == ReasonMatched }

// Incident converts a matched outcome into a history record.
func (o Outcome) Incident() violation.Incident {
	return violation.Incident{
		ID:       o.ID,
		Author:   o.Author,
		Pattern:  o.Pattern,
		Message:  o.Message,
		Count:    o.Count,
		Stage:    o.Stage,
		Commands: o.Commands,
		At:       o.At,
	}
}

// PipelineConfig is the initial state of a Pipeline. Store, History and
// Excluder are created empty when nil.
type PipelineConfig struct {
	Patterns PatternSet
	Stages   StageTable
	Enabled  bool
	Excluder Excluder
	Store    *violation.Store
	History  *violation.History
	Logger   *slog.Logger
	MaxNodes int
	Clock    func() time.Time
}

// Pipeline evaluates messages against the current matcher and stage table.
// Evaluate and every administrative method are safe to call concurrently.
type Pipeline struct {
	// mu serializes matcher rebuilds. Evaluate never takes it.
	mu      sync.Mutex
	matcher atomic.Pointer[Matcher]
	stages  atomic.Pointer[StageTable]
	enabled atomic.Bool

	excluder  Excluder
	store     *violation.Store
	history   *violation.History
	logger    *slog.Logger
	buildOpts []BuildOption
	now       func() time.Time
}

// NewPipeline compiles the initial matcher and returns a ready pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	p := &Pipeline{
		excluder: cfg.Excluder,
		store:    cfg.Store,
		history:  cfg.History,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if p.excluder == nil {
		p.excluder = NewExclusionList()
	}
	if p.store == nil {
		p.store = violation.NewStore()
	}
	if p.history == nil {
		p.history = violation.NewHistory()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline")
	if p.now == nil {
		p.now = time.Now
	}
	if cfg.MaxNodes > 0 {
		p.buildOpts = append(p.buildOpts, WithMaxNodes(cfg.MaxNodes))
	}

	m, err := CompileMatcher(cfg.Patterns, p.buildOpts...)
	if err != nil {
		return nil, fmt.Errorf("moderation: build matcher: %w", err)
	}
	p.install(m)

	stages := cfg.Stages
	p.stages.Store(&stages)
	p.enabled.Store(cfg.Enabled)
	return p, nil
}

func (p *Pipeline) install(m *Matcher) {
	p.matcher.Store(m)
	if deg := m.Degraded(); len(deg) > 0 {
		p.logger.Warn("regex mode disabled, using literal matching",
			"invalid", len(deg), "err", errors.Join(deg...))
	}
	p.logger.Debug("matcher installed",
		"patterns", m.Set().Len(), "nodes", m.automaton.Nodes(), "regex", m.RegexActive())
}

// Evaluate runs one message through the pipeline. The only error is
// violation.ErrInvalidAuthor for an author rejected by
// violation.ValidateAuthor; nothing is counted or rendered for it.
func (p *Pipeline) Evaluate(author, message string) (Outcome, error) {
	if err := violation.ValidateAuthor(author); err != nil {
		return Outcome{}, err
	}

	out := Outcome{Author: author, Message: message, Decision: DecisionAllow}
	if !p.enabled.Load() {
		out.Reason = ReasonDisabled
		return out, nil
	}
	if p.excluder.IsExcluded(author) {
		out.Reason = ReasonExcluded
		return out, nil
	}

	pattern, ok := p.matcher.Load().FindFirst(message)
	if !ok {
		out.Reason = ReasonClean
		return out, nil
	}

	count, err := p.store.Increment(author)
	if err != nil {
		return Outcome{}, err
	}

	out.ID = uuid.New()
	out.At = p.now()
	out.Reason = ReasonMatched
	out.Decision = DecisionBlock
	out.Pattern = pattern
	out.Count = count

	stages := p.stages.Load()
	if out.Stage = ResolveStage(count, *stages); out.Stage > 0 {
		stage, _ := stages.Lookup(out.Stage)
		vars := TemplateVars{Author: author, Count: count, Pattern: pattern, Message: message}
		out.Warning = RenderWarning(stage.Warning, vars)
		out.Commands = RenderCommands(stage.Commands, vars)
		out.Decision = DecisionEscalate
	}

	p.history.Add(out.Incident())
	p.logger.Info("violation",
		"author", author, "message", message, "word", pattern, "count", count, "stage", out.Stage)
	return out, nil
}

// Test reports the pattern message would match, without counting anything.
func (p *Pipeline) Test(message string) (string, bool) {
	return p.matcher.Load().FindFirst(message)
}

// Matches returns every match in message, without counting anything.
func (p *Pipeline) Matches(message string) []Match {
	return p.matcher.Load().FindAll(message)
}

// AddPattern adds a pattern and rebuilds the matcher. It returns false when
// the pattern is blank or already present.
func (p *Pipeline) AddPattern(pattern string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, changed := p.matcher.Load().Set().With(pattern)
	if !changed {
		return false, nil
	}
	return true, p.rebuildLocked(set)
}

// RemovePattern removes a pattern and rebuilds the matcher. It returns false
// when the pattern was not present.
func (p *Pipeline) RemovePattern(pattern string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, changed := p.matcher.Load().Set().Without(pattern)
	if !changed {
		return false, nil
	}
	return true, p.rebuildLocked(set)
}

// ReplacePatterns installs a whole new pattern set, flags included.
func (p *Pipeline) ReplacePatterns(set PatternSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rebuildLocked(set)
}

// rebuildLocked compiles set and swaps it in. On failure the current
// matcher stays active.
func (p *Pipeline) rebuildLocked(set PatternSet) error {
	m, err := CompileMatcher(set, p.buildOpts...)
	if err != nil {
		p.logger.Error("matcher rebuild failed, keeping previous", "patterns", set.Len(), "err", err)
		return fmt.Errorf("moderation: rebuild matcher: %w", err)
	}
	p.install(m)
	return nil
}

// Patterns returns the current patterns in insertion order.
func (p *Pipeline) Patterns() []string {
	return p.matcher.Load().Set().Patterns()
}

// PatternSet returns the set the current matcher was built from.
func (p *Pipeline) PatternSet() PatternSet {
	return p.matcher.Load().Set()
}

// Degraded returns the regex errors that forced the current matcher into
// literal mode, if any.
func (p *Pipeline) Degraded() []error {
	return p.matcher.Load().Degraded()
}

func (p *Pipeline) SetStages(t StageTable) { p.stages.Store(&t) }

func (p *Pipeline) Stages() StageTable { return *p.stages.Load() }

func (p *Pipeline) SetEnabled(enabled bool) { p.enabled.Store(enabled) }

func (p *Pipeline) Enabled() bool { return p.enabled.Load() }

// ViolationCount returns author's current count.
func (p *Pipeline) ViolationCount(author string) int {
	return p.store.Get(author)
}

// Violations returns a copy of every author's count.
func (p *Pipeline) Violations() map[string]int {
	return p.store.Snapshot()
}

// History returns author's most recent incidents, oldest first.
func (p *Pipeline) History(author string) []violation.Incident {
	return p.history.Get(author)
}

// ResetViolations clears one author's count and history and returns the
// count it held.
func (p *Pipeline) ResetViolations(author string) (int, error) {
	if err := violation.ValidateAuthor(author); err != nil {
		return 0, err
	}
	n := p.store.ResetOne(author)
	p.history.Remove(author)
	p.logger.Info("violations reset", "author", author, "previous", n)
	return n, nil
}

// ResetAllViolations clears every count and returns the number of authors
// that had one.
func (p *Pipeline) ResetAllViolations() int {
	n := p.store.ResetAll()
	p.history.Clear()
	p.logger.Info("all violations reset", "authors", n)
	return n
}

// CheckAndRollover performs the daily reset when now is on a new day.
func (p *Pipeline) CheckAndRollover(now time.Time) (int, bool) {
	n, ok := p.store.CheckAndRollover(now)
	if ok {
		p.history.Clear()
	}
	return n, ok
}

// Stats is a point-in-time summary of the pipeline.
type Stats struct {
	Enabled         bool   `json:"enabled"`
	Patterns        int    `json:"patterns"`
	RegexMode       bool   `json:"regex_mode"`
	CaseSensitive   bool   `json:"case_sensitive"`
	Excluded        int    `json:"excluded"`
	Authors         int    `json:"authors"`
	TotalViolations int    `json:"total_violations"`
	LastReset       string `json:"last_reset"`
	Stages          []int  `json:"stages"`
}

func (p *Pipeline) Stats() Stats {
	m := p.matcher.Load()
	st := Stats{
		Enabled:         p.enabled.Load(),
		Patterns:        m.Set().Len(),
		RegexMode:       m.RegexActive(),
		CaseSensitive:   m.Set().CaseSensitive(),
		Authors:         p.store.Authors(),
		TotalViolations: p.store.Total(),
		LastReset:       p.store.LastReset(),
		Stages:          p.stages.Load().Numbers(),
	}
	if l, ok := p.excluder.(interface{ Len() int }); ok {
		st.Excluded = l.Len()
	}
	return st
}
