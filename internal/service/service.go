// Package service assembles the moderation pipeline with its collaborators:
// configuration files, the sanction store, the punishment executor, the
// audit log and the snapshot store. It consumes check requests, publishes
// results and implements the admin backend.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/chat-filter/internal/action"
	"github.com/whisper/chat-filter/internal/admin"
	"github.com/whisper/chat-filter/internal/config"
	"github.com/whisper/chat-filter/internal/metrics"
	"github.com/whisper/chat-filter/internal/moderation"
	"github.com/whisper/chat-filter/internal/violation"
)

const (
	// DefaultSnapshotInterval is how often violation counts are persisted.
	DefaultSnapshotInterval = time.Minute
	// DefaultSanctionTimeout bounds the sanction lookup made for every message.
	DefaultSanctionTimeout = 250 * time.Millisecond
	// DefaultCommandTimeout bounds one batch of punishment commands.
	DefaultCommandTimeout = 5 * time.Second

	DefaultPunishWorkers   = 4
	DefaultPunishQueueSize = 1024
)

// Publisher delivers results and reset events. *messaging.NATSClient
// satisfies it.
type Publisher interface {
	PublishModerationResult(author string, data []byte) error
	PublishReset(data []byte) error
}

// Sanctions reports whether an author is currently banned or muted.
type Sanctions interface {
	Blocking(ctx context.Context, author string) (action.Sanction, bool, error)
}

// Executor runs rendered punishment commands.
type Executor interface {
	Execute(ctx context.Context, author string, commands []string) (action.Report, error)
}

// Snapshotter persists violation counts across restarts.
type Snapshotter interface {
	Persist(ctx context.Context, s *violation.Store) error
	Load(ctx context.Context, date string) (map[string]int, error)
}

// AuditQueue accepts incidents for the audit log.
type AuditQueue interface {
	Enqueue(inc violation.Incident) bool
}

// Config wires a Service. Only Dir and Publisher are required.
type Config struct {
	Dir              string
	Publisher        Publisher
	Sanctions        Sanctions
	Executor         Executor
	Snapshots        Snapshotter
	Audit            AuditQueue
	Logger           *slog.Logger
	SnapshotInterval time.Duration
	SanctionTimeout  time.Duration
	CommandTimeout   time.Duration
	// PunishWorkers commands run concurrently; one author's commands always
	// go to the same worker and run in order.
	PunishWorkers   int
	PunishQueueSize int
	MaxNodes        int
	Clock           func() time.Time
}

// ResetEvent is published on moderation.reset whenever counts are cleared.
type ResetEvent struct {
	Kind    string `json:"kind"` // author | all | daily
	Author  string `json:"author,omitempty"`
	Cleared int    `json:"cleared"`
	Ts      int64  `json:"ts"`
}

// Service is the running moderator.
type Service struct {
	dir       string
	pub       Publisher
	sanctions Sanctions
	exec      Executor
	snapshots Snapshotter
	audit     AuditQueue
	logger    *slog.Logger
	now       func() time.Time

	pipeline   *moderation.Pipeline
	store      *violation.Store
	exclusions *moderation.ExclusionList

	rolloverInterval time.Duration
	snapshotInterval time.Duration
	sanctionTimeout  time.Duration
	commandTimeout   time.Duration

	// punishQ holds one queue per punishment worker, picked by author hash.
	punishQ []chan punishment

	// adminMu serializes edits that are persisted back to the config files.
	adminMu sync.Mutex
	// persistMu orders snapshot reads with their saves, so an older
	// snapshot never overwrites a newer one.
	persistMu sync.Mutex
}

type punishment struct {
	author   string
	stage    int
	commands []string
}

// New loads and validates the configuration in cfg.Dir and builds the
// pipeline. Configuration errors are fatal; warnings are logged.
func New(cfg Config) (*Service, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("service: publisher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	conf, _, err := loadValid(cfg.Dir, logger)
	if err != nil {
		return nil, err
	}
	loc, err := conf.Location()
	if err != nil {
		return nil, err
	}
	interval, err := conf.RolloverInterval()
	if err != nil {
		return nil, err
	}
	table, err := conf.StageTable()
	if err != nil {
		return nil, err
	}

	s := &Service{
		dir:              cfg.Dir,
		pub:              cfg.Publisher,
		sanctions:        cfg.Sanctions,
		exec:             cfg.Executor,
		snapshots:        cfg.Snapshots,
		audit:            cfg.Audit,
		logger:           logger.With("component", "service"),
		now:              now,
		store:            violation.NewStore(violation.WithLocation(loc), violation.WithClock(now)),
		exclusions:       moderation.NewExclusionList(conf.Blacklist...),
		rolloverInterval: interval,
		snapshotInterval: orDefault(cfg.SnapshotInterval, DefaultSnapshotInterval),
		sanctionTimeout:  orDefault(cfg.SanctionTimeout, DefaultSanctionTimeout),
		commandTimeout:   orDefault(cfg.CommandTimeout, DefaultCommandTimeout),
	}

	workers := cfg.PunishWorkers
	if workers <= 0 {
		workers = DefaultPunishWorkers
	}
	size := cfg.PunishQueueSize
	if size <= 0 {
		size = DefaultPunishQueueSize
	}
	s.punishQ = make([]chan punishment, workers)
	for i := range s.punishQ {
		s.punishQ[i] = make(chan punishment, max(1, size/workers))
	}

	s.pipeline, err = moderation.NewPipeline(moderation.PipelineConfig{
		Patterns: conf.PatternSet(),
		Stages:   table,
		Enabled:  conf.IsEnabled(),
		Excluder: s.exclusions,
		Store:    s.store,
		Logger:   logger,
		MaxNodes: cfg.MaxNodes,
		Clock:    now,
	})
	if err != nil {
		return nil, err
	}
	metrics.Patterns.Set(float64(len(s.pipeline.Patterns())))

	s.logger.Info("moderator ready",
		"patterns", len(s.pipeline.Patterns()),
		"excluded", s.exclusions.Len(),
		"stages", table.Numbers(),
		"enabled", conf.IsEnabled(),
		"regex", s.pipeline.PatternSet().RegexMode(),
	)
	return s, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func loadValid(dir string, logger *slog.Logger) (*config.Config, config.ValidationResult, error) {
	conf, err := config.Load(dir)
	if err != nil {
		return nil, config.ValidationResult{}, err
	}
	res := conf.Validate()
	for _, w := range res.Warnings {
		logger.Warn("config warning", "detail", w)
	}
	if !res.Valid() {
		return nil, res, &InvalidConfigError{Result: res}
	}
	return conf, res, nil
}

// InvalidConfigError carries the validation errors that made a
// configuration unusable.
type InvalidConfigError struct {
	Result config.ValidationResult
}

func (e *InvalidConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Result.Errors, "; ")
}

// Pipeline exposes the underlying pipeline.
func (s *Service) Pipeline() *moderation.Pipeline { return s.pipeline }

// HandleCheck processes one moderation.check payload. Requests that cannot
// be decoded or carry an invalid author are dropped with an error; every
// other request gets a result. Punishment commands are queued for the
// workers started by Run, so a slow command never delays the next check.
func (s *Service) HandleCheck(ctx context.Context, data []byte) error {
	start := time.Now()
	defer func() { metrics.EvaluateLatency.Observe(time.Since(start).Seconds()) }()

	var req moderation.ModerationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		return fmt.Errorf("service: decode request: %w", err)
	}

	if err := req.Validate(); err != nil {
		metrics.MessagesTotal.WithLabelValues("invalid").Inc()
		s.logger.Debug("invalid request", "author", req.Author, "err", err)
		if errors.Is(err, violation.ErrInvalidAuthor) {
			return fmt.Errorf("service: %w", err)
		}
		return s.publish(moderation.InvalidResult(req, err))
	}

	if sn, ok := s.sanctioned(ctx, req.Author); ok {
		metrics.SanctionedTotal.Inc()
		metrics.MessagesTotal.WithLabelValues(string(moderation.DecisionBlock)).Inc()
		return s.publish(moderation.SanctionedResult(req, string(sn.Kind)))
	}

	out, err := s.pipeline.Evaluate(req.Author, req.Text)
	if err != nil {
		return err
	}
	metrics.MessagesTotal.WithLabelValues(string(out.Decision)).Inc()

	pubErr := s.publish(moderation.NewResult(req, out))
	if !out.Matched() {
		return pubErr
	}

	metrics.TrackedAuthors.Set(float64(s.store.Authors()))
	if s.audit != nil {
		s.audit.Enqueue(out.Incident())
	}
	if out.Stage > 0 {
		metrics.EscalationsTotal.WithLabelValues(strconv.Itoa(out.Stage)).Inc()
		s.punish(out)
	}
	return pubErr
}

// sanctioned fails open: a sanction store error lets the message through to
// normal evaluation.
func (s *Service) sanctioned(ctx context.Context, author string) (action.Sanction, bool) {
	if s.sanctions == nil {
		return action.Sanction{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, s.sanctionTimeout)
	defer cancel()
	sn, ok, err := s.sanctions.Blocking(ctx, author)
	if err != nil {
		s.logger.Warn("sanction lookup failed", "author", author, "err", err)
		return action.Sanction{}, false
	}
	return sn, ok
}

// punish queues the outcome's commands without blocking. A full queue drops
// them.
func (s *Service) punish(out moderation.Outcome) {
	if s.exec == nil || len(out.Commands) == 0 {
		return
	}
	q := s.punishQ[xxhash.Sum64String(out.Author)%uint64(len(s.punishQ))]
	select {
	case q <- punishment{author: out.Author, stage: out.Stage, commands: out.Commands}:
	default:
		metrics.CommandsTotal.WithLabelValues("dropped").Add(float64(len(out.Commands)))
		s.logger.Error("punishment queue full, dropping commands",
			"author", out.Author, "stage", out.Stage, "commands", len(out.Commands))
	}
}

// runPunisher executes queued punishments until ctx is cancelled, then
// runs whatever is still queued.
func (s *Service) runPunisher(ctx context.Context, q chan punishment) {
	for {
		select {
		case p := <-q:
			s.execute(ctx, p)
		case <-ctx.Done():
			for {
				select {
				case p := <-q:
					s.execute(context.Background(), p)
				default:
					return
				}
			}
		}
	}
}

func (s *Service) execute(ctx context.Context, p punishment) {
	ctx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	rep, err := s.exec.Execute(ctx, p.author, p.commands)
	metrics.CommandsTotal.WithLabelValues("applied").Add(float64(rep.Applied))
	metrics.CommandsTotal.WithLabelValues("forwarded").Add(float64(rep.Forwarded))
	metrics.CommandsTotal.WithLabelValues("failed").Add(float64(rep.Failed))
	if err != nil {
		s.logger.Error("punishment incomplete", "author", p.author, "stage", p.stage, "err", err)
	}
}

func (s *Service) publish(res moderation.ModerationResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("service: encode result: %w", err)
	}
	if err := s.pub.PublishModerationResult(res.Author, data); err != nil {
		return fmt.Errorf("service: publish result: %w", err)
	}
	return nil
}

func (s *Service) publishReset(kind, author string, cleared int) {
	metrics.ResetsTotal.WithLabelValues(kind).Inc()
	metrics.TrackedAuthors.Set(float64(s.store.Authors()))

	data, err := json.Marshal(ResetEvent{Kind: kind, Author: author, Cleared: cleared, Ts: s.now().UnixMilli()})
	if err != nil {
		s.logger.Error("encode reset event", "err", err)
		return
	}
	if err := s.pub.PublishReset(data); err != nil {
		s.logger.Warn("publish reset event", "kind", kind, "err", err)
	}
}

// Restore loads today's persisted counts, if any.
func (s *Service) Restore(ctx context.Context) error {
	if s.snapshots == nil {
		return nil
	}
	date := s.store.LastReset()
	counts, err := s.snapshots.Load(ctx, date)
	if err != nil {
		return err
	}
	if n, ok := s.store.Restore(date, counts); ok && n > 0 {
		s.logger.Info("violations restored", "date", date, "authors", n)
		metrics.TrackedAuthors.Set(float64(s.store.Authors()))
	}
	return nil
}

func (s *Service) persist(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.snapshots.Persist(ctx, s.store); err != nil {
		s.logger.Warn("snapshot save failed", "err", err)
	}
}

// Run drives the background loops (daily rollover, snapshot saving and the
// punishment workers) until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if s.exec != nil {
		for _, q := range s.punishQ {
			g.Go(func() error {
				s.runPunisher(ctx, q)
				return nil
			})
		}
	}

	g.Go(func() error {
		violation.StartRollover(ctx, s.pipeline, s.rolloverInterval, s.now, s.logger, func(cleared int) {
			s.publishReset("daily", "", cleared)
			s.persist(ctx)
		})
		return nil
	})

	if s.snapshots != nil {
		g.Go(func() error {
			ticker := time.NewTicker(s.snapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					s.persist(final)
					cancel()
					return nil
				case <-ticker.C:
					s.persist(ctx)
				}
			}
		})
	}

	return g.Wait()
}

// ---------------------------------------------------------------------------
// admin.Backend
// ---------------------------------------------------------------------------

var _ admin.Backend = (*Service)(nil)

func (s *Service) AddPattern(pattern string) (bool, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	changed, err := s.pipeline.AddPattern(pattern)
	return changed, s.afterPatternEdit(changed, err)
}

func (s *Service) RemovePattern(pattern string) (bool, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	changed, err := s.pipeline.RemovePattern(pattern)
	return changed, s.afterPatternEdit(changed, err)
}

func (s *Service) afterPatternEdit(changed bool, err error) error {
	if err != nil {
		metrics.RebuildsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if !changed {
		return nil
	}
	metrics.RebuildsTotal.WithLabelValues("ok").Inc()
	patterns := s.pipeline.Patterns()
	metrics.Patterns.Set(float64(len(patterns)))
	if err := config.SaveWords(s.dir, patterns); err != nil {
		return fmt.Errorf("service: save words: %w", err)
	}
	return nil
}

func (s *Service) Patterns() []string { return s.pipeline.Patterns() }

func (s *Service) AddExclusion(author string) (bool, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	return s.afterExclusionEdit(s.exclusions.Add(author))
}

func (s *Service) RemoveExclusion(author string) (bool, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()
	return s.afterExclusionEdit(s.exclusions.Remove(author))
}

func (s *Service) afterExclusionEdit(changed bool) (bool, error) {
	if !changed {
		return false, nil
	}
	if err := config.SaveBlacklist(s.dir, s.exclusions.List()); err != nil {
		return true, fmt.Errorf("service: save blacklist: %w", err)
	}
	return true, nil
}

func (s *Service) Exclusions() []string { return s.exclusions.List() }

func (s *Service) Matches(message string) []moderation.Match { return s.pipeline.Matches(message) }

func (s *Service) ViolationCount(author string) int { return s.pipeline.ViolationCount(author) }

func (s *Service) Violations() map[string]int { return s.pipeline.Violations() }

func (s *Service) History(author string) []violation.Incident { return s.pipeline.History(author) }

func (s *Service) ResetViolations(ctx context.Context, author string) (int, error) {
	n, err := s.pipeline.ResetViolations(author)
	if err != nil {
		return 0, err
	}
	s.publishReset("author", author, n)
	s.persist(ctx)
	return n, nil
}

func (s *Service) ResetAllViolations(ctx context.Context) int {
	n := s.pipeline.ResetAllViolations()
	s.publishReset("all", "", n)
	s.persist(ctx)
	return n
}

func (s *Service) Stats() moderation.Stats { return s.pipeline.Stats() }

func (s *Service) SetEnabled(enabled bool) {
	s.pipeline.SetEnabled(enabled)
	s.logger.Info("moderation toggled", "enabled", enabled)
}

// Reload re-reads the configuration files and applies them. An invalid
// configuration is rejected as a whole and the running state is kept.
func (s *Service) Reload(_ context.Context) (admin.ReloadReport, error) {
	s.adminMu.Lock()
	defer s.adminMu.Unlock()

	conf, res, err := loadValid(s.dir, s.logger)
	if err != nil {
		return admin.ReloadReport{}, err
	}
	table, err := conf.StageTable()
	if err != nil {
		return admin.ReloadReport{}, err
	}

	if err := s.pipeline.ReplacePatterns(conf.PatternSet()); err != nil {
		metrics.RebuildsTotal.WithLabelValues("failed").Inc()
		return admin.ReloadReport{}, err
	}
	metrics.RebuildsTotal.WithLabelValues("ok").Inc()

	s.pipeline.SetStages(table)
	s.exclusions.Replace(conf.Blacklist)
	s.pipeline.SetEnabled(conf.IsEnabled())

	patterns := len(s.pipeline.Patterns())
	metrics.Patterns.Set(float64(patterns))
	s.logger.Info("configuration reloaded", "patterns", patterns, "excluded", s.exclusions.Len(), "warnings", len(res.Warnings))

	return admin.ReloadReport{Patterns: patterns, Warnings: res.Warnings}, nil
}
