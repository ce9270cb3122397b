// Package sweeper periodically expires overdue transfers.
package sweeper

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/user/handoff/internal/metrics"
	"github.com/user/handoff/internal/transfer"
	"github.com/user/handoff/internal/types"
)

// DefaultSchedule is used when Config.Schedule is empty.
const DefaultSchedule = "@every 5m"

// Expirer is the part of the queue the sweeper drives.
type Expirer interface {
	ExpirationCandidates(now time.Time) []types.TransferID
	Expire(id types.TransferID) (transfer.Result, error)
}

type Config struct {
	Enabled  bool
	Schedule string
}

// Report summarizes one sweep.
type Report struct {
	Candidates    int
	Expired       int
	PersistErrors int
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule parses spec the way Start does. An empty spec is
// DefaultSchedule.
func ParseSchedule(spec string) (cron.Schedule, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	return cronParser.Parse(spec)
}

// Sweeper expires every transfer whose deadline has passed, on a cron
// schedule. A disabled Sweeper never transitions anything.
type Sweeper struct {
	queue   Expirer
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Collector

	mu   sync.Mutex
	cron *cron.Cron
}

type Option func(*Sweeper)

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Sweeper) { s.log = l }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(s *Sweeper) { s.metrics = c }
}

func New(queue Expirer, cfg Config, opts ...Option) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	s := &Sweeper{
		queue: queue,
		cfg:   cfg,
		now:   time.Now,
		log:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the sweeper is allowed to expire transfers.
func (s *Sweeper) Enabled() bool {
	return s.cfg.Enabled
}

// RunOnce expires every overdue transfer. Each candidate is re-checked under
// the store lock, so a transfer consumed after listing is left alone.
func (s *Sweeper) RunOnce() Report {
	var rep Report
	if !s.cfg.Enabled {
		return rep
	}

	start := time.Now()
	ids := s.queue.ExpirationCandidates(s.now())
	rep.Candidates = len(ids)
	for _, id := range ids {
		res, err := s.queue.Expire(id)
		if res.Applied {
			rep.Expired++
		}
		if errors.Is(err, transfer.ErrPersist) {
			rep.PersistErrors++
		}
	}
	s.metrics.RecordSweep(rep.Expired, time.Since(start))

	if rep.Candidates > 0 {
		s.log.Info("expiration sweep finished",
			"candidates", rep.Candidates,
			"expired", rep.Expired,
			"persist_errors", rep.PersistErrors,
		)
	}
	return rep
}

// Start registers RunOnce on the configured schedule and starts the cron
// ticker. It is a no-op when the sweeper is disabled.
func (s *Sweeper) Start() error {
	if !s.cfg.Enabled {
		s.log.Debug("expiration sweeper disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.RunOnce() }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("expiration sweeper started", "schedule", s.cfg.Schedule)
	return nil
}

// Stop stops the cron ticker and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
}
