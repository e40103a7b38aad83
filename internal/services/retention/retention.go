// Package retention sweeps finished campaigns out of storage on a cron
// schedule so history stays bounded.
package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "mailerbot/pkg/logx"
)

const (
	defaultSchedule = "@daily"
	defaultMaxAge   = 90 * 24 * time.Hour
	sweepTimeout    = time.Minute
)

// Pruner is the storage slice the sweep needs. Only campaigns in a
// terminal state are eligible.
type Pruner interface {
	PruneCampaigns(ctx context.Context, cutoff time.Time) (int64, error)
}

type Config struct {
	Schedule string        // cron spec or descriptor such as @daily
	MaxAge   time.Duration // campaigns older than this are removed
}

type Service struct {
	mu sync.Mutex

	log    logx.Logger
	cfg    Config
	store  Pruner
	parser cron.Parser
	c      *cron.Cron
}

func New(cfg Config, store Pruner, log logx.Logger) *Service {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		log:    log,
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Apply adopts a reloaded config. A schedule change restarts the cron.
func (s *Service) Apply(cfg Config) error {
	if cfg.Schedule == "" {
		cfg.Schedule = defaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = defaultMaxAge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restart := s.c != nil && cfg.Schedule != s.cfg.Schedule
	s.cfg = cfg
	if !restart {
		return nil
	}
	s.stopLocked()
	return s.startLocked()
}

func (s *Service) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("retention: already started")
	}
	return s.startLocked()
}

func (s *Service) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Service) startLocked() error {
	c := cron.New(cron.WithParser(s.parser))
	if _, err := c.AddFunc(s.cfg.Schedule, s.sweep); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("retention started", logx.String("schedule", s.cfg.Schedule), logx.Duration("max_age", s.cfg.MaxAge))
	return nil
}

func (s *Service) stopLocked() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
}

func (s *Service) sweep() {
	s.mu.Lock()
	maxAge := s.cfg.MaxAge
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	cutoff := time.Now().Add(-maxAge)
	n, err := s.store.PruneCampaigns(ctx, cutoff)
	if err != nil {
		s.log.Error("retention sweep", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("retention sweep", logx.Int64("removed", n), logx.Time("cutoff", cutoff))
	}
}
