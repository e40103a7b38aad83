package mailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mailerbot/internal/runtime/supervisor"
	"mailerbot/internal/storage"
	logx "mailerbot/pkg/logx"
)

const defaultSendDelay = 100 * time.Millisecond

// Config gathers the tunables of the mailing core. Zero values fall back
// to defaults.
type Config struct {
	SendDelay     time.Duration
	ProgressEvery int
	SessionTTL    time.Duration
	PreviewRunes  int
}

// Service ties the selection workflow to the executor. It owns campaign
// creation and the background run; the UI layer only calls its methods.
type Service struct {
	workflow  *Workflow
	executor  *Executor
	campaigns CampaignStore
	sup       *supervisor.Supervisor
	limiter   *rate.Limiter
	log       logx.Logger

	mu       sync.Mutex
	onDone   map[int64]func() // campaign id -> ui cleanup
	finished map[int64]struct{}
}

func New(cfg Config, store *storage.Store, sender Sender, reporter Reporter, sup *supervisor.Supervisor, log logx.Logger) *Service {
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = defaultSendDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	resolver := NewResolver(store)
	limiter := rate.NewLimiter(rate.Every(cfg.SendDelay), 1)
	workflow := NewWorkflow(WorkflowConfig{
		SessionTTL:   cfg.SessionTTL,
		PreviewRunes: cfg.PreviewRunes,
	}, store, store, resolver, log)
	executor := NewExecutor(ExecutorConfig{
		ProgressEvery: cfg.ProgressEvery,
	}, store, store, resolver, sender, limiter, reporter, log)

	return &Service{
		workflow:  workflow,
		executor:  executor,
		campaigns: store,
		sup:       sup,
		limiter:   limiter,
		log:       log,
		onDone:    make(map[int64]func()),
		finished:  make(map[int64]struct{}),
	}
}

// Apply adopts reloaded tunables. Send pacing changes take effect on the
// next limiter wait, including inside a running campaign.
func (s *Service) Apply(cfg Config) {
	if cfg.SendDelay > 0 {
		s.limiter.SetLimit(rate.Every(cfg.SendDelay))
	}
	s.executor.SetProgressEvery(cfg.ProgressEvery)
	s.workflow.Apply(WorkflowConfig{
		SessionTTL:   cfg.SessionTTL,
		PreviewRunes: cfg.PreviewRunes,
	})
}

// Workflow exposes the selection state machine to the UI layer.
func (s *Service) Workflow() *Workflow { return s.workflow }

// Execute turns the operator's confirmed selection into a Campaign and
// starts the run in the background. The returned campaign is the pending
// record; progress arrives through the Reporter.
func (s *Service) Execute(ctx context.Context, operatorID int64) (*storage.Campaign, error) {
	snap, err := s.workflow.beginDispatch(operatorID)
	if err != nil {
		return nil, err
	}

	campaign, err := s.campaigns.CreateCampaign(ctx, snap.templateID, snap.groupIDs, snap.recipients)
	if err != nil {
		// Storage refused the record; drop the session and let the
		// operator restart from /mailing.
		s.workflow.endDispatch(operatorID)
		return nil, fmt.Errorf("create campaign: %w", err)
	}

	name := fmt.Sprintf("campaign:%d", campaign.ID)
	s.sup.Go(name, func(ctx context.Context) error {
		defer s.workflow.endDispatch(operatorID)
		defer s.fireDone(campaign.ID)
		if err := s.executor.Run(ctx, campaign.ID); err != nil {
			s.log.Error("campaign run", logx.Int64("campaign_id", campaign.ID), logx.Err(err))
		}
		// Run errors are terminal for the campaign, not for the process.
		return nil
	})
	return campaign, nil
}

// OnDone registers a one-shot callback fired when the campaign reaches a
// terminal state. Used by the UI to swap the progress message for the
// final summary. Registering after the run already ended fires fn at once.
func (s *Service) OnDone(campaignID int64, fn func()) {
	s.mu.Lock()
	if _, done := s.finished[campaignID]; done {
		delete(s.finished, campaignID)
		s.mu.Unlock()
		fn()
		return
	}
	s.onDone[campaignID] = fn
	s.mu.Unlock()
}

func (s *Service) fireDone(campaignID int64) {
	s.mu.Lock()
	fn := s.onDone[campaignID]
	delete(s.onDone, campaignID)
	if fn == nil {
		s.finished[campaignID] = struct{}{}
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// History returns the most recent campaigns, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]storage.Campaign, error) {
	return s.campaigns.CampaignHistory(ctx, limit)
}

// Details returns one campaign by id.
func (s *Service) Details(ctx context.Context, id int64) (*storage.Campaign, error) {
	return s.campaigns.GetCampaign(ctx, id)
}
