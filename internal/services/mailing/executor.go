package mailing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"mailerbot/internal/storage"
	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
)

const defaultProgressEvery = 10

// ExecutorConfig tunes the send loop.
type ExecutorConfig struct {
	// ProgressEvery emits an intermediate progress snapshot after every
	// Kth processed destination. The final snapshot is unconditional.
	ProgressEvery int
}

// Executor runs one campaign to its terminal state. It is the sole writer
// of campaign status transitions; everything else only reads.
type Executor struct {
	campaigns CampaignStore
	templates TemplateStore
	resolver  *Resolver
	sender    Sender
	limiter   Limiter
	reporter  Reporter
	log       logx.Logger

	progressEvery atomic.Int32
}

func NewExecutor(cfg ExecutorConfig, campaigns CampaignStore, templates TemplateStore, resolver *Resolver, sender Sender, limiter Limiter, reporter Reporter, log logx.Logger) *Executor {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = defaultProgressEvery
	}
	if limiter == nil {
		limiter = NopLimiter()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Executor{
		campaigns: campaigns,
		templates: templates,
		resolver:  resolver,
		sender:    sender,
		limiter:   limiter,
		reporter:  reporter,
		log:       log,
	}
	e.progressEvery.Store(int32(cfg.ProgressEvery))
	return e
}

// SetProgressEvery adjusts the snapshot cadence, effective immediately for
// running campaigns.
func (e *Executor) SetProgressEvery(k int) {
	if k > 0 {
		e.progressEvery.Store(int32(k))
	}
}

// Run drives the campaign from pending to a terminal state. A per-
// destination send failure is counted and the loop continues; only the
// inability to run at all (template gone, context cancelled, storage
// failure) ends the run early, and even then the campaign is finalized
// with the counts accumulated so far.
func (e *Executor) Run(ctx context.Context, campaignID int64) error {
	campaign, err := e.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("load campaign %d: %w", campaignID, err)
	}

	if err := e.campaigns.SetCampaignStatus(ctx, campaignID, storage.CampaignInProgress); err != nil {
		return fmt.Errorf("mark campaign %d in progress: %w", campaignID, err)
	}
	e.log.Info("campaign started",
		logx.Int64("campaign_id", campaignID),
		logx.Int("total_chats", campaign.TotalChats))

	tpl, err := e.templates.GetTemplate(ctx, campaign.TemplateID)
	if err != nil {
		e.finalize(campaignID, 0, 0, storage.CampaignFailed)
		if errors.Is(err, storage.ErrNotFound) {
			e.log.Warn("campaign template deleted before run",
				logx.Int64("campaign_id", campaignID),
				logx.Int64("template_id", campaign.TemplateID))
			return ErrTemplateNotFound
		}
		return fmt.Errorf("load template %d: %w", campaign.TemplateID, err)
	}

	// Destinations are resolved fresh from the stored group ids; group
	// membership edits made after confirmation take effect here.
	destinations, err := e.resolver.Resolve(ctx, campaign.GroupIDs)
	if err != nil {
		e.finalize(campaignID, 0, 0, storage.CampaignFailed)
		return fmt.Errorf("resolve recipients for campaign %d: %w", campaignID, err)
	}

	payload := kit.Payload{
		Text:   tpl.Text,
		Kind:   tpl.AttachmentKind,
		FileID: tpl.FileID,
	}

	var sent, failed int
	target := len(destinations)
	for i, chatID := range destinations {
		if err := e.limiter.Wait(ctx); err != nil {
			// Shutdown mid-run. Finalize with what we have so the
			// campaign never sticks in in_progress.
			e.log.Warn("campaign interrupted",
				logx.Int64("campaign_id", campaignID),
				logx.Int("processed", sent+failed),
				logx.Err(err))
			e.finalize(campaignID, sent, failed, storage.CampaignFailed)
			e.report(Progress{CampaignID: campaignID, Sent: sent, Failed: failed, Processed: sent + failed, Target: target, Final: true})
			return err
		}

		if err := e.sender.SendPayload(ctx, kit.ChatTarget{ChatID: chatID}, payload); err != nil {
			failed++
			e.log.Debug("send failed",
				logx.Int64("campaign_id", campaignID),
				logx.Int64("chat_id", chatID),
				logx.String("kind", string(kit.KindOf(err))),
				logx.Err(err))
		} else {
			sent++
		}

		processed := i + 1
		if processed%int(e.progressEvery.Load()) == 0 && processed < target {
			e.report(Progress{CampaignID: campaignID, Sent: sent, Failed: failed, Processed: processed, Target: target})
		}
	}

	e.finalize(campaignID, sent, failed, storage.CampaignCompleted)
	e.report(Progress{CampaignID: campaignID, Sent: sent, Failed: failed, Processed: sent + failed, Target: target, Final: true})

	e.log.Info("campaign finished",
		logx.Int64("campaign_id", campaignID),
		logx.Int("sent", sent),
		logx.Int("failed", failed))
	return nil
}

// finalize records the terminal state. It must succeed even when the run
// context is gone, so it uses its own short deadline.
func (e *Executor) finalize(campaignID int64, sent, failed int, status storage.CampaignStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.campaigns.FinishCampaign(ctx, campaignID, sent, failed, status, time.Now()); err != nil {
		e.log.Error("finalize campaign",
			logx.Int64("campaign_id", campaignID),
			logx.String("status", string(status)),
			logx.Err(err))
	}
}

// report delivers a progress snapshot without letting reporter trouble
// touch the send loop.
func (e *Executor) report(p Progress) {
	if e.reporter == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.reporter.Report(ctx, p); err != nil {
		e.log.Debug("progress report dropped",
			logx.Int64("campaign_id", p.CampaignID),
			logx.Err(err))
	}
}
