package router

import (
	"context"
	"sync"

	"mailerbot/internal/services/mailing"
	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
)

// ProgressReporter turns executor progress snapshots into edits of the
// campaign's progress message. Snapshots for campaigns without a bound
// message are dropped silently; a failed edit never reaches the executor.
type ProgressReporter struct {
	adapter kit.Adapter
	log     logx.Logger

	mu   sync.Mutex
	refs map[int64]kit.MessageRef
}

var _ mailing.Reporter = (*ProgressReporter)(nil)

func NewProgressReporter(adapter kit.Adapter, log logx.Logger) *ProgressReporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &ProgressReporter{
		adapter: adapter,
		log:     log,
		refs:    make(map[int64]kit.MessageRef),
	}
}

// Bind attaches a campaign to the message its progress is rendered into.
func (p *ProgressReporter) Bind(campaignID int64, ref kit.MessageRef) {
	p.mu.Lock()
	p.refs[campaignID] = ref
	p.mu.Unlock()
}

func (p *ProgressReporter) Unbind(campaignID int64) {
	p.mu.Lock()
	delete(p.refs, campaignID)
	p.mu.Unlock()
}

func (p *ProgressReporter) Report(ctx context.Context, prog mailing.Progress) error {
	p.mu.Lock()
	ref, ok := p.refs[prog.CampaignID]
	p.mu.Unlock()
	if !ok {
		return nil
	}
	if err := p.adapter.EditText(ctx, ref, progressText(prog), htmlOpts(nil)); err != nil {
		// The edit is cosmetic. Telegram rejects no-op edits with an
		// error, so this stays at debug.
		p.log.Debug("progress edit", logx.Int64("campaign_id", prog.CampaignID), logx.Err(err))
	}
	return nil
}
