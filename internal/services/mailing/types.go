package mailing

import (
	"context"
	"time"

	"mailerbot/internal/storage"
	kit "mailerbot/internal/transport"
)

// TemplateStore is the read side of template persistence the core consumes.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id int64) (*storage.Template, error)
	ListTemplates(ctx context.Context) ([]storage.Template, error)
}

// GroupStore is the read side of chat-group persistence the core consumes.
type GroupStore interface {
	ListChatGroups(ctx context.Context) ([]storage.ChatGroup, error)
	ListChatGroupsByIDs(ctx context.Context, ids []int64) ([]storage.ChatGroup, error)
}

// CampaignStore is the persistence boundary for broadcast runs. The
// executor is the only writer of the pending -> in_progress ->
// completed|failed edges.
type CampaignStore interface {
	CreateCampaign(ctx context.Context, templateID int64, groupIDs []int64, totalChats int) (*storage.Campaign, error)
	SetCampaignStatus(ctx context.Context, id int64, status storage.CampaignStatus) error
	FinishCampaign(ctx context.Context, id int64, sent, failed int, status storage.CampaignStatus, completedAt time.Time) error
	GetCampaign(ctx context.Context, id int64) (*storage.Campaign, error)
	CampaignHistory(ctx context.Context, limit int) ([]storage.Campaign, error)
}

// Sender is the delivery transport the executor drives. Every error is a
// counted failure; the kind (transport.SendError) only sharpens logs.
type Sender interface {
	SendPayload(ctx context.Context, to kit.ChatTarget, p kit.Payload) error
}

// Limiter paces the send loop. Injectable so tests run the full executor
// without wall-clock delays.
type Limiter interface {
	Wait(ctx context.Context) error
}

// LimiterFunc adapts a function to the Limiter interface.
type LimiterFunc func(ctx context.Context) error

func (f LimiterFunc) Wait(ctx context.Context) error { return f(ctx) }

// NopLimiter never waits.
func NopLimiter() Limiter { return LimiterFunc(func(context.Context) error { return nil }) }

// Progress is one snapshot of a running broadcast.
// Invariant: Sent+Failed == Processed, and Processed never decreases
// across snapshots of the same campaign.
type Progress struct {
	CampaignID int64
	Sent       int
	Failed     int
	Processed  int
	Target     int
	Final      bool
}

// Reporter receives progress snapshots. It must be treated as fire-and-
// forget: the executor logs and swallows its errors.
type Reporter interface {
	Report(ctx context.Context, p Progress) error
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(ctx context.Context, p Progress) error

func (f ReporterFunc) Report(ctx context.Context, p Progress) error { return f(ctx, p) }
