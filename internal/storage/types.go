package storage

import (
	"errors"
	"time"

	kit "mailerbot/internal/transport"
)

var ErrNotFound = errors.New("storage: not found")

// Config configures the sqlite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Template is a reusable message payload: text plus an optional attachment.
// Text is required and non-empty.
type Template struct {
	ID             int64
	Name           string
	Text           string
	AttachmentKind kit.AttachmentKind
	FileID         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ChatGroup is a named, reusable collection of destination chat ids.
// Chat ids are unique within a group (not necessarily across groups).
type ChatGroup struct {
	ID        int64
	Name      string
	ChatIDs   []int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CampaignStatus is the campaign lifecycle state. Transitions only move
// forward: pending -> in_progress -> completed|failed.
type CampaignStatus string

const (
	CampaignPending    CampaignStatus = "pending"
	CampaignInProgress CampaignStatus = "in_progress"
	CampaignCompleted  CampaignStatus = "completed"
	CampaignFailed     CampaignStatus = "failed"
)

// Campaign is the durable record of one broadcast run and the system of
// record for history. TotalChats is a recipient-count snapshot
// fixed at creation; SentCount/FailedCount are written by the executor.
type Campaign struct {
	ID          int64
	TemplateID  int64
	GroupIDs    []int64
	TotalChats  int
	SentCount   int
	FailedCount int
	Status      CampaignStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}
