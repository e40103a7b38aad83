package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "bot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTemplateCRUD(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CreateTemplate(ctx, "empty", "   ", kit.AttachmentNone, ""); err == nil {
		t.Fatal("empty text should be rejected")
	}

	tpl, err := st.CreateTemplate(ctx, "promo", "hello all", kit.AttachmentPhoto, "file-1")
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}
	got, err := st.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.Name != "promo" || got.Text != "hello all" || got.AttachmentKind != kit.AttachmentPhoto || got.FileID != "file-1" {
		t.Fatalf("unexpected template: %+v", got)
	}

	got.Text = "hello again"
	if err := st.UpdateTemplate(ctx, got); err != nil {
		t.Fatalf("UpdateTemplate: %v", err)
	}
	got, _ = st.GetTemplate(ctx, tpl.ID)
	if got.Text != "hello again" {
		t.Fatalf("update not persisted: %+v", got)
	}

	list, err := st.ListTemplates(ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("ListTemplates: %v %d", err, len(list))
	}

	if err := st.DeleteTemplate(ctx, tpl.ID); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}
	if _, err := st.GetTemplate(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.DeleteTemplate(ctx, tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete should be ErrNotFound, got %v", err)
	}
}

func TestChatGroupDedupWithinGroup(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	g, err := st.CreateChatGroup(ctx, "team", []int64{1, 2, 2, 3, 1})
	if err != nil {
		t.Fatalf("CreateChatGroup: %v", err)
	}
	got, err := st.GetChatGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetChatGroup: %v", err)
	}
	if len(got.ChatIDs) != 3 {
		t.Fatalf("chat ids not deduplicated: %v", got.ChatIDs)
	}
}

func TestListChatGroupsByIDsSkipsMissing(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	a, _ := st.CreateChatGroup(ctx, "a", []int64{1})
	b, _ := st.CreateChatGroup(ctx, "b", []int64{2})

	got, err := st.ListChatGroupsByIDs(ctx, []int64{a.ID, 9999, b.ID, a.ID})
	if err != nil {
		t.Fatalf("ListChatGroupsByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(got))
	}

	got, err = st.ListChatGroupsByIDs(ctx, nil)
	if err != nil || got != nil {
		t.Fatalf("empty input should yield nil, got %v %v", got, err)
	}
}

func TestCampaignLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	c, err := st.CreateCampaign(ctx, 7, []int64{1, 2}, 25)
	if err != nil {
		t.Fatalf("CreateCampaign: %v", err)
	}
	if c.Status != CampaignPending || c.TotalChats != 25 {
		t.Fatalf("unexpected campaign: %+v", c)
	}

	if err := st.SetCampaignStatus(ctx, c.ID, CampaignInProgress); err != nil {
		t.Fatalf("SetCampaignStatus: %v", err)
	}
	if err := st.FinishCampaign(ctx, c.ID, 20, 5, CampaignCompleted, time.Now()); err != nil {
		t.Fatalf("FinishCampaign: %v", err)
	}

	got, err := st.GetCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCampaign: %v", err)
	}
	if got.SentCount != 20 || got.FailedCount != 5 || got.Status != CampaignCompleted {
		t.Fatalf("unexpected final state: %+v", got)
	}
	if got.CompletedAt == nil || got.CompletedAt.IsZero() {
		t.Fatal("completed_at not set")
	}
	if got.SentCount+got.FailedCount != got.TotalChats {
		t.Fatalf("sent+failed != total: %+v", got)
	}

	// Terminal campaigns cannot move backward.
	if err := st.SetCampaignStatus(ctx, c.ID, CampaignInProgress); !errors.Is(err, ErrNotFound) {
		t.Fatalf("backward transition should be refused, got %v", err)
	}
	if err := st.FinishCampaign(ctx, c.ID, 0, 0, CampaignFailed, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double finish should be refused, got %v", err)
	}

	if err := st.FinishCampaign(ctx, c.ID, 0, 0, CampaignPending, time.Now()); err == nil {
		t.Fatal("non-terminal status should be rejected by FinishCampaign")
	}
}

func TestCampaignHistoryOrderAndLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := st.CreateCampaign(ctx, int64(i), []int64{1}, 1); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}
	}

	hist, err := st.CampaignHistory(ctx, 5)
	if err != nil {
		t.Fatalf("CampaignHistory: %v", err)
	}
	if len(hist) != 5 {
		t.Fatalf("expected 5 campaigns, got %d", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i-1].CreatedAt.Before(hist[i].CreatedAt) {
			t.Fatalf("history not descending at %d", i)
		}
		if hist[i-1].ID < hist[i].ID {
			t.Fatalf("history ids not descending at %d", i)
		}
	}
}

func TestPruneCampaigns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	old, _ := st.CreateCampaign(ctx, 1, []int64{1}, 1)
	_ = st.FinishCampaign(ctx, old.ID, 1, 0, CampaignCompleted, time.Now())
	running, _ := st.CreateCampaign(ctx, 2, []int64{1}, 1)

	n, err := st.PruneCampaigns(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneCampaigns: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	// Non-terminal campaigns survive the sweep regardless of age.
	if _, err := st.GetCampaign(ctx, running.ID); err != nil {
		t.Fatalf("running campaign should survive prune: %v", err)
	}
	if _, err := st.GetCampaign(ctx, old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old campaign should be pruned, got %v", err)
	}
}
