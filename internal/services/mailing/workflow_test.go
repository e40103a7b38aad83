package mailing

import (
	"context"
	"errors"
	"testing"
	"time"

	"mailerbot/internal/storage"
)

func newTestWorkflow(store *memStore) *Workflow {
	return NewWorkflow(WorkflowConfig{}, store, store, NewResolver(store), testLogger())
}

func seedStore(t *testing.T) (*memStore, storage.Template, storage.ChatGroup, storage.ChatGroup) {
	t.Helper()
	store := newMemStore()
	tpl := store.addTemplate(storage.Template{Name: "promo", Text: "hello"})
	g1 := store.addGroup("alpha", 1, 2, 3)
	g2 := store.addGroup("beta", 3, 4)
	return store, tpl, g1, g2
}

func TestWorkflowHappyPath(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, g1, g2 := seedStore(t)
	w := newTestWorkflow(store)

	const op = int64(100)

	templates, err := w.Start(ctx, op)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(templates) != 1 {
		t.Fatalf("got %d templates, want 1", len(templates))
	}
	if got := w.Step(op); got != StepAwaitingTemplate {
		t.Fatalf("step = %s, want %s", got, StepAwaitingTemplate)
	}

	groups, err := w.SelectTemplate(ctx, op, tpl.ID)
	if err != nil {
		t.Fatalf("SelectTemplate: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}

	if _, err := w.ToggleGroup(op, g1.ID); err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}
	if _, err := w.ToggleGroup(op, g2.ID); err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}

	preview, err := w.Confirm(ctx, op)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if preview.Recipients != 4 {
		t.Fatalf("recipients = %d, want 4 (union of {1,2,3} and {3,4})", preview.Recipients)
	}
	if preview.TemplateName != "promo" {
		t.Fatalf("template name = %q", preview.TemplateName)
	}
	if got := w.Step(op); got != StepAwaitingConfirmation {
		t.Fatalf("step = %s, want %s", got, StepAwaitingConfirmation)
	}
}

func TestWorkflowStartNoTemplates(t *testing.T) {
	t.Parallel()
	store := newMemStore()
	store.addGroup("alpha", 1)
	w := newTestWorkflow(store)

	if _, err := w.Start(context.Background(), 1); !errors.Is(err, ErrNoTemplates) {
		t.Fatalf("err = %v, want ErrNoTemplates", err)
	}
	if got := w.Step(1); got != StepIdle {
		t.Fatalf("step = %s, want idle after failed start", got)
	}
}

func TestWorkflowSelectTemplateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("unknown template", func(t *testing.T) {
		t.Parallel()
		store, _, _, _ := seedStore(t)
		w := newTestWorkflow(store)
		if _, err := w.Start(ctx, 1); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := w.SelectTemplate(ctx, 1, 9999); !errors.Is(err, ErrTemplateNotFound) {
			t.Fatalf("err = %v, want ErrTemplateNotFound", err)
		}
		if got := w.Step(1); got != StepAwaitingTemplate {
			t.Fatalf("step = %s, session must stay put", got)
		}
	})

	t.Run("no non-empty groups", func(t *testing.T) {
		t.Parallel()
		store := newMemStore()
		tpl := store.addTemplate(storage.Template{Name: "promo", Text: "hello"})
		store.addGroup("empty")
		w := newTestWorkflow(store)
		if _, err := w.Start(ctx, 1); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if _, err := w.SelectTemplate(ctx, 1, tpl.ID); !errors.Is(err, ErrNoGroups) {
			t.Fatalf("err = %v, want ErrNoGroups", err)
		}
	})
}

func TestWorkflowToggleIsInvolution(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, g1, _ := seedStore(t)
	w := newTestWorkflow(store)

	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := w.SelectTemplate(ctx, 1, tpl.ID); err != nil {
		t.Fatalf("SelectTemplate: %v", err)
	}

	sel, err := w.ToggleGroup(1, g1.ID)
	if err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}
	if len(sel) != 1 || sel[0] != g1.ID {
		t.Fatalf("selection = %v, want [%d]", sel, g1.ID)
	}
	sel, err = w.ToggleGroup(1, g1.ID)
	if err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}
	if len(sel) != 0 {
		t.Fatalf("selection = %v, want empty after double toggle", sel)
	}
}

func TestWorkflowSelectAllDeselectAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, _, _ := seedStore(t)
	store.addGroup("empty")
	w := newTestWorkflow(store)

	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := w.SelectTemplate(ctx, 1, tpl.ID); err != nil {
		t.Fatalf("SelectTemplate: %v", err)
	}

	sel, err := w.SelectAll(ctx, 1)
	if err != nil {
		t.Fatalf("SelectAll: %v", err)
	}
	if len(sel) != 2 {
		t.Fatalf("SelectAll picked %d groups, want the 2 non-empty ones", len(sel))
	}
	if err := w.DeselectAll(1); err != nil {
		t.Fatalf("DeselectAll: %v", err)
	}
	if sel := w.Selected(1); len(sel) != 0 {
		t.Fatalf("selection = %v, want empty", sel)
	}
}

func TestWorkflowConfirmEmptySelection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, _, _ := seedStore(t)
	w := newTestWorkflow(store)

	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := w.SelectTemplate(ctx, 1, tpl.ID); err != nil {
		t.Fatalf("SelectTemplate: %v", err)
	}
	if _, err := w.Confirm(ctx, 1); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("err = %v, want ErrEmptySelection", err)
	}
	if got := w.Step(1); got != StepAwaitingGroups {
		t.Fatalf("step = %s, session must stay put", got)
	}
}

func TestWorkflowInvalidTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, g1, _ := seedStore(t)
	w := newTestWorkflow(store)

	// No session at all.
	if _, err := w.SelectTemplate(ctx, 1, tpl.ID); !IsInvalidTransition(err) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
	if _, err := w.ToggleGroup(1, g1.ID); !IsInvalidTransition(err) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
	if _, err := w.Confirm(ctx, 1); !IsInvalidTransition(err) {
		t.Fatalf("err = %v, want invalid transition", err)
	}

	// Toggling before a template is chosen.
	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := w.ToggleGroup(1, g1.ID); !IsInvalidTransition(err) {
		t.Fatalf("err = %v, want invalid transition", err)
	}
}

func TestWorkflowSessionsAreIsolated(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, g1, g2 := seedStore(t)
	w := newTestWorkflow(store)

	for _, op := range []int64{1, 2} {
		if _, err := w.Start(ctx, op); err != nil {
			t.Fatalf("Start(%d): %v", op, err)
		}
		if _, err := w.SelectTemplate(ctx, op, tpl.ID); err != nil {
			t.Fatalf("SelectTemplate(%d): %v", op, err)
		}
	}
	if _, err := w.ToggleGroup(1, g1.ID); err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}
	if _, err := w.ToggleGroup(2, g2.ID); err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}

	if sel := w.Selected(1); len(sel) != 1 || sel[0] != g1.ID {
		t.Fatalf("operator 1 selection = %v", sel)
	}
	if sel := w.Selected(2); len(sel) != 1 || sel[0] != g2.ID {
		t.Fatalf("operator 2 selection = %v", sel)
	}
}

func TestWorkflowCancel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, tpl, g1, _ := seedStore(t)
	w := newTestWorkflow(store)

	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Cancel(1); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := w.Step(1); got != StepIdle {
		t.Fatalf("step = %s after cancel", got)
	}
	// Cancel with no session is a no-op.
	if err := w.Cancel(1); err != nil {
		t.Fatalf("Cancel idle: %v", err)
	}

	// Dispatching sessions refuse cancel.
	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := w.SelectTemplate(ctx, 1, tpl.ID); err != nil {
		t.Fatalf("SelectTemplate: %v", err)
	}
	if _, err := w.ToggleGroup(1, g1.ID); err != nil {
		t.Fatalf("ToggleGroup: %v", err)
	}
	if _, err := w.Confirm(ctx, 1); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := w.beginDispatch(1); err != nil {
		t.Fatalf("beginDispatch: %v", err)
	}
	if err := w.Cancel(1); !IsInvalidTransition(err) {
		t.Fatalf("err = %v, want invalid transition while dispatching", err)
	}
	w.endDispatch(1)
	if got := w.Step(1); got != StepIdle {
		t.Fatalf("step = %s after dispatch end", got)
	}
}

func TestWorkflowSessionTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _, _, _ := seedStore(t)
	w := NewWorkflow(WorkflowConfig{SessionTTL: 10 * time.Millisecond}, store, store, NewResolver(store), testLogger())

	if _, err := w.Start(ctx, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	if got := w.Step(1); got != StepIdle {
		t.Fatalf("step = %s, want idle after TTL", got)
	}
}
