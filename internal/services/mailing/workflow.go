package mailing

import (
	"context"
	"errors"
	"sync"
	"time"

	"mailerbot/internal/storage"
	logx "mailerbot/pkg/logx"
	"mailerbot/pkg/tgui"
)

// Step is the position of an operator's session in the selection workflow.
type Step int

const (
	StepIdle Step = iota
	StepAwaitingTemplate
	StepAwaitingGroups
	StepAwaitingConfirmation
	StepDispatching
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepAwaitingTemplate:
		return "awaiting_template"
	case StepAwaitingGroups:
		return "awaiting_groups"
	case StepAwaitingConfirmation:
		return "awaiting_confirmation"
	case StepDispatching:
		return "dispatching"
	default:
		return "unknown"
	}
}

const (
	defaultSessionTTL   = 30 * time.Minute
	defaultPreviewRunes = 200
)

// session is one operator's in-flight selection. Strictly per-operator,
// never shared across operators.
type session struct {
	step       Step
	templateID int64
	toggled    map[int64]struct{}
	// recipients is the resolver count captured by Confirm; it becomes the
	// campaign's total_chats snapshot.
	recipients int
	lastActive time.Time
}

// Preview is what the operator sees on the confirmation screen.
type Preview struct {
	TemplateID   int64
	TemplateName string
	TextPreview  string
	HasFile      bool
	GroupIDs     []int64
	GroupNames   []string
	Recipients   int
}

// WorkflowConfig tunes session handling.
type WorkflowConfig struct {
	SessionTTL   time.Duration
	PreviewRunes int
}

// Workflow is the per-operator selection state machine. Sessions are kept
// in a keyed store (operator id -> session), created on Start and evicted
// on cancel, on completion, or after the TTL.
type Workflow struct {
	templates TemplateStore
	groups    GroupStore
	resolver  *Resolver
	log       logx.Logger

	mu       sync.Mutex
	cfg      WorkflowConfig
	sessions map[int64]*session
}

func NewWorkflow(cfg WorkflowConfig, templates TemplateStore, groups GroupStore, resolver *Resolver, log logx.Logger) *Workflow {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaultSessionTTL
	}
	if cfg.PreviewRunes <= 0 {
		cfg.PreviewRunes = defaultPreviewRunes
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Workflow{
		templates: templates,
		groups:    groups,
		resolver:  resolver,
		log:       log,
		cfg:       cfg,
		sessions:  make(map[int64]*session),
	}
}

// Apply updates tunables at runtime (config reload).
func (w *Workflow) Apply(cfg WorkflowConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cfg.SessionTTL > 0 {
		w.cfg.SessionTTL = cfg.SessionTTL
	}
	if cfg.PreviewRunes > 0 {
		w.cfg.PreviewRunes = cfg.PreviewRunes
	}
}

// Step reports the operator's current workflow step (StepIdle if no session).
func (w *Workflow) Step(operatorID int64) Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(time.Now())
	s, ok := w.sessions[operatorID]
	if !ok {
		return StepIdle
	}
	return s.step
}

// Start begins a new selection session, superseding any previous one that
// is not dispatching. It fails with ErrNoTemplates when nothing can be sent.
func (w *Workflow) Start(ctx context.Context, operatorID int64) ([]storage.Template, error) {
	templates, err := w.templates.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(time.Now())

	if s, ok := w.sessions[operatorID]; ok && s.step == StepDispatching {
		return nil, &InvalidTransitionError{Op: "start", Step: StepDispatching}
	}
	w.sessions[operatorID] = &session{step: StepAwaitingTemplate, lastActive: time.Now()}
	return templates, nil
}

// SelectTemplate fixes the template choice and moves to group selection.
// Returns the groups that have at least one destination, or ErrNoGroups
// when every known group is empty.
func (w *Workflow) SelectTemplate(ctx context.Context, operatorID, templateID int64) ([]storage.ChatGroup, error) {
	if err := w.require(operatorID, "select_template", StepAwaitingTemplate); err != nil {
		return nil, err
	}

	if _, err := w.templates.GetTemplate(ctx, templateID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	groups, err := w.nonEmptyGroups(ctx)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, ErrNoGroups
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[operatorID]
	if !ok || s.step != StepAwaitingTemplate {
		return nil, &InvalidTransitionError{Op: "select_template", Step: w.stepOfLocked(operatorID)}
	}
	s.templateID = templateID
	s.toggled = make(map[int64]struct{})
	s.step = StepAwaitingGroups
	s.lastActive = time.Now()
	return groups, nil
}

// ToggleGroup flips group membership in the selection: present -> removed,
// absent -> added. Toggling twice restores the original membership.
func (w *Workflow) ToggleGroup(operatorID, groupID int64) ([]int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(time.Now())

	s, ok := w.sessions[operatorID]
	if !ok || s.step != StepAwaitingGroups {
		return nil, &InvalidTransitionError{Op: "toggle_group", Step: w.stepOfLocked(operatorID)}
	}
	if _, on := s.toggled[groupID]; on {
		delete(s.toggled, groupID)
	} else {
		s.toggled[groupID] = struct{}{}
	}
	s.lastActive = time.Now()
	return s.selectedLocked(), nil
}

// SelectAll bulk-selects every group that has at least one destination.
func (w *Workflow) SelectAll(ctx context.Context, operatorID int64) ([]int64, error) {
	if err := w.require(operatorID, "select_all", StepAwaitingGroups); err != nil {
		return nil, err
	}
	groups, err := w.nonEmptyGroups(ctx)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[operatorID]
	if !ok || s.step != StepAwaitingGroups {
		return nil, &InvalidTransitionError{Op: "select_all", Step: w.stepOfLocked(operatorID)}
	}
	s.toggled = make(map[int64]struct{}, len(groups))
	for _, g := range groups {
		s.toggled[g.ID] = struct{}{}
	}
	s.lastActive = time.Now()
	return s.selectedLocked(), nil
}

// DeselectAll empties the toggle set.
func (w *Workflow) DeselectAll(operatorID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[operatorID]
	if !ok || s.step != StepAwaitingGroups {
		return &InvalidTransitionError{Op: "deselect_all", Step: w.stepOfLocked(operatorID)}
	}
	s.toggled = make(map[int64]struct{})
	s.lastActive = time.Now()
	return nil
}

// Selected returns the currently toggled group ids (sorted ascending).
func (w *Workflow) Selected(operatorID int64) []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[operatorID]
	if !ok {
		return nil
	}
	return s.selectedLocked()
}

// Confirm resolves the recipient count for the preview and moves the
// session to the confirmation step. No Campaign is created here.
func (w *Workflow) Confirm(ctx context.Context, operatorID int64) (*Preview, error) {
	w.mu.Lock()
	s, ok := w.sessions[operatorID]
	if !ok || s.step != StepAwaitingGroups {
		step := w.stepOfLocked(operatorID)
		w.mu.Unlock()
		return nil, &InvalidTransitionError{Op: "confirm", Step: step}
	}
	if len(s.toggled) == 0 {
		w.mu.Unlock()
		return nil, ErrEmptySelection
	}
	templateID := s.templateID
	groupIDs := s.selectedLocked()
	previewRunes := w.cfg.PreviewRunes
	w.mu.Unlock()

	tpl, err := w.templates.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	destinations, err := w.resolver.Resolve(ctx, groupIDs)
	if err != nil {
		return nil, err
	}

	groups, err := w.groups.ListChatGroupsByIDs(ctx, groupIDs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok = w.sessions[operatorID]
	if !ok || s.step != StepAwaitingGroups {
		return nil, &InvalidTransitionError{Op: "confirm", Step: w.stepOfLocked(operatorID)}
	}
	s.recipients = len(destinations)
	s.step = StepAwaitingConfirmation
	s.lastActive = time.Now()

	return &Preview{
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		TextPreview:  tgui.TruncRunes(tpl.Text, previewRunes),
		HasFile:      tpl.AttachmentKind != "",
		GroupIDs:     groupIDs,
		GroupNames:   names,
		Recipients:   len(destinations),
	}, nil
}

// dispatchSnapshot captures everything Execute needs from the session.
type dispatchSnapshot struct {
	templateID int64
	groupIDs   []int64
	recipients int
}

// beginDispatch moves a confirmed session to Dispatching and returns the
// confirm-time snapshot. Only the mailing Service calls this.
func (w *Workflow) beginDispatch(operatorID int64) (dispatchSnapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[operatorID]
	if !ok || s.step != StepAwaitingConfirmation {
		return dispatchSnapshot{}, &InvalidTransitionError{Op: "execute", Step: w.stepOfLocked(operatorID)}
	}
	s.step = StepDispatching
	s.lastActive = time.Now()
	return dispatchSnapshot{
		templateID: s.templateID,
		groupIDs:   s.selectedLocked(),
		recipients: s.recipients,
	}, nil
}

// endDispatch discards the session once the run reaches a terminal state.
func (w *Workflow) endDispatch(operatorID int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.sessions, operatorID)
}

// Cancel discards the session. Dispatching sessions cannot be cancelled:
// once the send loop starts it runs to completion.
func (w *Workflow) Cancel(operatorID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sessions[operatorID]
	if !ok {
		return nil
	}
	if s.step == StepDispatching {
		return &InvalidTransitionError{Op: "cancel", Step: StepDispatching}
	}
	delete(w.sessions, operatorID)
	return nil
}

// ---- internals ----

func (w *Workflow) require(operatorID int64, op string, want Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(time.Now())
	s, ok := w.sessions[operatorID]
	if !ok || s.step != want {
		return &InvalidTransitionError{Op: op, Step: w.stepOfLocked(operatorID)}
	}
	return nil
}

func (w *Workflow) stepOfLocked(operatorID int64) Step {
	if s, ok := w.sessions[operatorID]; ok {
		return s.step
	}
	return StepIdle
}

func (w *Workflow) nonEmptyGroups(ctx context.Context) ([]storage.ChatGroup, error) {
	all, err := w.groups.ListChatGroups(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, g := range all {
		if len(g.ChatIDs) > 0 {
			out = append(out, g)
		}
	}
	return out, nil
}

// pruneLocked evicts sessions idle past the TTL. Dispatching sessions are
// exempt; the run's terminal transition removes them.
func (w *Workflow) pruneLocked(now time.Time) {
	for id, s := range w.sessions {
		if s.step == StepDispatching {
			continue
		}
		if now.Sub(s.lastActive) > w.cfg.SessionTTL {
			delete(w.sessions, id)
		}
	}
}

func (s *session) selectedLocked() []int64 {
	out := make([]int64, 0, len(s.toggled))
	for id := range s.toggled {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

func sortIDs(ids []int64) {
	// Insertion sort; toggle sets are tiny.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j] < ids[j-1]; j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}
}
