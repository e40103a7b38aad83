package mailing

import (
	"context"
	"sync"
	"time"

	"mailerbot/internal/storage"
	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
)

func testLogger() logx.Logger { return logx.Nop() }

// memStore is an in-memory stand-in for *storage.Store covering the
// slices of it the mailing core consumes.
type memStore struct {
	mu        sync.Mutex
	templates map[int64]storage.Template
	groups    map[int64]storage.ChatGroup
	campaigns map[int64]*storage.Campaign
	nextID    int64
}

func newMemStore() *memStore {
	return &memStore{
		templates: make(map[int64]storage.Template),
		groups:    make(map[int64]storage.ChatGroup),
		campaigns: make(map[int64]*storage.Campaign),
	}
}

func (m *memStore) addTemplate(t storage.Template) storage.Template {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.templates[t.ID] = t
	return t
}

func (m *memStore) addGroup(name string, chatIDs ...int64) storage.ChatGroup {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	g := storage.ChatGroup{ID: m.nextID, Name: name, ChatIDs: chatIDs}
	m.groups[g.ID] = g
	return g
}

func (m *memStore) GetTemplate(_ context.Context, id int64) (*storage.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &t, nil
}

func (m *memStore) ListTemplates(context.Context) ([]storage.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Template, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, t)
	}
	return out, nil
}

func (m *memStore) ListChatGroups(context.Context) ([]storage.ChatGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.ChatGroup, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, g)
	}
	return out, nil
}

func (m *memStore) ListChatGroupsByIDs(_ context.Context, ids []int64) ([]storage.ChatGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[int64]struct{}, len(ids))
	var out []storage.ChatGroup
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if g, ok := m.groups[id]; ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) CreateCampaign(_ context.Context, templateID int64, groupIDs []int64, totalChats int) (*storage.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := &storage.Campaign{
		ID:         m.nextID,
		TemplateID: templateID,
		GroupIDs:   append([]int64(nil), groupIDs...),
		TotalChats: totalChats,
		Status:     storage.CampaignPending,
		CreatedAt:  time.Now(),
	}
	m.campaigns[c.ID] = c
	cp := *c
	return &cp, nil
}

func (m *memStore) SetCampaignStatus(_ context.Context, id int64, status storage.CampaignStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Status = status
	return nil
}

func (m *memStore) FinishCampaign(_ context.Context, id int64, sent, failed int, status storage.CampaignStatus, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.SentCount = sent
	c.FailedCount = failed
	c.Status = status
	c.CompletedAt = &completedAt
	return nil
}

func (m *memStore) GetCampaign(_ context.Context, id int64) (*storage.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CampaignHistory(_ context.Context, limit int) ([]storage.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]storage.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		out = append(out, *c)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// recordingSender counts sends and fails the chat ids listed in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    []int64
	failFor func(chatID int64) error
}

func (r *recordingSender) SendPayload(_ context.Context, to kit.ChatTarget, _ kit.Payload) error {
	if r.failFor != nil {
		if err := r.failFor(to.ChatID); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to.ChatID)
	return nil
}

// collectReporter keeps every snapshot it receives.
type collectReporter struct {
	mu    sync.Mutex
	snaps []Progress
}

func (c *collectReporter) Report(_ context.Context, p Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, p)
	return nil
}

func (c *collectReporter) all() []Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Progress(nil), c.snaps...)
}
