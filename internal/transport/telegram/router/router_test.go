package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"mailerbot/internal/storage"
	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
	"mailerbot/pkg/tgui"
)

type sentMsg struct {
	chat kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu    sync.Mutex
	sent  []sentMsg
	edits []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMsg{chat: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) SendPayload(context.Context, kit.ChatTarget, kit.Payload) error { return nil }

func (f *fakeAdapter) EditText(_ context.Context, _ kit.MessageRef, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) lastSent(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("nothing sent")
	}
	return f.sent[len(f.sent)-1].text
}

type fakeStorage struct {
	mu        sync.Mutex
	templates []storage.Template
	groups    []storage.ChatGroup
}

func (f *fakeStorage) ListTemplates(context.Context) ([]storage.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.Template(nil), f.templates...), nil
}

func (f *fakeStorage) CreateTemplate(_ context.Context, name, text string, kind kit.AttachmentKind, fileID string) (*storage.Template, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := storage.Template{ID: int64(len(f.templates) + 1), Name: name, Text: text, AttachmentKind: kind, FileID: fileID}
	f.templates = append(f.templates, t)
	return &t, nil
}

func (f *fakeStorage) ListChatGroups(context.Context) ([]storage.ChatGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]storage.ChatGroup(nil), f.groups...), nil
}

func (f *fakeStorage) CreateChatGroup(_ context.Context, name string, chatIDs []int64) (*storage.ChatGroup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	g := storage.ChatGroup{ID: int64(len(f.groups) + 1), Name: name, ChatIDs: chatIDs}
	f.groups = append(f.groups, g)
	return &g, nil
}

func newTestRouter(adapter *fakeAdapter, store *fakeStorage) *Router {
	reporter := NewProgressReporter(adapter, logx.Nop())
	return New(logx.Nop(), adapter, nil, store, reporter, []int64{1})
}

func msgRequest(adapter kit.Adapter, fromID int64, m *kit.Message) *Request {
	m.FromID = fromID
	m.ChatID = fromID
	return &Request{
		Update:  kit.Update{Kind: kit.UpdateMessage, Message: m},
		Chat:    kit.ChatTarget{ChatID: fromID},
		FromID:  fromID,
		Adapter: adapter,
		Logger:  logx.Nop(),
	}
}

func TestParseChatIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "spaces", in: "1 2 3", want: 3},
		{name: "commas", in: "10,-20,30", want: 3},
		{name: "mixed separators", in: "1, 2\n3", want: 3},
		{name: "empty", in: "   ", wantErr: true},
		{name: "garbage", in: "1 two 3", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ids, err := parseChatIDs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("want error, got %v", ids)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseChatIDs: %v", err)
			}
			if len(ids) != tt.want {
				t.Fatalf("got %d ids, want %d", len(ids), tt.want)
			}
		})
	}
}

func TestTemplateConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	adapter := &fakeAdapter{}
	store := &fakeStorage{}
	r := newTestRouter(adapter, store)

	if err := r.cmdNewTemplate(ctx, msgRequest(adapter, 1, &kit.Message{Text: "/newtemplate"})); err != nil {
		t.Fatalf("cmdNewTemplate: %v", err)
	}
	conv := r.conversationFor(1)
	if conv == nil {
		t.Fatal("no conversation started")
	}

	if err := r.stepTemplate(ctx, msgRequest(adapter, 1, &kit.Message{Text: "promo"}), conv); err != nil {
		t.Fatalf("name step: %v", err)
	}
	if err := r.stepTemplate(ctx, msgRequest(adapter, 1, &kit.Message{Text: "hello everyone"}), conv); err != nil {
		t.Fatalf("content step: %v", err)
	}

	tpls, _ := store.ListTemplates(ctx)
	if len(tpls) != 1 || tpls[0].Name != "promo" || tpls[0].Text != "hello everyone" {
		t.Fatalf("templates = %+v", tpls)
	}
	if r.conversationFor(1) != nil {
		t.Fatal("conversation must end after save")
	}
}

func TestTemplateConversationWithPhoto(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	adapter := &fakeAdapter{}
	store := &fakeStorage{}
	r := newTestRouter(adapter, store)
	r.startConversation(1, convTemplate)
	conv := r.conversationFor(1)

	if err := r.stepTemplate(ctx, msgRequest(adapter, 1, &kit.Message{Text: "banner"}), conv); err != nil {
		t.Fatalf("name step: %v", err)
	}
	if err := r.stepTemplate(ctx, msgRequest(adapter, 1, &kit.Message{PhotoID: "file123", Caption: "look"}), conv); err != nil {
		t.Fatalf("content step: %v", err)
	}

	tpls, _ := store.ListTemplates(ctx)
	if len(tpls) != 1 {
		t.Fatalf("templates = %+v", tpls)
	}
	got := tpls[0]
	if got.AttachmentKind != kit.AttachmentPhoto || got.FileID != "file123" || got.Text != "look" {
		t.Fatalf("template = %+v", got)
	}
}

func TestTemplateConversationRejectsEmptyContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	adapter := &fakeAdapter{}
	store := &fakeStorage{}
	r := newTestRouter(adapter, store)
	r.startConversation(1, convTemplate)
	conv := r.conversationFor(1)

	if err := r.stepTemplate(ctx, msgRequest(adapter, 1, &kit.Message{Text: "promo"}), conv); err != nil {
		t.Fatalf("name step: %v", err)
	}
	if err := r.stepTemplate(ctx, msgRequest(adapter, 1, &kit.Message{Text: "   "}), conv); err != nil {
		t.Fatalf("content step: %v", err)
	}
	if tpls, _ := store.ListTemplates(ctx); len(tpls) != 0 {
		t.Fatalf("empty content must not create a template: %+v", tpls)
	}
	// Conversation stays open for a retry.
	if r.conversationFor(1) == nil {
		t.Fatal("conversation must survive a validation failure")
	}
}

func TestGroupConversation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	adapter := &fakeAdapter{}
	store := &fakeStorage{}
	r := newTestRouter(adapter, store)
	r.startConversation(1, convGroup)
	conv := r.conversationFor(1)

	if err := r.stepGroup(ctx, msgRequest(adapter, 1, &kit.Message{Text: "vip"}), conv); err != nil {
		t.Fatalf("name step: %v", err)
	}
	if err := r.stepGroup(ctx, msgRequest(adapter, 1, &kit.Message{Text: "100, 200, 300"}), conv); err != nil {
		t.Fatalf("ids step: %v", err)
	}

	groups, _ := store.ListChatGroups(ctx)
	if len(groups) != 1 || groups[0].Name != "vip" || len(groups[0].ChatIDs) != 3 {
		t.Fatalf("groups = %+v", groups)
	}
	if got := adapter.lastSent(t); !strings.Contains(got, "3 chats") {
		t.Fatalf("confirmation = %q", got)
	}
}

func TestAdminAllowlist(t *testing.T) {
	t.Parallel()

	r := newTestRouter(&fakeAdapter{}, &fakeStorage{})
	if !r.isAdmin(1) {
		t.Fatal("1 must be admin")
	}
	if r.isAdmin(2) {
		t.Fatal("2 must not be admin")
	}
	r.SetAdmins([]int64{2, 3})
	if r.isAdmin(1) || !r.isAdmin(2) {
		t.Fatal("SetAdmins must replace the allowlist")
	}
}

func TestScreensCallbackDataWithinLimit(t *testing.T) {
	t.Parallel()

	groups := []storage.ChatGroup{
		{ID: 9223372036854775807, Name: "edge", ChatIDs: []int64{1}},
	}
	_, markup := groupScreen(groups, []int64{9223372036854775807})
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if len(btn.Data) > tgui.MaxCallbackDataLen {
				t.Fatalf("callback data %q exceeds %d bytes", btn.Data, tgui.MaxCallbackDataLen)
			}
		}
	}
}

func TestGroupScreenMarksSelection(t *testing.T) {
	t.Parallel()

	groups := []storage.ChatGroup{
		{ID: 1, Name: "alpha", ChatIDs: []int64{10}},
		{ID: 2, Name: "beta", ChatIDs: []int64{20}},
	}
	_, markup := groupScreen(groups, []int64{2})

	var alpha, beta string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if strings.Contains(btn.Text, "alpha") {
				alpha = btn.Text
			}
			if strings.Contains(btn.Text, "beta") {
				beta = btn.Text
			}
		}
	}
	if !strings.HasPrefix(beta, "✅") {
		t.Fatalf("selected group not marked: %q", beta)
	}
	if strings.HasPrefix(alpha, "✅") {
		t.Fatalf("unselected group marked: %q", alpha)
	}
}
