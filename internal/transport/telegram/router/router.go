package router

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"mailerbot/internal/runtime/supervisor"
	"mailerbot/internal/services/mailing"
	"mailerbot/internal/storage"
	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
	"mailerbot/pkg/tgui"
)

// callbackNS is the namespace prefix of every inline button this router
// owns ("<ns>:<action>[:<payload>]").
const callbackNS = "mail"

const defaultHandlerTimeout = 30 * time.Second

// Storage is the slice of persistence the UI needs beyond what the
// mailing service exposes.
type Storage interface {
	ListTemplates(ctx context.Context) ([]storage.Template, error)
	CreateTemplate(ctx context.Context, name, text string, kind kit.AttachmentKind, fileID string) (*storage.Template, error)
	ListChatGroups(ctx context.Context) ([]storage.ChatGroup, error)
	CreateChatGroup(ctx context.Context, name string, chatIDs []int64) (*storage.ChatGroup, error)
}

// Request carries one routed update through the middleware chain.
type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	Payload string // callback payload

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Router turns adapter updates into mailing workflow actions. Every
// command and callback is admin-only: this is an operator tool, not a
// public bot.
type Router struct {
	log      logx.Logger
	adapter  kit.Adapter
	svc      *mailing.Service
	store    Storage
	reporter *ProgressReporter

	mu     sync.RWMutex
	admins []int64

	convMu sync.Mutex
	convs  map[int64]*conversation

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, svc *mailing.Service, store Storage, reporter *ProgressReporter, admins []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:      log,
		adapter:  adapter,
		svc:      svc,
		store:    store,
		reporter: reporter,
		admins:   append([]int64(nil), admins...),
		convs:    map[int64]*conversation{},
		jobs:     make(chan func(), 256),
	}
}

// SetAdmins replaces the allowlist. Safe to call during hot-reload.
func (r *Router) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	r.mu.Lock()
	r.admins = cp
	r.mu.Unlock()
}

func (r *Router) isAdmin(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.admins {
		if a == id {
			return true
		}
	}
	return false
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is cancelled or the channel
// closes. Handlers run on a bounded worker pool.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "telegram.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.runMu.Lock()
	r.sup = sup
	r.running = true
	r.runMu.Unlock()

	r.log.Info("dispatcher started", logx.Int("workers", workers))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.runMu.Lock()
			r.running = false
			r.runMu.Unlock()
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.Go("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					// Middleware already recovers; keep the worker alive anyway.
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job",
									logx.Int("worker", idx),
									logx.Any("panic", rec),
									logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		})
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.routeUpdate(ctx, up)
		}
	}
}

func (r *Router) routeUpdate(root context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(root, up)
	case kit.UpdateCallback:
		r.routeCallback(root, up)
	}
}

func (r *Router) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	if msg == nil {
		return
	}
	// Non-admins are ignored outright, no error reply.
	if !r.isAdmin(msg.FromID) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		// Free-form input feeds an active conversation, if any.
		r.routeConversation(root, up)
		return
	}

	parts := strings.Fields(text)
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	handler, ok := r.commands()[word]
	if !ok {
		_, _ = r.adapter.SendText(root, kit.ChatTarget{ChatID: msg.ChatID}, "unknown command, try /help", nil)
		return
	}

	// A command always aborts any in-flight conversation first.
	if word != "cancel" {
		r.dropConversation(msg.FromID)
	}
	r.enqueue(root, up, kit.ChatTarget{ChatID: msg.ChatID}, msg.FromID, "/"+word, args, "", handler)
}

func (r *Router) routeCallback(root context.Context, up kit.Update) {
	cb := up.Callback
	if cb == nil {
		return
	}
	if !r.isAdmin(cb.FromID) {
		_ = r.adapter.AnswerCallback(root, cb.ID, "forbidden")
		return
	}

	ns, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok || ns != callbackNS {
		return
	}
	handler, ok := r.callbacks()[action]
	if !ok {
		r.log.Debug("unknown callback action", logx.String("action", action))
		return
	}

	wrapped := func(ctx context.Context, req *Request) error {
		err := handler(ctx, req)
		// Stop the button spinner regardless of the outcome.
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return err
	}
	r.enqueue(root, up, kit.ChatTarget{ChatID: cb.ChatID}, cb.FromID, "cb:"+callbackNS+":"+action, nil, payload, wrapped)
}

func (r *Router) enqueue(root context.Context, up kit.Update, chat kit.ChatTarget, fromID int64, command string, args []string, payload string, handler HandlerFunc) {
	reqLog := r.log.With(
		logx.Int64("chat_id", chat.ChatID),
		logx.Int64("from_id", fromID),
		logx.String("cmd", command),
	)
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  fromID,
		Command: command,
		Args:    args,
		Payload: payload,
		Adapter: r.adapter,
		Logger:  reqLog,
	}

	final := Chain(
		handler,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(defaultHandlerTimeout),
	)

	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = r.adapter.SendText(root, chat, "busy, try again", nil)
	}
}
