package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	kit "mailerbot/internal/transport"
)

// A conversation is a short free-form input flow (template or group
// creation). One per operator; any command aborts it.
type conversation struct {
	kind    convKind
	stage   convStage
	name    string
	started time.Time
}

type convKind int

const (
	convTemplate convKind = iota
	convGroup
)

type convStage int

const (
	stageName convStage = iota
	stageContent
)

const conversationTTL = 15 * time.Minute

func (r *Router) startConversation(operatorID int64, kind convKind) {
	r.convMu.Lock()
	r.convs[operatorID] = &conversation{kind: kind, stage: stageName, started: time.Now()}
	r.convMu.Unlock()
}

// dropConversation removes the operator's conversation, reporting whether
// one existed.
func (r *Router) dropConversation(operatorID int64) bool {
	r.convMu.Lock()
	defer r.convMu.Unlock()
	_, ok := r.convs[operatorID]
	delete(r.convs, operatorID)
	return ok
}

func (r *Router) conversationFor(operatorID int64) *conversation {
	r.convMu.Lock()
	defer r.convMu.Unlock()
	c, ok := r.convs[operatorID]
	if !ok {
		return nil
	}
	if time.Since(c.started) > conversationTTL {
		delete(r.convs, operatorID)
		return nil
	}
	return c
}

func (r *Router) cmdNewTemplate(ctx context.Context, req *Request) error {
	r.startConversation(req.FromID, convTemplate)
	_, err := req.Adapter.SendText(ctx, req.Chat, "template name?", nil)
	return err
}

func (r *Router) cmdNewGroup(ctx context.Context, req *Request) error {
	r.startConversation(req.FromID, convGroup)
	_, err := req.Adapter.SendText(ctx, req.Chat, "group name?", nil)
	return err
}

// routeConversation feeds a free-form message into the operator's active
// conversation. Messages without one are ignored.
func (r *Router) routeConversation(root context.Context, up kit.Update) {
	msg := up.Message
	conv := r.conversationFor(msg.FromID)
	if conv == nil {
		return
	}

	var handler HandlerFunc
	switch conv.kind {
	case convTemplate:
		handler = func(ctx context.Context, req *Request) error {
			return r.stepTemplate(ctx, req, conv)
		}
	case convGroup:
		handler = func(ctx context.Context, req *Request) error {
			return r.stepGroup(ctx, req, conv)
		}
	}
	r.enqueue(root, up, kit.ChatTarget{ChatID: msg.ChatID}, msg.FromID, "conv", nil, "", handler)
}

func (r *Router) stepTemplate(ctx context.Context, req *Request, conv *conversation) error {
	msg := req.Update.Message
	switch conv.stage {
	case stageName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			_, err := req.Adapter.SendText(ctx, req.Chat, "name cannot be empty, try again", nil)
			return err
		}
		conv.name = name
		conv.stage = stageContent
		_, err := req.Adapter.SendText(ctx, req.Chat,
			"send the template content: text, or a photo/document with a caption", nil)
		return err

	case stageContent:
		text := strings.TrimSpace(msg.Text)
		kind := kit.AttachmentNone
		fileID := ""
		switch {
		case msg.PhotoID != "":
			kind, fileID = kit.AttachmentPhoto, msg.PhotoID
			text = strings.TrimSpace(msg.Caption)
		case msg.DocumentID != "":
			kind, fileID = kit.AttachmentDocument, msg.DocumentID
			text = strings.TrimSpace(msg.Caption)
		}
		if text == "" {
			_, err := req.Adapter.SendText(ctx, req.Chat,
				"the template needs text (attachments need a caption), try again", nil)
			return err
		}

		tpl, err := r.store.CreateTemplate(ctx, conv.name, text, kind, fileID)
		if err != nil {
			return err
		}
		r.dropConversation(req.FromID)
		_, err = req.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("template #%d %q saved", tpl.ID, tpl.Name), nil)
		return err
	}
	return nil
}

func (r *Router) stepGroup(ctx context.Context, req *Request, conv *conversation) error {
	msg := req.Update.Message
	switch conv.stage {
	case stageName:
		name := strings.TrimSpace(msg.Text)
		if name == "" {
			_, err := req.Adapter.SendText(ctx, req.Chat, "name cannot be empty, try again", nil)
			return err
		}
		conv.name = name
		conv.stage = stageContent
		_, err := req.Adapter.SendText(ctx, req.Chat,
			"send the chat ids, separated by spaces or commas", nil)
		return err

	case stageContent:
		ids, err := parseChatIDs(msg.Text)
		if err != nil {
			_, serr := req.Adapter.SendText(ctx, req.Chat, err.Error()+", try again", nil)
			return serr
		}

		g, err := r.store.CreateChatGroup(ctx, conv.name, ids)
		if err != nil {
			return err
		}
		r.dropConversation(req.FromID)
		_, err = req.Adapter.SendText(ctx, req.Chat,
			fmt.Sprintf("group #%d %q saved with %d chats", g.ID, g.Name, len(g.ChatIDs)), nil)
		return err
	}
	return nil
}

func parseChatIDs(raw string) ([]int64, error) {
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\n' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no chat ids found")
	}
	ids := make([]int64, 0, len(fields))
	for _, f := range fields {
		id, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a chat id", f)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
