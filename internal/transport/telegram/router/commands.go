package router

import (
	"context"
	"errors"
	"strconv"
	"time"

	"mailerbot/internal/services/mailing"
	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
)

const historyLimit = 10

func htmlOpts(markup any) *kit.SendOptions {
	return &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, ReplyMarkupAdapter: markup}
}

func (r *Router) commands() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"start":       r.cmdHelp,
		"help":        r.cmdHelp,
		"mailing":     r.cmdMailing,
		"templates":   r.cmdTemplates,
		"newtemplate": r.cmdNewTemplate,
		"groups":      r.cmdGroups,
		"newgroup":    r.cmdNewGroup,
		"history":     r.cmdHistory,
		"cancel":      r.cmdCancel,
	}
}

func (r *Router) callbacks() map[string]HandlerFunc {
	return map[string]HandlerFunc{
		"tpl":     r.cbSelectTemplate,
		"grp":     r.cbToggleGroup,
		"all":     r.cbSelectAll,
		"none":    r.cbDeselectAll,
		"confirm": r.cbConfirm,
		"run":     r.cbRun,
		"cancel":  r.cbCancel,
	}
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, helpText, htmlOpts(nil))
	return err
}

func (r *Router) cmdMailing(ctx context.Context, req *Request) error {
	templates, err := r.svc.Workflow().Start(ctx, req.FromID)
	if err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}
	text, markup := templateScreen(templates)
	_, err = req.Adapter.SendText(ctx, req.Chat, text, htmlOpts(markup))
	return err
}

func (r *Router) cmdTemplates(ctx context.Context, req *Request) error {
	templates, err := r.store.ListTemplates(ctx)
	if err != nil {
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, templatesText(templates), htmlOpts(nil))
	return err
}

func (r *Router) cmdGroups(ctx context.Context, req *Request) error {
	groups, err := r.store.ListChatGroups(ctx)
	if err != nil {
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, groupsText(groups), htmlOpts(nil))
	return err
}

func (r *Router) cmdHistory(ctx context.Context, req *Request) error {
	campaigns, err := r.svc.History(ctx, historyLimit)
	if err != nil {
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, historyText(campaigns), htmlOpts(nil))
	return err
}

func (r *Router) cmdCancel(ctx context.Context, req *Request) error {
	r.dropConversation(req.FromID)
	err := r.svc.Workflow().Cancel(req.FromID)
	if mailing.IsInvalidTransition(err) {
		_, serr := req.Adapter.SendText(ctx, req.Chat, "a broadcast is running, it cannot be cancelled", nil)
		return serr
	}
	if err != nil {
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, "cancelled", nil)
	return err
}

// ---- selection callbacks ----

// editOrigin rewrites the message the pressed button belongs to.
func (r *Router) editOrigin(ctx context.Context, req *Request, text string, markup any) error {
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.Update.Callback.MessageID}
	return req.Adapter.EditText(ctx, ref, text, htmlOpts(markup))
}

func (r *Router) cbSelectTemplate(ctx context.Context, req *Request) error {
	templateID, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return err
	}
	groups, err := r.svc.Workflow().SelectTemplate(ctx, req.FromID, templateID)
	if err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}
	text, markup := groupScreen(groups, nil)
	return r.editOrigin(ctx, req, text, markup)
}

func (r *Router) cbToggleGroup(ctx context.Context, req *Request) error {
	groupID, err := strconv.ParseInt(req.Payload, 10, 64)
	if err != nil {
		return err
	}
	selected, err := r.svc.Workflow().ToggleGroup(req.FromID, groupID)
	if err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}
	return r.redrawGroups(ctx, req, selected)
}

func (r *Router) cbSelectAll(ctx context.Context, req *Request) error {
	selected, err := r.svc.Workflow().SelectAll(ctx, req.FromID)
	if err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}
	return r.redrawGroups(ctx, req, selected)
}

func (r *Router) cbDeselectAll(ctx context.Context, req *Request) error {
	if err := r.svc.Workflow().DeselectAll(req.FromID); err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}
	return r.redrawGroups(ctx, req, nil)
}

func (r *Router) redrawGroups(ctx context.Context, req *Request, selected []int64) error {
	groups, err := r.store.ListChatGroups(ctx)
	if err != nil {
		return err
	}
	nonEmpty := groups[:0]
	for _, g := range groups {
		if len(g.ChatIDs) > 0 {
			nonEmpty = append(nonEmpty, g)
		}
	}
	text, markup := groupScreen(nonEmpty, selected)
	return r.editOrigin(ctx, req, text, markup)
}

func (r *Router) cbConfirm(ctx context.Context, req *Request) error {
	preview, err := r.svc.Workflow().Confirm(ctx, req.FromID)
	if err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}
	text, markup := previewScreen(preview)
	return r.editOrigin(ctx, req, text, markup)
}

func (r *Router) cbRun(ctx context.Context, req *Request) error {
	campaign, err := r.svc.Execute(ctx, req.FromID)
	if err != nil {
		return r.replyWorkflowErr(ctx, req, err)
	}

	// The preview message becomes the live progress message.
	ref := kit.MessageRef{ChatID: req.Chat.ChatID, MessageID: req.Update.Callback.MessageID}
	r.reporter.Bind(campaign.ID, ref)
	_ = req.Adapter.EditText(ctx, ref, progressText(mailing.Progress{
		CampaignID: campaign.ID,
		Target:     campaign.TotalChats,
	}), htmlOpts(nil))

	campaignID := campaign.ID
	r.svc.OnDone(campaignID, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.reporter.Unbind(campaignID)
		done, err := r.svc.Details(sctx, campaignID)
		if err != nil {
			r.log.Warn("load finished campaign", logx.Int64("campaign_id", campaignID), logx.Err(err))
			return
		}
		if err := req.Adapter.EditText(sctx, ref, summaryText(done), htmlOpts(nil)); err != nil {
			r.log.Debug("final summary edit", logx.Int64("campaign_id", campaignID), logx.Err(err))
		}
	})
	return nil
}

func (r *Router) cbCancel(ctx context.Context, req *Request) error {
	err := r.svc.Workflow().Cancel(req.FromID)
	if mailing.IsInvalidTransition(err) {
		return r.editOrigin(ctx, req, "a broadcast is running, it cannot be cancelled", nil)
	}
	if err != nil {
		return err
	}
	return r.editOrigin(ctx, req, "cancelled", nil)
}

// replyWorkflowErr maps core errors to operator-facing text; everything
// else propagates to the request logger.
func (r *Router) replyWorkflowErr(ctx context.Context, req *Request, err error) error {
	var text string
	switch {
	case errors.Is(err, mailing.ErrNoTemplates):
		text = "no templates yet, create one with /newtemplate"
	case errors.Is(err, mailing.ErrNoGroups):
		text = "no chat groups with destinations, create one with /newgroup"
	case errors.Is(err, mailing.ErrTemplateNotFound):
		text = "that template no longer exists, start again with /mailing"
	case errors.Is(err, mailing.ErrEmptySelection):
		text = "select at least one group first"
	case mailing.IsInvalidTransition(err):
		text = "this menu is stale, start again with /mailing"
	default:
		return err
	}
	// Reply in a fresh message so an intact selection keyboard survives.
	_, serr := req.Adapter.SendText(ctx, req.Chat, text, nil)
	return serr
}
