package router

import (
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"mailerbot/internal/services/mailing"
	"mailerbot/internal/storage"
	"mailerbot/pkg/tgui"
)

const helpText = `<b>mailerbot</b>

/mailing - start a broadcast
/templates - list message templates
/newtemplate - create a template
/groups - list chat groups
/newgroup - create a chat group
/history - recent broadcasts
/cancel - abort the current flow
/help - this text`

func cbData(action, payload string) string {
	return tgui.Data(callbackNS, action, payload)
}

// templateScreen renders the template picker.
func templateScreen(templates []storage.Template) (string, *tele.ReplyMarkup) {
	kb := tgui.NewInline()
	for _, t := range templates {
		label := t.Name
		if t.AttachmentKind != "" {
			label += " [" + string(t.AttachmentKind) + "]"
		}
		kb.Row(tgui.Btn(label, cbData("tpl", strconv.FormatInt(t.ID, 10))))
	}
	kb.Row(tgui.Btn("✖ Cancel", cbData("cancel", "")))

	text := tgui.JoinH("\n",
		tgui.B("New broadcast"),
		tgui.Esc("Pick a template:"),
	).String()
	return text, kb.Markup()
}

// groupScreen renders the group toggle list. Selected groups carry a check
// mark; toggling re-renders the same message.
func groupScreen(groups []storage.ChatGroup, selected []int64) (string, *tele.ReplyMarkup) {
	sel := make(map[int64]struct{}, len(selected))
	for _, id := range selected {
		sel[id] = struct{}{}
	}

	kb := tgui.NewInline()
	for _, g := range groups {
		mark := "☐"
		if _, on := sel[g.ID]; on {
			mark = "✅"
		}
		label := fmt.Sprintf("%s %s (%d)", mark, g.Name, len(g.ChatIDs))
		kb.Row(tgui.Btn(label, cbData("grp", strconv.FormatInt(g.ID, 10))))
	}
	kb.Row(
		tgui.Btn("All", cbData("all", "")),
		tgui.Btn("None", cbData("none", "")),
	)
	kb.Row(
		tgui.Btn("➡ Continue", cbData("confirm", "")),
		tgui.Btn("✖ Cancel", cbData("cancel", "")),
	)

	text := tgui.JoinH("\n",
		tgui.B("New broadcast"),
		tgui.Esc(fmt.Sprintf("Pick groups (%d selected):", len(selected))),
	).String()
	return text, kb.Markup()
}

// previewScreen renders the confirmation step.
func previewScreen(p *mailing.Preview) (string, *tele.ReplyMarkup) {
	tplLine := tgui.JoinH(" ", tgui.Esc("Template:"), tgui.B(p.TemplateName))
	if p.HasFile {
		tplLine = tgui.JoinH(" ", tplLine, tgui.I("with attachment"))
	}
	lines := []tgui.H{
		tgui.B("Confirm broadcast"),
		tplLine,
		tgui.JoinH(" ", tgui.Esc("Groups:"), tgui.Esc(strings.Join(p.GroupNames, ", "))),
		tgui.JoinH(" ", tgui.Esc("Recipients:"), tgui.B(strconv.Itoa(p.Recipients))),
		tgui.Code(p.TextPreview),
	}

	kb := tgui.ConfirmInline(
		tgui.Btn("🚀 Send", cbData("run", "")),
		tgui.Btn("✖ Cancel", cbData("cancel", "")),
	)
	return tgui.JoinH("\n", lines...).String(), kb.Markup()
}

func progressText(p mailing.Progress) string {
	return tgui.JoinH("\n",
		tgui.B(fmt.Sprintf("Broadcast #%d", p.CampaignID)),
		tgui.Esc(fmt.Sprintf("Progress: %d/%d", p.Processed, p.Target)),
		tgui.Esc(fmt.Sprintf("Sent: %d, failed: %d", p.Sent, p.Failed)),
	).String()
}

func summaryText(c *storage.Campaign) string {
	var status tgui.H
	switch c.Status {
	case storage.CampaignCompleted:
		status = tgui.B("✅ Completed")
	case storage.CampaignFailed:
		status = tgui.B("⚠ Failed")
	default:
		status = tgui.Esc(string(c.Status))
	}
	return tgui.JoinH("\n",
		tgui.B(fmt.Sprintf("Broadcast #%d", c.ID)),
		status,
		tgui.Esc(fmt.Sprintf("Sent: %d, failed: %d (of %d)", c.SentCount, c.FailedCount, c.TotalChats)),
	).String()
}

func historyText(campaigns []storage.Campaign) string {
	if len(campaigns) == 0 {
		return tgui.Esc("No broadcasts yet.").String()
	}
	lines := make([]tgui.H, 0, len(campaigns)+1)
	lines = append(lines, tgui.B("Recent broadcasts"))
	for _, c := range campaigns {
		lines = append(lines, tgui.Esc(fmt.Sprintf("#%d %s  %d/%d sent, %d failed  %s",
			c.ID, c.Status, c.SentCount, c.TotalChats, c.FailedCount,
			c.CreatedAt.Format("2006-01-02 15:04"))))
	}
	return tgui.JoinH("\n", lines...).String()
}

func templatesText(templates []storage.Template) string {
	if len(templates) == 0 {
		return tgui.Esc("No templates yet. Create one with /newtemplate.").String()
	}
	lines := make([]tgui.H, 0, len(templates)+1)
	lines = append(lines, tgui.B("Templates"))
	for _, t := range templates {
		kind := "text"
		if t.AttachmentKind != "" {
			kind = string(t.AttachmentKind)
		}
		lines = append(lines, tgui.JoinH(" ",
			tgui.Code(fmt.Sprintf("#%d", t.ID)),
			tgui.B(t.Name),
			tgui.I(kind),
		))
	}
	return tgui.JoinH("\n", lines...).String()
}

func groupsText(groups []storage.ChatGroup) string {
	if len(groups) == 0 {
		return tgui.Esc("No groups yet. Create one with /newgroup.").String()
	}
	lines := make([]tgui.H, 0, len(groups)+1)
	lines = append(lines, tgui.B("Chat groups"))
	for _, g := range groups {
		lines = append(lines, tgui.JoinH(" ",
			tgui.Code(fmt.Sprintf("#%d", g.ID)),
			tgui.B(g.Name),
			tgui.Esc(fmt.Sprintf("%d chats", len(g.ChatIDs))),
		))
	}
	return tgui.JoinH("\n", lines...).String()
}
