package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	kit "mailerbot/internal/transport"
	logx "mailerbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the sqlite-backed persistence layer: templates, chat groups and
// campaigns. All writes go through a single connection (MaxOpenConns=1), so
// writes for any campaign id are naturally serialized.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if log.IsZero() {
		log = logx.Nop()
	}
	st := &Store{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- Templates ----

func (s *Store) CreateTemplate(ctx context.Context, name, text string, kind kit.AttachmentKind, fileID string) (*Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("template text is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO templates(name, text, attachment_kind, file_id, created_at, updated_at)
		 VALUES(?,?,?,?,?,?)`,
		name, text, string(kind), fileID, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Template{ID: id, Name: name, Text: text, AttachmentKind: kind, FileID: fileID, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, text, attachment_kind, file_id, created_at, updated_at
		 FROM templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (s *Store) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, text, attachment_kind, file_id, created_at, updated_at
		 FROM templates ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTemplate(ctx context.Context, t *Template) error {
	if t == nil {
		return errors.New("template is nil")
	}
	if strings.TrimSpace(t.Text) == "" {
		return errors.New("template text is required")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE templates SET name=?, text=?, attachment_kind=?, file_id=?, updated_at=? WHERE id=?`,
		t.Name, t.Text, string(t.AttachmentKind), t.FileID, fmtTime(now), t.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- Chat groups ----

func (s *Store) CreateChatGroup(ctx context.Context, name string, chatIDs []int64) (*ChatGroup, error) {
	chatIDs = dedupIDs(chatIDs)
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_groups(name, chat_ids, created_at, updated_at) VALUES(?,?,?,?)`,
		name, marshalIDs(chatIDs), fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &ChatGroup{ID: id, Name: name, ChatIDs: chatIDs, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) GetChatGroup(ctx context.Context, id int64) (*ChatGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, chat_ids, created_at, updated_at FROM chat_groups WHERE id = ?`, id)
	return scanChatGroup(row)
}

func (s *Store) ListChatGroups(ctx context.Context) ([]ChatGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, chat_ids, created_at, updated_at FROM chat_groups ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatGroup
	for rows.Next() {
		g, err := scanChatGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

// ListChatGroupsByIDs returns the groups that exist among ids, in id order.
// Missing ids are silently skipped; the caller decides whether that matters.
func (s *Store) ListChatGroupsByIDs(ctx context.Context, ids []int64) ([]ChatGroup, error) {
	ids = dedupIDs(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	ph := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, chat_ids, created_at, updated_at FROM chat_groups
		 WHERE id IN (`+ph+`) ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChatGroup
	for rows.Next() {
		g, err := scanChatGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) UpdateChatGroup(ctx context.Context, g *ChatGroup) error {
	if g == nil {
		return errors.New("chat group is nil")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE chat_groups SET name=?, chat_ids=?, updated_at=? WHERE id=?`,
		g.Name, marshalIDs(dedupIDs(g.ChatIDs)), fmtTime(now), g.ID,
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) DeleteChatGroup(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chat_groups WHERE id=?`, id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ---- Campaigns ----

// CreateCampaign inserts a new campaign in the pending state. TotalChats is
// the recipient-count snapshot taken at confirmation and never changes.
func (s *Store) CreateCampaign(ctx context.Context, templateID int64, groupIDs []int64, totalChats int) (*Campaign, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO campaigns(template_id, group_ids, total_chats, status, created_at)
		 VALUES(?,?,?,?,?)`,
		templateID, marshalIDs(groupIDs), totalChats, string(CampaignPending), fmtTime(now),
	)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Campaign{
		ID:         id,
		TemplateID: templateID,
		GroupIDs:   append([]int64(nil), groupIDs...),
		TotalChats: totalChats,
		Status:     CampaignPending,
		CreatedAt:  now,
	}, nil
}

// SetCampaignStatus moves a campaign forward in its lifecycle. The WHERE
// guard refuses backward transitions (e.g. completed -> in_progress), so a
// misbehaving caller cannot resurrect a finished campaign.
func (s *Store) SetCampaignStatus(ctx context.Context, id int64, status CampaignStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status=? WHERE id=? AND status NOT IN (?,?)`,
		string(status), id, string(CampaignCompleted), string(CampaignFailed),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// FinishCampaign records the final counters and terminal status.
func (s *Store) FinishCampaign(ctx context.Context, id int64, sent, failed int, status CampaignStatus, completedAt time.Time) error {
	if status != CampaignCompleted && status != CampaignFailed {
		return fmt.Errorf("storage: %q is not a terminal status", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET sent_count=?, failed_count=?, status=?, completed_at=?
		 WHERE id=? AND status NOT IN (?,?)`,
		sent, failed, string(status), fmtTime(completedAt.UTC()),
		id, string(CampaignCompleted), string(CampaignFailed),
	)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *Store) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, group_ids, total_chats, sent_count, failed_count, status, created_at, completed_at
		 FROM campaigns WHERE id = ?`, id)
	return scanCampaign(row)
}

// CampaignHistory returns up to limit campaigns, most recent first.
func (s *Store) CampaignHistory(ctx context.Context, limit int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, template_id, group_ids, total_chats, sent_count, failed_count, status, created_at, completed_at
		 FROM campaigns ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// PruneCampaigns deletes terminal campaigns created before cutoff.
// Running campaigns are never touched.
func (s *Store) PruneCampaigns(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM campaigns WHERE created_at < ? AND status IN (?,?)`,
		fmtTime(cutoff.UTC()), string(CampaignCompleted), string(CampaignFailed),
	)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(r rowScanner) (*Template, error) {
	var t Template
	var kind, created, updated string
	err := r.Scan(&t.ID, &t.Name, &t.Text, &kind, &t.FileID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.AttachmentKind = kit.AttachmentKind(kind)
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func scanChatGroup(r rowScanner) (*ChatGroup, error) {
	var g ChatGroup
	var raw, created, updated string
	err := r.Scan(&g.ID, &g.Name, &raw, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.ChatIDs = unmarshalIDs(raw)
	g.CreatedAt = parseTime(created)
	g.UpdatedAt = parseTime(updated)
	return &g, nil
}

func scanCampaign(r rowScanner) (*Campaign, error) {
	var c Campaign
	var raw, status, created string
	var completed sql.NullString
	err := r.Scan(&c.ID, &c.TemplateID, &raw, &c.TotalChats, &c.SentCount, &c.FailedCount, &status, &created, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.GroupIDs = unmarshalIDs(raw)
	c.Status = CampaignStatus(status)
	c.CreatedAt = parseTime(created)
	if completed.Valid && completed.String != "" {
		t := parseTime(completed.String)
		c.CompletedAt = &t
	}
	return &c, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalIDs(ids []int64) string {
	if len(ids) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalIDs(raw string) []int64 {
	var ids []int64
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}

func dedupIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func fmtTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
