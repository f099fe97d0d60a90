package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/forkchat/pkg/conversation"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    root_message_ids TEXT NOT NULL DEFAULT '',
    created_at_ns INTEGER NOT NULL,
    updated_at_ns INTEGER NOT NULL,
    version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    parent_id TEXT NOT NULL DEFAULT '',
    branch_id TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    is_edited INTEGER NOT NULL DEFAULT 0,
    original_content TEXT,
    created_at_ns INTEGER NOT NULL,
    updated_at_ns INTEGER NOT NULL,
    version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
CREATE TABLE IF NOT EXISTS branches (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    root_message_id TEXT NOT NULL DEFAULT '',
    parent_branch_id TEXT NOT NULL DEFAULT '',
    head_message_id TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 0,
    created_at_ns INTEGER NOT NULL,
    version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_branches_conversation ON branches(conversation_id);
`

const (
	conversationColumns = `id, title, root_message_ids, created_at_ns, updated_at_ns, version`
	messageColumns      = `id, conversation_id, parent_id, branch_id, role, content, is_edited, original_content, created_at_ns, updated_at_ns, version`
	branchColumns       = `id, conversation_id, root_message_id, parent_branch_id, head_message_id, name, is_active, created_at_ns, version`
)

// sqlRunner is satisfied by both *sql.DB and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// SQLiteAdapter stores conversations in three tables. Every write runs in
// one transaction that performs the version checks before touching a row.
type SQLiteAdapter struct {
	mu     sync.RWMutex
	dsn    string
	db     *sql.DB
	closed bool
}

var _ Adapter = (*SQLiteAdapter)(nil)

func NewSQLiteAdapter(dsn string) (*SQLiteAdapter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite adapter: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, persistenceError("open sqlite", err)
	}
	s := &SQLiteAdapter{dsn: dsn, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, persistenceError("migrate sqlite", err)
	}
	return s, nil
}

// SQLiteDSNForFile builds a DSN with WAL journaling, a busy timeout and
// immediate write transactions so concurrent writers queue instead of failing.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite adapter: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path), nil
}

func (s *SQLiteAdapter) migrate() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return err
	}
	_, err := s.db.Exec(sqliteSchemaV1)
	return err
}

func (s *SQLiteAdapter) LoadConversation(ctx context.Context, id conversation.ID) (*conversation.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}

	header, ok, err := getConversation(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &conversation.NotFoundError{Resource: "conversation", ID: id}
	}
	ret := &conversation.Snapshot{Conversation: header}

	rows, err := s.db.QueryContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, persistenceError("load messages", err)
	}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		ret.Messages = append(ret.Messages, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, persistenceError("load messages", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE conversation_id = ? ORDER BY id`, id.String())
	if err != nil {
		return nil, persistenceError("load branches", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		ret.Branches = append(ret.Branches, b)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("load branches", err)
	}
	return ret, nil
}

func (s *SQLiteAdapter) ListConversations(ctx context.Context) ([]*conversation.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+` FROM conversations ORDER BY created_at_ns ASC, id ASC`)
	if err != nil {
		return nil, persistenceError("list conversations", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := []*conversation.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistenceError("list conversations", err)
	}
	return ret, nil
}

func (s *SQLiteAdapter) SaveConversation(ctx context.Context, c *conversation.Conversation) error {
	if c == nil {
		return &conversation.InvalidOperationError{Op: "save conversation", Reason: "conversation is nil"}
	}
	return s.Apply(ctx, &conversation.Delta{Conversation: c})
}

func (s *SQLiteAdapter) SaveMessages(ctx context.Context, msgs []*conversation.Message) error {
	return s.inTx(ctx, "save messages", func(tx *sql.Tx) error {
		for _, m := range msgs {
			if err := requireConversation(ctx, tx, m.ConversationID); err != nil {
				return err
			}
			if err := saveMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteAdapter) DeleteMessages(ctx context.Context, ids []conversation.ID) error {
	return s.inTx(ctx, "delete messages", func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "messages", ids)
	})
}

func (s *SQLiteAdapter) SaveBranches(ctx context.Context, branches []*conversation.Branch) error {
	return s.inTx(ctx, "save branches", func(tx *sql.Tx) error {
		for _, b := range branches {
			if err := requireConversation(ctx, tx, b.ConversationID); err != nil {
				return err
			}
			if err := saveBranch(ctx, tx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteAdapter) DeleteBranches(ctx context.Context, ids []conversation.ID) error {
	return s.inTx(ctx, "delete branches", func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "branches", ids)
	})
}

func (s *SQLiteAdapter) DeleteConversation(ctx context.Context, id conversation.ID) error {
	return s.inTx(ctx, "delete conversation", func(tx *sql.Tx) error {
		if err := requireConversation(ctx, tx, id); err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM messages WHERE conversation_id = ?`,
			`DELETE FROM branches WHERE conversation_id = ?`,
			`DELETE FROM conversations WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, id.String()); err != nil {
				return persistenceError("delete conversation", err)
			}
		}
		return nil
	})
}

func (s *SQLiteAdapter) Apply(ctx context.Context, delta *conversation.Delta) error {
	if delta.IsEmpty() {
		return nil
	}
	c := delta.Conversation
	if c == nil {
		return &conversation.InvalidOperationError{Op: "apply", Reason: "delta has no conversation header"}
	}
	return s.inTx(ctx, "apply", func(tx *sql.Tx) error {
		existing, ok, err := getConversation(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		var stored *uint64
		if ok {
			stored = &existing.Version
		}
		skip, err := versionCheck("conversation", c.ID, stored, c.Version, func() bool {
			return sameConversation(existing, c)
		})
		if err != nil {
			return err
		}
		if !skip {
			if err := upsertConversation(ctx, tx, c); err != nil {
				return err
			}
		}

		for _, m := range delta.SavedMessages {
			if m.ConversationID != c.ID {
				return &conversation.InvalidOperationError{Op: "apply", Reason: fmt.Sprintf("message %s belongs to conversation %s", m.ID, m.ConversationID)}
			}
			if err := saveMessage(ctx, tx, m); err != nil {
				return err
			}
		}
		for _, b := range delta.SavedBranches {
			if b.ConversationID != c.ID {
				return &conversation.InvalidOperationError{Op: "apply", Reason: fmt.Sprintf("branch %s belongs to conversation %s", b.ID, b.ConversationID)}
			}
			if err := saveBranch(ctx, tx, b); err != nil {
				return err
			}
		}
		if err := deleteByID(ctx, tx, "messages", delta.DeletedMessages); err != nil {
			return err
		}
		return deleteByID(ctx, tx, "branches", delta.DeletedBranches)
	})
}

func (s *SQLiteAdapter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// inTx runs fn in a transaction and rolls back on any error. Errors from fn
// that are already typed pass through; driver errors are wrapped.
func (s *SQLiteAdapter) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistenceError(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistenceError(op, err)
	}
	return nil
}

func (s *SQLiteAdapter) ensureOpen() error {
	if s.closed {
		return persistenceError("open", fmt.Errorf("sqlite adapter closed"))
	}
	if s.db == nil {
		return persistenceError("open", fmt.Errorf("sqlite adapter db is nil"))
	}
	return nil
}

func requireConversation(ctx context.Context, q sqlRunner, id conversation.ID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, id.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return &conversation.NotFoundError{Resource: "conversation", ID: id}
	}
	if err != nil {
		return persistenceError("lookup conversation", err)
	}
	return nil
}

func getConversation(ctx context.Context, q sqlRunner, id conversation.ID) (*conversation.Conversation, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id.String())
	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func saveMessage(ctx context.Context, q sqlRunner, m *conversation.Message) error {
	row := q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, m.ID.String())
	existing, err := scanMessage(row)
	var stored *uint64
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if existing.ConversationID != m.ConversationID {
			return &conversation.InvalidOperationError{Op: "save message", Reason: fmt.Sprintf("message %s belongs to conversation %s", m.ID, existing.ConversationID)}
		}
		stored = &existing.Version
	}
	skip, err := versionCheck("message", m.ID, stored, m.Version, func() bool {
		return sameMessage(existing, m)
	})
	if err != nil || skip {
		return err
	}

	var original interface{}
	if m.OriginalContent != nil {
		original = *m.OriginalContent
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    parent_id = excluded.parent_id,
    branch_id = excluded.branch_id,
    role = excluded.role,
    content = excluded.content,
    is_edited = excluded.is_edited,
    original_content = excluded.original_content,
    created_at_ns = excluded.created_at_ns,
    updated_at_ns = excluded.updated_at_ns,
    version = excluded.version`,
		m.ID.String(),
		m.ConversationID.String(),
		idText(m.ParentID),
		idText(m.BranchID),
		m.Role.String(),
		m.Content,
		boolInt(m.IsEdited),
		original,
		m.CreatedAt.UnixNano(),
		m.UpdatedAt.UnixNano(),
		int64(m.Version+1),
	)
	return persistenceError("save message", err)
}

func saveBranch(ctx context.Context, q sqlRunner, b *conversation.Branch) error {
	row := q.QueryRowContext(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = ?`, b.ID.String())
	existing, err := scanBranch(row)
	var stored *uint64
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return err
	default:
		if existing.ConversationID != b.ConversationID {
			return &conversation.InvalidOperationError{Op: "save branch", Reason: fmt.Sprintf("branch %s belongs to conversation %s", b.ID, existing.ConversationID)}
		}
		stored = &existing.Version
	}
	skip, err := versionCheck("branch", b.ID, stored, b.Version, func() bool {
		return sameBranch(existing, b)
	})
	if err != nil || skip {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO branches (`+branchColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    root_message_id = excluded.root_message_id,
    parent_branch_id = excluded.parent_branch_id,
    head_message_id = excluded.head_message_id,
    name = excluded.name,
    is_active = excluded.is_active,
    created_at_ns = excluded.created_at_ns,
    version = excluded.version`,
		b.ID.String(),
		b.ConversationID.String(),
		idText(b.RootMessageID),
		idText(b.ParentBranchID),
		idText(b.HeadMessageID),
		b.Name,
		boolInt(b.IsActive),
		b.CreatedAt.UnixNano(),
		int64(b.Version+1),
	)
	return persistenceError("save branch", err)
}

func upsertConversation(ctx context.Context, q sqlRunner, c *conversation.Conversation) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO conversations (`+conversationColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    root_message_ids = excluded.root_message_ids,
    created_at_ns = excluded.created_at_ns,
    updated_at_ns = excluded.updated_at_ns,
    version = excluded.version`,
		c.ID.String(),
		c.Title,
		joinIDs(c.RootMessageIDs),
		c.CreatedAt.UnixNano(),
		c.UpdatedAt.UnixNano(),
		int64(c.Version+1),
	)
	return persistenceError("save conversation", err)
}

func deleteByID(ctx context.Context, q sqlRunner, table string, ids []conversation.ID) error {
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id.String()); err != nil {
			return persistenceError("delete "+table, err)
		}
	}
	return nil
}

func scanConversation(row rowScanner) (*conversation.Conversation, error) {
	var (
		id, title, roots     string
		createdAt, updatedAt int64
		version              int64
	)
	if err := row.Scan(&id, &title, &roots, &createdAt, &updatedAt, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, persistenceError("scan conversation", err)
	}
	cid, err := conversation.ParseID(id)
	if err != nil {
		return nil, persistenceError("decode conversation", err)
	}
	rootIDs, err := splitIDs(roots)
	if err != nil {
		return nil, persistenceError("decode conversation", err)
	}
	return &conversation.Conversation{
		ID:             cid,
		Title:          title,
		RootMessageIDs: rootIDs,
		CreatedAt:      fromNanos(createdAt),
		UpdatedAt:      fromNanos(updatedAt),
		Version:        uint64(version),
	}, nil
}

func scanMessage(row rowScanner) (*conversation.Message, error) {
	var (
		id, convID, parentID, branchID string
		role, content                  string
		isEdited                       int
		original                       sql.NullString
		createdAt, updatedAt           int64
		version                        int64
	)
	if err := row.Scan(&id, &convID, &parentID, &branchID, &role, &content, &isEdited, &original, &createdAt, &updatedAt, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, persistenceError("scan message", err)
	}
	rec := messageRecord{
		ID:             id,
		ConversationID: convID,
		ParentID:       parentID,
		BranchID:       branchID,
		Role:           role,
		Content:        content,
		IsEdited:       isEdited != 0,
		CreatedAt:      fromNanos(createdAt),
		UpdatedAt:      fromNanos(updatedAt),
		Version:        uint64(version),
	}
	if original.Valid {
		rec.OriginalContent = &original.String
	}
	m, err := rec.toMessage()
	if err != nil {
		return nil, persistenceError("decode message", err)
	}
	return m, nil
}

func scanBranch(row rowScanner) (*conversation.Branch, error) {
	var (
		id, convID, rootID, parentID, headID, name string
		isActive                                   int
		createdAt, version                         int64
	)
	if err := row.Scan(&id, &convID, &rootID, &parentID, &headID, &name, &isActive, &createdAt, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, persistenceError("scan branch", err)
	}
	rec := branchRecord{
		ID:             id,
		ConversationID: convID,
		RootMessageID:  rootID,
		ParentBranchID: parentID,
		HeadMessageID:  headID,
		Name:           name,
		IsActive:       isActive != 0,
		CreatedAt:      fromNanos(createdAt),
		Version:        uint64(version),
	}
	b, err := rec.toBranch()
	if err != nil {
		return nil, persistenceError("decode branch", err)
	}
	return b, nil
}

func idText(id conversation.ID) string {
	if id.IsNull() {
		return ""
	}
	return id.String()
}

func joinIDs(ids []conversation.ID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) ([]conversation.ID, error) {
	if s == "" {
		return nil, nil
	}
	var ret []conversation.ID
	for _, part := range strings.Split(s, ",") {
		id, err := conversation.ParseID(part)
		if err != nil {
			return nil, err
		}
		ret = append(ret, id)
	}
	return ret, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fromNanos(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
