package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/nexus/pkg/models"
)

const autoTitleMaxLen = 80

// SQLiteStore implements Store against an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	locker sessionLocker

	stmtGetSession    *sql.Stmt
	stmtInsertSession *sql.Stmt
	stmtTouchSession  *sql.Stmt
	stmtSetTitle      *sql.Stmt
	stmtInsertMessage *sql.Stmt
	stmtListMessages  *sql.Stmt
	stmtDeleteMsgs    *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtDetachAttach  *sql.Stmt
}

// Config configures the embedded SQLite connection.
type Config struct {
	// Path is the database file path, e.g. "gateway.db". Use ":memory:"
	// for an ephemeral in-process store (tests, single-shot tools).
	Path string
}

// Open opens (creating if absent) the SQLite database at cfg.Path,
// applies pending migrations, and prepares the store's statements.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("repository: database path is required")
	}

	dsn := cfg.Path
	if !strings.Contains(dsn, "?") && dsn != ":memory:" {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY contention; reads
	// still multiplex within that one *sql.DB handle.
	db.SetMaxOpenConns(1)

	migrator, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := migrator.Up(ctx, 0); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT session_id, title, title_source, saved, timezone, created_at, updated_at
		FROM conversations WHERE session_id = ?
	`)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	s.stmtInsertSession, err = s.db.Prepare(`
		INSERT OR IGNORE INTO conversations (session_id, title, title_source, saved, timezone, created_at, updated_at)
		VALUES (?, NULL, 'auto', 1, 'UTC', ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	s.stmtTouchSession, err = s.db.Prepare(`UPDATE conversations SET updated_at = ? WHERE session_id = ?`)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	s.stmtSetTitle, err = s.db.Prepare(`
		UPDATE conversations SET title = ?, title_source = ?, updated_at = ? WHERE session_id = ?
	`)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}

	s.stmtInsertMessage, err = s.db.Prepare(`
		INSERT INTO messages (session_id, role, content, parent_id, tool_call_id, tool_name, tool_calls, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	s.stmtListMessages, err = s.db.Prepare(`
		SELECT id, session_id, role, content, parent_id, tool_call_id, tool_name, tool_calls, created_at
		FROM messages WHERE session_id = ? ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}

	s.stmtDeleteMsgs, err = s.db.Prepare(`DELETE FROM messages WHERE session_id = ?`)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`DELETE FROM conversations WHERE session_id = ?`)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	s.stmtDetachAttach, err = s.db.Prepare(`UPDATE attachments SET detached = 1 WHERE session_id = ?`)
	if err != nil {
		return fmt.Errorf("detach attachments: %w", err)
	}

	return nil
}

// Close releases the prepared statements and the underlying connection.
func (s *SQLiteStore) Close() error {
	stmts := []*sql.Stmt{
		s.stmtGetSession, s.stmtInsertSession, s.stmtTouchSession, s.stmtSetTitle,
		s.stmtInsertMessage, s.stmtListMessages, s.stmtDeleteMsgs, s.stmtDeleteSession,
		s.stmtDetachAttach,
	}
	for _, stmt := range stmts {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
	return s.db.Close()
}

// AppendMessage implements Store.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, msg *models.Message) (*models.Message, error) {
	release := s.locker.Lock(sessionID)
	defer release()

	now := time.Now().UTC()

	contentJSON, err := json.Marshal(msg.Content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	var toolCallsJSON []byte
	if len(msg.ToolCalls) > 0 {
		toolCallsJSON, err = json.Marshal(msg.ToolCalls)
		if err != nil {
			return nil, fmt.Errorf("marshal tool calls: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.StmtContext(ctx, s.stmtInsertSession).ExecContext(ctx, sessionID, now, now); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	result, err := tx.StmtContext(ctx, s.stmtInsertMessage).ExecContext(ctx,
		sessionID, string(msg.Role), string(contentJSON), msg.ParentID, msg.ToolCallID, msg.ToolName, nullableString(toolCallsJSON), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, now, sessionID); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}

	if msg.Role == models.RoleUser {
		if err := maybeSetAutoTitle(ctx, tx, sessionID, msg.Content.PlainText(), now); err != nil {
			return nil, fmt.Errorf("auto-title: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	stored := *msg
	stored.ID = id
	stored.SessionID = sessionID
	stored.CreatedAt = now
	return &stored, nil
}

func maybeSetAutoTitle(ctx context.Context, tx *sql.Tx, sessionID, text string, now time.Time) error {
	var title sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT title FROM conversations WHERE session_id = ?`, sessionID)
	if err := row.Scan(&title); err != nil {
		return err
	}
	if title.Valid {
		return nil
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE conversations SET title = ?, title_source = 'auto', updated_at = ? WHERE session_id = ?`,
		truncateTitle(text), now, sessionID,
	)
	return err
}

func truncateTitle(text string) string {
	text = strings.TrimSpace(strings.SplitN(text, "\n", 2)[0])
	runes := []rune(text)
	if len(runes) <= autoTitleMaxLen {
		return text
	}
	return string(runes[:autoTitleMaxLen-1]) + "…"
}

// ListMessages implements Store.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string) ([]*models.Message, error) {
	rows, err := s.stmtListMessages.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		msg := &models.Message{}
		var contentJSON string
		var toolCallsJSON sql.NullString

		if err := rows.Scan(
			&msg.ID, &msg.SessionID, &msg.Role, &contentJSON,
			&msg.ParentID, &msg.ToolCallID, &msg.ToolName, &toolCallsJSON, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}

		if err := json.Unmarshal([]byte(contentJSON), &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshal content: %w", err)
		}
		if toolCallsJSON.Valid && toolCallsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("unmarshal tool calls: %w", err)
			}
		}

		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListSessions implements Store.
func (s *SQLiteStore) ListSessions(ctx context.Context, opts ListSessionsOptions) ([]*models.SessionSummary, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT c.session_id, c.title, c.title_source, c.created_at, c.updated_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = c.session_id) AS message_count,
		       (SELECT content FROM messages m WHERE m.session_id = c.session_id AND m.role = 'user' ORDER BY m.id ASC LIMIT 1) AS preview
		FROM conversations c
		WHERE c.saved = 1
	`
	args := []any{}
	if opts.Search != "" {
		query += ` AND (
			lower(coalesce(c.title, '')) LIKE lower(?)
			OR EXISTS (
				SELECT 1 FROM messages m
				WHERE m.session_id = c.session_id AND m.role = 'user' AND lower(m.content) LIKE lower(?)
			)
		)`
		like := "%" + opts.Search + "%"
		args = append(args, like, like)
	}
	query += ` ORDER BY coalesce(c.updated_at, c.created_at) DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []*models.SessionSummary
	for rows.Next() {
		summary := &models.SessionSummary{}
		var title sql.NullString
		var previewJSON sql.NullString

		if err := rows.Scan(
			&summary.SessionID, &title, &summary.TitleSource,
			&summary.CreatedAt, &summary.UpdatedAt, &summary.MessageCount, &previewJSON,
		); err != nil {
			return nil, fmt.Errorf("scan session summary: %w", err)
		}
		if title.Valid {
			summary.Title = &title.String
		}
		if previewJSON.Valid {
			var content models.Content
			if err := json.Unmarshal([]byte(previewJSON.String), &content); err == nil {
				summary.Preview = content.PlainText()
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// GetSession implements Store.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session := &models.Session{}
	var title sql.NullString

	err := s.stmtGetSession.QueryRowContext(ctx, sessionID).Scan(
		&session.ID, &title, &session.TitleSource, &session.Saved, &session.Timezone,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if title.Valid {
		session.Title = &title.String
	}
	return session, nil
}

// SetTitle implements Store.
func (s *SQLiteStore) SetTitle(ctx context.Context, sessionID string, title string, source models.TitleSource) error {
	release := s.locker.Lock(sessionID)
	defer release()

	result, err := s.stmtSetTitle.ExecContext(ctx, title, string(source), time.Now().UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("set title: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession implements Store.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	release := s.locker.Lock(sessionID)
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.StmtContext(ctx, s.stmtDetachAttach).ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("detach attachments: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtDeleteMsgs).ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	result, err := tx.StmtContext(ctx, s.stmtDeleteSession).ExecContext(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// NewSessionID mints an opaque session identifier for callers that don't
// supply their own.
func NewSessionID() string {
	return uuid.NewString()
}
