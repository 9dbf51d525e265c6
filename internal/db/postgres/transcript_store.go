package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"edututor/internal/domain/session"
	applog "edututor/internal/platform/log"
)

// TranscriptStore session_messages 表的持久化实现。
// append-only：消息只增不改，按 (user_id, session_id, created_at) 归档。
type TranscriptStore struct {
	db *sql.DB
}

// NewTranscriptStore 创建转录存储。
func NewTranscriptStore(db *sql.DB) *TranscriptStore {
	return &TranscriptStore{db: db}
}

// EnsureTable 确保 session_messages 表存在。
// role 列可空：早期数据未存角色，读取侧按交替启发式回退。
func (s *TranscriptStore) EnsureTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS session_messages (
		id         BIGSERIAL PRIMARY KEY,
		user_id    VARCHAR(64) NOT NULL,
		session_id VARCHAR(128) NOT NULL,
		role       VARCHAR(16),
		message    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_session_messages_session ON session_messages(user_id, session_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_session_messages_user_ts ON session_messages(user_id, created_at DESC);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		applog.Error("[Transcript/PG] ❌ Failed to create table", "error", err)
	}
	return err
}

// AppendBatch 单事务按序追加一批消息，任一失败整体回滚。
func (s *TranscriptStore) AppendBatch(ctx context.Context, userID, sessionID string, msgs []session.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_messages (user_id, session_id, role, message, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, sessionID, string(m.Role), m.Content, m.CreatedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	applog.Info("[Transcript/PG] Batch appended",
		"user_id", userID,
		"session_id", sessionID,
		"count", len(msgs),
	)
	return nil
}

// List 按时间序返回会话全部消息。
func (s *TranscriptStore) List(ctx context.Context, userID, sessionID string) ([]session.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COALESCE(role, ''), message, created_at
		 FROM session_messages
		 WHERE user_id = $1 AND session_id = $2
		 ORDER BY created_at, id`,
		userID, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []session.StoredMessage
	for rows.Next() {
		var m session.StoredMessage
		if err := rows.Scan(&m.SessionID, &m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Count 返回会话持久化消息数。
func (s *TranscriptStore) Count(ctx context.Context, userID, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_messages WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// MostRecent 返回用户最近一条消息，无则 nil。
func (s *TranscriptStore) MostRecent(ctx context.Context, userID string) (*session.StoredMessage, error) {
	var m session.StoredMessage
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, COALESCE(role, ''), message, created_at
		 FROM session_messages
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT 1`,
		userID,
	).Scan(&m.SessionID, &m.Role, &m.Content, &m.Timestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query most recent message: %w", err)
	}
	return &m, nil
}

// ListSessions 按最近活跃时间倒序返回会话列表（首条时间 + 首条消息摘片）。
func (s *TranscriptStore) ListSessions(ctx context.Context, userID string, limit int) ([]session.SessionInfo, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,
		        MIN(created_at) AS first_ts,
		        (ARRAY_AGG(message ORDER BY created_at, id))[1] AS first_message
		 FROM session_messages
		 WHERE user_id = $1
		 GROUP BY session_id
		 ORDER BY MAX(created_at) DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var infos []session.SessionInfo
	for rows.Next() {
		var info session.SessionInfo
		var first string
		if err := rows.Scan(&info.SessionID, &info.FirstTimestamp, &first); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.FirstMessage = snippet(first, 50)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// snippet 截取前 n 个 rune，超出加省略号。
func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
