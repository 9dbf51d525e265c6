package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"edututor/internal/domain/session"
	applog "edututor/internal/platform/log"
)

// ProfileStore user_profiles 表的持久化实现。
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore 创建档案存储。
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// EnsureTable 确保 user_profiles 表存在。
func (s *ProfileStore) EnsureTable(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		id                     UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		user_id                VARCHAR(64) NOT NULL UNIQUE,
		username               VARCHAR(255),
		student_class          VARCHAR(32),
		student_board          VARCHAR(64),
		student_goals          TEXT,
		student_strengths      TEXT,
		student_weaknesses     TEXT,
		student_learning_style VARCHAR(64),
		cumulative_summary     TEXT NOT NULL DEFAULT '',
		total_sessions         INTEGER NOT NULL DEFAULT 0,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_user_profiles_user_id ON user_profiles(user_id);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	if err != nil {
		applog.Error("[Profile/PG] ❌ Failed to create table", "error", err)
	}
	return err
}

const profileColumns = `user_id, COALESCE(username, ''), COALESCE(student_class, ''),
	COALESCE(student_board, ''), COALESCE(student_goals, ''), COALESCE(student_strengths, ''),
	COALESCE(student_weaknesses, ''), COALESCE(student_learning_style, ''),
	cumulative_summary, total_sessions, created_at`

func scanProfile(row *sql.Row) (*session.Profile, error) {
	var p session.Profile
	err := row.Scan(
		&p.UserID, &p.Username, &p.StudentClass,
		&p.StudentBoard, &p.StudentGoals, &p.StudentStrengths,
		&p.StudentWeaknesses, &p.LearningStyle,
		&p.CumulativeSummary, &p.TotalSessions, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Get 返回档案，不存在返回 nil。
func (s *ProfileStore) Get(ctx context.Context, userID string) (*session.Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE user_id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query profile: %w", err)
	}
	return p, nil
}

// GetOrCreate 返回档案，不存在则用占位默认值创建（懒创建）。
func (s *ProfileStore) GetOrCreate(ctx context.Context, userID string) (*session.Profile, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	def := session.DefaultProfile(userID)
	// ON CONFLICT 兜底并发创建
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profiles
		 (user_id, username, student_class, student_board, student_goals,
		  student_strengths, student_weaknesses, student_learning_style,
		  cumulative_summary, total_sessions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (user_id) DO NOTHING`,
		def.UserID, def.Username, def.StudentClass, def.StudentBoard, def.StudentGoals,
		def.StudentStrengths, def.StudentWeaknesses, def.LearningStyle,
		def.CumulativeSummary, def.TotalSessions,
	); err != nil {
		return nil, fmt.Errorf("create default profile: %w", err)
	}

	applog.Info("[Profile/PG] Default profile created", "user_id", userID)
	return s.Get(ctx, userID)
}

// Create 创建档案。
func (s *ProfileStore) Create(ctx context.Context, p *session.Profile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_profiles
		 (user_id, username, student_class, student_board, student_goals,
		  student_strengths, student_weaknesses, student_learning_style,
		  cumulative_summary, total_sessions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.UserID, p.Username, p.StudentClass, p.StudentBoard, p.StudentGoals,
		p.StudentStrengths, p.StudentWeaknesses, p.LearningStyle,
		p.CumulativeSummary, p.TotalSessions,
	)
	if err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// Update 原子应用部分更新：摘要替换与计数更新在同一条语句内提交。
func (s *ProfileStore) Update(ctx context.Context, userID string, upd session.ProfileUpdate) error {
	sets := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)

	if upd.CumulativeSummary != nil {
		args = append(args, *upd.CumulativeSummary)
		sets = append(sets, fmt.Sprintf("cumulative_summary = $%d", len(args)))
	}
	if upd.TotalSessions != nil {
		args = append(args, *upd.TotalSessions)
		sets = append(sets, fmt.Sprintf("total_sessions = $%d", len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, userID)
	query := fmt.Sprintf("UPDATE user_profiles SET %s WHERE user_id = $%d",
		strings.Join(sets, ", "), len(args))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile not found: %s", userID)
	}
	return nil
}

// UpdateFields 更新展示字段（档案 CRUD）。
func (s *ProfileStore) UpdateFields(ctx context.Context, p *session.Profile) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_profiles
		 SET username = $1, student_class = $2, student_board = $3, student_goals = $4,
		     student_strengths = $5, student_weaknesses = $6, student_learning_style = $7
		 WHERE user_id = $8`,
		p.Username, p.StudentClass, p.StudentBoard, p.StudentGoals,
		p.StudentStrengths, p.StudentWeaknesses, p.LearningStyle, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("update profile fields: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile not found: %s", p.UserID)
	}
	return nil
}
