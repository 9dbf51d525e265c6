package session

import (
	"context"
	"time"
)

// StoredMessage 持久化的一条消息。Role 可为空（旧数据未存角色）。
type StoredMessage struct {
	SessionID string    `json:"session_id"`
	Role      string    `json:"role,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo 会话列表条目。
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	FirstTimestamp time.Time `json:"timestamp"`
	FirstMessage   string    `json:"first_message"`
}

// TranscriptStore 持久化会话转录（append-only 有序日志，按 user+session 归档）。
type TranscriptStore interface {
	// AppendBatch 在单个事务内按序追加一批消息，任一失败整体回滚。
	AppendBatch(ctx context.Context, userID, sessionID string, msgs []Message) error

	// List 按时间序返回会话全部消息。
	List(ctx context.Context, userID, sessionID string) ([]StoredMessage, error)

	// Count 返回会话持久化消息数。
	Count(ctx context.Context, userID, sessionID string) (int, error)

	// MostRecent 返回用户最近一条持久化消息，无则 nil。
	MostRecent(ctx context.Context, userID string) (*StoredMessage, error)

	// ListSessions 按最近活跃时间倒序返回用户会话列表。
	ListSessions(ctx context.Context, userID string, limit int) ([]SessionInfo, error)
}

// Profile 用户档案。会话生命周期只关心 CumulativeSummary 与 TotalSessions，
// 其余为展示字段。
type Profile struct {
	UserID            string    `json:"user_id"`
	Username          string    `json:"username"`
	StudentClass      string    `json:"student_class"`
	StudentBoard      string    `json:"student_board"`
	StudentGoals      string    `json:"student_goals"`
	StudentStrengths  string    `json:"student_strengths"`
	StudentWeaknesses string    `json:"student_weaknesses"`
	LearningStyle     string    `json:"student_learning_style"`
	CumulativeSummary string    `json:"cumulative_summary"`
	TotalSessions     int       `json:"total_sessions"`
	CreatedAt         time.Time `json:"created_at"`
}

// ProfileUpdate 会话生命周期对档案的部分更新。nil 字段不变，整体单次提交。
type ProfileUpdate struct {
	CumulativeSummary *string
	TotalSessions     *int
}

// ProfileStore 用户档案存储。
type ProfileStore interface {
	// GetOrCreate 返回档案，不存在则用占位默认值创建。
	GetOrCreate(ctx context.Context, userID string) (*Profile, error)

	// Get 返回档案，不存在返回 nil。
	Get(ctx context.Context, userID string) (*Profile, error)

	// Create 创建档案。
	Create(ctx context.Context, p *Profile) error

	// Update 原子应用部分更新（摘要替换 + 计数自增在同一次提交）。
	Update(ctx context.Context, userID string, upd ProfileUpdate) error

	// UpdateFields 档案 CRUD 用的展示字段更新。
	UpdateFields(ctx context.Context, p *Profile) error
}

// DefaultProfile 首次访问时的占位档案。
func DefaultProfile(userID string) *Profile {
	return &Profile{
		UserID:            userID,
		Username:          "New Student",
		StudentClass:      "N/A",
		StudentBoard:      "N/A",
		StudentGoals:      "Explore topics",
		StudentStrengths:  "Eager to learn",
		StudentWeaknesses: "To be identified",
		LearningStyle:     "Adaptive",
		CumulativeSummary: "",
		TotalSessions:     0,
	}
}
