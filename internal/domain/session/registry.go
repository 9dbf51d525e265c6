package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	applog "edututor/internal/platform/log"
)

const (
	// DefaultHistoryWindow 内存缓冲滑动窗口上限。
	DefaultHistoryWindow = 10
	// DefaultResumeWindow 会话可续接窗口。
	DefaultResumeWindow = 2 * time.Hour
)

// Registry 进程内会话注册表：user -> 活跃会话 -> 有界消息缓冲。
// 内存缓冲是工作副本（滑动上下文窗口），TranscriptStore 才是权威副本。
// 同一用户的全部操作由 per-user 互斥锁串行化，避免并发 resolve 双开会话。
type Registry struct {
	store        TranscriptStore
	window       int
	resumeWindow time.Duration
	now          func() time.Time

	mu    sync.Mutex
	users map[string]*userState
}

// RegistryConfig 注册表配置。
type RegistryConfig struct {
	Store        TranscriptStore
	Window       int           // 默认 10
	ResumeWindow time.Duration // 默认 2h
	Now          func() time.Time
}

type userState struct {
	mu       sync.Mutex
	sessions map[string]*sessionBuffer
}

type sessionBuffer struct {
	messages   []Message
	lastActive time.Time
}

// NewRegistry 创建会话注册表。
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Window <= 0 {
		cfg.Window = DefaultHistoryWindow
	}
	if cfg.ResumeWindow <= 0 {
		cfg.ResumeWindow = DefaultResumeWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		store:        cfg.Store,
		window:       cfg.Window,
		resumeWindow: cfg.ResumeWindow,
		now:          cfg.Now,
		users:        make(map[string]*userState),
	}
}

// user 获取（或创建）用户状态。调用方随后持有 st.mu 串行化该用户的操作。
func (r *Registry) user(userID string) *userState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.users[userID]
	if !ok {
		st = &userState{sessions: make(map[string]*sessionBuffer)}
		r.users[userID] = st
	}
	return st
}

// Create 无条件开启新会话（显式创建接口）。
func (r *Registry) Create(userID string) string {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.now()
	id := NewSessionID(now)
	st.sessions[id] = &sessionBuffer{lastActive: now}
	applog.Info("[Registry] Session created", "user_id", userID, "session_id", id)
	return id
}

// ResolveOrCreate 解析用户当前会话：优先内存中窗口内的活跃会话，
// 其次查最近持久化消息（窗口内则续接并加载历史），否则开新会话。
// 同一时刻同一用户经由本调用观察到的当前会话唯一。
func (r *Registry) ResolveOrCreate(ctx context.Context, userID string) (string, bool, error) {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.now()

	// 1. 内存中已有窗口内的会话
	var memID string
	var memLast time.Time
	for id, buf := range st.sessions {
		if now.Sub(buf.lastActive) < r.resumeWindow && buf.lastActive.After(memLast) {
			memID, memLast = id, buf.lastActive
		}
	}
	if memID != "" {
		applog.Debug("[Registry] Resuming in-memory session", "user_id", userID, "session_id", memID)
		return memID, false, nil
	}

	// 2. 最近持久化消息在窗口内则续接
	latest, err := r.store.MostRecent(ctx, userID)
	if err != nil {
		return "", false, fmt.Errorf("lookup most recent message: %w", err)
	}
	if latest != nil {
		age := now.Sub(latest.Timestamp)
		if age < r.resumeWindow {
			if _, ok := st.sessions[latest.SessionID]; !ok {
				if _, err := r.loadLocked(ctx, st, userID, latest.SessionID); err != nil {
					return "", false, err
				}
			}
			applog.Info("[Registry] Resuming recent session",
				"user_id", userID,
				"session_id", latest.SessionID,
				"age", age,
			)
			return latest.SessionID, false, nil
		}
		applog.Info("[Registry] Last session too old to resume",
			"user_id", userID,
			"session_id", latest.SessionID,
			"age", age,
		)
	}

	// 3. 开新会话
	id := NewSessionID(now)
	st.sessions[id] = &sessionBuffer{lastActive: now}
	applog.Info("[Registry] Session created", "user_id", userID, "session_id", id)
	return id, true, nil
}

// Append 追加消息到内存缓冲，超出窗口丢弃最旧的（与已持久化内容无关）。
func (r *Registry) Append(userID, sessionID string, role Role, content string) {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := r.now()
	buf, ok := st.sessions[sessionID]
	if !ok {
		buf = &sessionBuffer{}
		st.sessions[sessionID] = buf
	}
	buf.messages = append(buf.messages, Message{Role: role, Content: content, CreatedAt: now})
	if len(buf.messages) > r.window {
		buf.messages = buf.messages[len(buf.messages)-r.window:]
		applog.Debug("[Registry] Buffer pruned to window",
			"session_id", sessionID,
			"window", r.window,
		)
	}
	buf.lastActive = now
}

// Buffer 返回内存缓冲的副本；会话不在内存时 ok=false。
func (r *Registry) Buffer(userID, sessionID string) ([]Message, bool) {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	buf, ok := st.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return copyMessages(buf.messages), true
}

// LoadFromStore 从持久层重建缓冲并载入内存（首次引用不在内存的会话时）。
func (r *Registry) LoadFromStore(ctx context.Context, userID, sessionID string) ([]Message, error) {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return r.loadLocked(ctx, st, userID, sessionID)
}

// History 读取会话历史：内存优先，未命中则从持久层载入。
func (r *Registry) History(ctx context.Context, userID, sessionID string) ([]Message, error) {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if buf, ok := st.sessions[sessionID]; ok {
		return copyMessages(buf.messages), nil
	}
	return r.loadLocked(ctx, st, userID, sessionID)
}

// FlushAndClear 比较内存与持久化条数，把多出的部分（按位置）单事务落库，
// 然后把会话移出内存。无多余则视为成功的 no-op。
// 持久化失败时缓冲原样保留（会话不出内存），调用方可稍后重试。
// 返回值：落库条数、会话是否确实活跃。
func (r *Registry) FlushAndClear(ctx context.Context, userID, sessionID string) (int, bool, error) {
	st := r.user(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	buf, ok := st.sessions[sessionID]
	if !ok {
		applog.Debug("[Registry] Flush skipped, session not in memory",
			"user_id", userID,
			"session_id", sessionID,
		)
		return 0, false, nil
	}
	if len(buf.messages) == 0 {
		delete(st.sessions, sessionID)
		applog.Debug("[Registry] Flush skipped, empty buffer", "session_id", sessionID)
		return 0, false, nil
	}

	stored, err := r.store.Count(ctx, userID, sessionID)
	if err != nil {
		return 0, true, fmt.Errorf("count stored messages: %w", err)
	}

	saved := 0
	if len(buf.messages) > stored {
		surplus := buf.messages[stored:]
		if err := r.store.AppendBatch(ctx, userID, sessionID, surplus); err != nil {
			applog.Error("[Registry] ❌ Flush failed, buffer retained for retry",
				"user_id", userID,
				"session_id", sessionID,
				"error", err,
			)
			return 0, true, fmt.Errorf("append surplus messages: %w", err)
		}
		saved = len(surplus)
	}

	delete(st.sessions, sessionID)
	applog.Info("[Registry] Session flushed and cleared",
		"user_id", userID,
		"session_id", sessionID,
		"saved", saved,
		"already_stored", stored,
	)
	return saved, true, nil
}

func (r *Registry) loadLocked(ctx context.Context, st *userState, userID, sessionID string) ([]Message, error) {
	stored, err := r.store.List(ctx, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list stored messages: %w", err)
	}

	msgs := ReconstructRoles(stored)
	st.sessions[sessionID] = &sessionBuffer{
		messages:   msgs,
		lastActive: r.now(),
	}
	applog.Info("[Registry] History loaded from store",
		"user_id", userID,
		"session_id", sessionID,
		"messages", len(msgs),
	)
	return copyMessages(msgs), nil
}

// ReconstructRoles 把持久化消息转为带角色的内存消息。
// 有角色列的行直接采用；旧数据（角色为空）按时间序奇偶交替标注，从 user 起。
// 交替标注只是重建启发式，不是保证。
func ReconstructRoles(stored []StoredMessage) []Message {
	msgs := make([]Message, len(stored))
	for i, m := range stored {
		role := Role(m.Role)
		if role != RoleUser && role != RoleAssistant {
			if i%2 == 0 {
				role = RoleUser
			} else {
				role = RoleAssistant
			}
		}
		msgs[i] = Message{Role: role, Content: m.Content, CreatedAt: m.Timestamp}
	}
	return msgs
}

func copyMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}
