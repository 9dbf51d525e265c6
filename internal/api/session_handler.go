package api

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	redisdb "edututor/internal/db/redis"
	"edututor/internal/domain/conversation"
	"edututor/internal/domain/session"
	"edututor/internal/domain/summary"
	applog "edututor/internal/platform/log"
)

// SessionHandler 会话生命周期 API 处理器
type SessionHandler struct {
	registry     *session.Registry
	transcripts  session.TranscriptStore
	profiles     session.ProfileStore
	orchestrator *conversation.Orchestrator
	pipeline     *summary.Pipeline
	cache        *redisdb.SessionListCache // 可为 nil
}

// NewSessionHandler 创建处理器
func NewSessionHandler(
	registry *session.Registry,
	transcripts session.TranscriptStore,
	profiles session.ProfileStore,
	orchestrator *conversation.Orchestrator,
	pipeline *summary.Pipeline,
	cache *redisdb.SessionListCache,
) *SessionHandler {
	return &SessionHandler{
		registry:     registry,
		transcripts:  transcripts,
		profiles:     profiles,
		orchestrator: orchestrator,
		pipeline:     pipeline,
		cache:        cache,
	}
}

// RegisterRoutes 注册路由
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Post("/message", h.PostMessage)
		r.Get("/list/{user_id}", h.ListSessions)
		r.Get("/history/{user_id}/{session_id}", h.GetHistory)
		r.Post("/{session_id}/end", h.EndSession)
	})
}

type createSessionRequest struct {
	UserID string `json:"user_id"`
}

// CreateSession 显式开启新会话。
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if _, err := h.profiles.GetOrCreate(r.Context(), req.UserID); err != nil {
		applog.Error("[API] Failed to ensure profile", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	id := h.registry.Create(req.UserID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": id,
		"timestamp":  time.Now().UTC(),
	})
}

type postMessageRequest struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// PostMessage 发送一条消息并取得助手回复；stream=true 时以 SSE 推送事件流。
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	if req.Stream {
		h.streamMessage(w, r, &req)
		return
	}

	reply, err := h.orchestrator.Respond(r.Context(), req.UserID, req.Message, req.SessionID)
	if err != nil {
		applog.Error("[API] Failed to process message", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       req.UserID,
		"session_id":    reply.SessionID,
		"response_text": reply.Text,
		"response_id":   reply.ResponseID,
	})
}

func (h *SessionHandler) streamMessage(w http.ResponseWriter, r *http.Request, req *postMessageRequest) {
	events, reply, err := h.orchestrator.RespondStream(r.Context(), req.UserID, req.Message, req.SessionID)
	if err != nil {
		applog.Error("[API] Failed to start stream", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", reply.SessionID)
	w.Header().Set("X-Response-ID", reply.ResponseID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	for evt := range events {
		sseWriteEvent(w, flusher, string(evt.Type), streamEventPayload(evt))
	}
}

// streamEventPayload 事件 -> SSE JSON 载荷（音频做 base64）。
func streamEventPayload(evt conversation.Event) map[string]interface{} {
	data := map[string]interface{}{"type": string(evt.Type)}
	switch evt.Type {
	case conversation.EventWord:
		data["word"] = evt.Word
	case conversation.EventAudio:
		data["audio"] = base64.StdEncoding.EncodeToString(evt.Audio)
	case conversation.EventSentenceEnd:
		data["sentence_end"] = true
	case conversation.EventError:
		data["error"] = evt.Error
	}
	return data
}

// ListSessions 用户会话列表（Redis 读缓存 -> 转录存储）。
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	if infos, ok := h.cache.Get(r.Context(), userID, limit); ok {
		writeJSON(w, http.StatusOK, infos)
		return
	}

	infos, err := h.transcripts.ListSessions(r.Context(), userID, limit)
	if err != nil {
		applog.Error("[API] Failed to list sessions", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	if infos == nil {
		infos = []session.SessionInfo{}
	}

	h.cache.Set(r.Context(), userID, limit, infos)
	writeJSON(w, http.StatusOK, infos)
}

// GetHistory 会话完整历史（内存优先，未命中读转录存储）。
func (h *SessionHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	sessionID := chi.URLParam(r, "session_id")

	msgs, err := h.registry.History(r.Context(), userID, sessionID)
	if err != nil {
		applog.Error("[API] Failed to load history",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := make([]map[string]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]string{
			"role":    string(m.Role),
			"content": m.Content,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type endSessionRequest struct {
	UserID string `json:"user_id"`
}

// EndSession 结束会话：落库、移出内存、触发累计摘要更新。
// 会话计数只在摘要提交内部自增，响应如实上报结果。
func (h *SessionHandler) EndSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")

	var req endSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	res := h.pipeline.EndAndSummarize(r.Context(), req.UserID, sessionID)
	h.cache.Invalidate(r.Context(), req.UserID)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":             endSessionMessage(res),
		"user_id":             req.UserID,
		"session_id":          sessionID,
		"ended":               res.Ended,
		"messages_saved":      res.Saved,
		"summary_updated":     res.SummaryUpdated,
		"counter_incremented": res.CounterIncremented,
	})
}

func endSessionMessage(res summary.Result) string {
	msg := "Session not active (already ended/invalid)."
	if res.Ended {
		msg = "Session ended, messages saved."
	}
	if res.SummaryUpdated {
		msg += " Cumulative summary updated by AI. Session count incremented."
	} else {
		msg += " Summary update via AI failed."
	}
	return msg
}
