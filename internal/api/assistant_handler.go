package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"edututor/internal/domain/conversation"
	applog "edututor/internal/platform/log"
)

// Recognizer 把语音音频转写为文本。
type Recognizer interface {
	Recognize(ctx context.Context, audio []byte, format string) (string, error)
}

// AssistantHandler 非流式助手入口（文本与语音）。
type AssistantHandler struct {
	orchestrator *conversation.Orchestrator
	recognizer   Recognizer
}

// NewAssistantHandler 创建处理器。recognizer 可为 nil，语音入口将返回 503。
func NewAssistantHandler(orch *conversation.Orchestrator, rec Recognizer) *AssistantHandler {
	return &AssistantHandler{orchestrator: orch, recognizer: rec}
}

// RegisterRoutes 注册路由
func (h *AssistantHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/assistant", func(r chi.Router) {
		r.Post("/chat", h.Chat)
		r.Post("/voice", h.Voice)
	})
}

type chatRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// Chat 单轮文本对话，会话由可恢复窗口自动解析。
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return
	}

	reply, err := h.orchestrator.Respond(r.Context(), req.UserID, req.Text, "")
	if err != nil {
		applog.Error("[API] Assistant chat failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate response")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       req.UserID,
		"response_text": reply.Text,
		"audio_url":     nil,
		"response_id":   reply.ResponseID,
	})
}

type voiceRequest struct {
	UserID string `json:"user_id"`
	Audio  string `json:"audio"`            // base64
	Format string `json:"format,omitempty"` // mp3/wav 等，默认 wav
}

// Voice 语音对话：转写后走同一条对话链路。
func (h *AssistantHandler) Voice(w http.ResponseWriter, r *http.Request) {
	if h.recognizer == nil {
		writeError(w, http.StatusServiceUnavailable, "speech recognition is not configured")
		return
	}

	var req voiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Audio == "" {
		writeError(w, http.StatusBadRequest, "user_id and audio are required")
		return
	}

	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "audio must be valid base64")
		return
	}
	format := req.Format
	if format == "" {
		format = "wav"
	}

	text, err := h.recognizer.Recognize(r.Context(), audio, format)
	if err != nil {
		applog.Error("[API] Speech recognition failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to transcribe audio")
		return
	}
	if text == "" {
		writeError(w, http.StatusBadRequest, "no speech detected in audio")
		return
	}

	reply, err := h.orchestrator.Respond(r.Context(), req.UserID, text, "")
	if err != nil {
		applog.Error("[API] Assistant voice failed", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to generate response")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":       req.UserID,
		"transcript":    text,
		"response_text": reply.Text,
		"response_id":   reply.ResponseID,
		"session_id":    reply.SessionID,
	})
}
