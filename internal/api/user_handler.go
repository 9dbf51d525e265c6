package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"edututor/internal/domain/session"
	applog "edututor/internal/platform/log"
)

// UserHandler 用户档案 CRUD 处理器
type UserHandler struct {
	profiles session.ProfileStore
}

// NewUserHandler 创建处理器
func NewUserHandler(profiles session.ProfileStore) *UserHandler {
	return &UserHandler{profiles: profiles}
}

// RegisterRoutes 注册路由
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/users", func(r chi.Router) {
		r.Post("/", h.CreateProfile)
		r.Get("/{user_id}", h.GetProfile)
		r.Put("/{user_id}", h.UpdateProfile)
	})
}

type profileRequest struct {
	Username          string `json:"username"`
	StudentClass      string `json:"student_class"`
	StudentBoard      string `json:"student_board"`
	StudentGoals      string `json:"student_goals"`
	StudentStrengths  string `json:"student_strengths"`
	StudentWeaknesses string `json:"student_weaknesses"`
	LearningStyle     string `json:"student_learning_style"`
}

// CreateProfile 创建用户档案，user_id 服务端生成。
func (h *UserHandler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	p := &session.Profile{
		UserID:            uuid.NewString(),
		Username:          req.Username,
		StudentClass:      req.StudentClass,
		StudentBoard:      req.StudentBoard,
		StudentGoals:      req.StudentGoals,
		StudentStrengths:  req.StudentStrengths,
		StudentWeaknesses: req.StudentWeaknesses,
		LearningStyle:     req.LearningStyle,
	}

	if err := h.profiles.Create(r.Context(), p); err != nil {
		applog.Error("[API] Failed to create profile", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	applog.Info("[API] Profile created", "user_id", p.UserID)
	writeJSON(w, http.StatusCreated, p)
}

// GetProfile 按 user_id 查询档案。
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	p, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		applog.Error("[API] Failed to get profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get profile")
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// UpdateProfile 更新档案展示字段。
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeError(w, http.StatusBadRequest, "username is required")
		return
	}

	existing, err := h.profiles.Get(r.Context(), userID)
	if err != nil {
		applog.Error("[API] Failed to get profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	existing.Username = req.Username
	existing.StudentClass = req.StudentClass
	existing.StudentBoard = req.StudentBoard
	existing.StudentGoals = req.StudentGoals
	existing.StudentStrengths = req.StudentStrengths
	existing.StudentWeaknesses = req.StudentWeaknesses
	existing.LearningStyle = req.LearningStyle

	if err := h.profiles.UpdateFields(r.Context(), existing); err != nil {
		applog.Error("[API] Failed to update profile", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	writeJSON(w, http.StatusOK, existing)
}
