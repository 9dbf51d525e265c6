package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	redisdb "edututor/internal/db/redis"
	"edututor/internal/domain/conversation"
	"edututor/internal/domain/session"
	"edututor/internal/domain/summary"
	applog "edututor/internal/platform/log"
)

// ServerConfig 服务配置
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig 默认配置
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // SSE 需要较长写超时
	}
}

// Server HTTP 服务器
type Server struct {
	config       *ServerConfig
	registry     *session.Registry
	transcripts  session.TranscriptStore
	profiles     session.ProfileStore
	orchestrator *conversation.Orchestrator
	pipeline     *summary.Pipeline
	cache        *redisdb.SessionListCache
	recognizer   Recognizer
	httpSrv      *http.Server
}

// NewServer 创建服务器
func NewServer(
	config *ServerConfig,
	registry *session.Registry,
	transcripts session.TranscriptStore,
	profiles session.ProfileStore,
	orchestrator *conversation.Orchestrator,
	pipeline *summary.Pipeline,
) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	return &Server{
		config:       config,
		registry:     registry,
		transcripts:  transcripts,
		profiles:     profiles,
		orchestrator: orchestrator,
		pipeline:     pipeline,
	}
}

// SetSessionListCache 设置会话列表缓存（可选，仅在 Redis 配置时启用）
func (s *Server) SetSessionListCache(cache *redisdb.SessionListCache) {
	s.cache = cache
}

// SetRecognizer 设置语音识别器（可选，仅在腾讯云配置时启用）
func (s *Server) SetRecognizer(rec Recognizer) {
	s.recognizer = rec
}

// Start 启动服务器
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	applog.Infof("🚀 Tutor API server starting on %s", addr)
	return s.httpSrv.ListenAndServe()
}

// Stop 优雅停机
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv != nil {
		return s.httpSrv.Shutdown(ctx)
	}
	return nil
}

// Handler 返回 HTTP Handler（用于测试）
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	sessionHandler := NewSessionHandler(s.registry, s.transcripts, s.profiles, s.orchestrator, s.pipeline, s.cache)
	userHandler := NewUserHandler(s.profiles)
	assistantHandler := NewAssistantHandler(s.orchestrator, s.recognizer)

	sessionHandler.RegisterRoutes(r)
	userHandler.RegisterRoutes(r)
	assistantHandler.RegisterRoutes(r)

	if s.recognizer != nil {
		applog.Info("🎤 Voice API enabled")
	}
	return r
}
