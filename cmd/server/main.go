package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"

	"edututor/internal/adapter/provider/llm/openai"
	"edututor/internal/adapter/provider/speech/tencent"
	"edututor/internal/api"
	"edututor/internal/db/postgres"
	redisdb "edututor/internal/db/redis"
	"edututor/internal/domain/conversation"
	"edututor/internal/domain/session"
	"edututor/internal/domain/summary"
	"edututor/internal/platform/config"
	applog "edututor/internal/platform/log"
	"edututor/internal/provider"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Config load failed: %v\n", err)
		os.Exit(1)
	}

	applog.Init(applog.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		applog.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetimeSeconds) * time.Second)

	if err := db.Ping(); err != nil {
		applog.Fatalf("❌ Failed to ping database: %v", err)
	}
	applog.Info("✅ Connected to PostgreSQL")

	transcripts := postgres.NewTranscriptStore(db)
	profiles := postgres.NewProfileStore(db)

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer migrateCancel()
	if err := transcripts.EnsureTable(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure session_messages table: %v", err)
	}
	applog.Info("✅ Session messages table ready")
	if err := profiles.EnsureTable(migrateCtx); err != nil {
		applog.Fatalf("❌ Failed to ensure user_profiles table: %v", err)
	}
	applog.Info("✅ User profiles table ready")

	initLLMProviders(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)

	registry := session.NewRegistry(session.RegistryConfig{
		Store:        transcripts,
		Window:       cfg.Tutor.HistoryWindow,
		ResumeWindow: time.Duration(cfg.Tutor.ResumeWindowHours) * time.Hour,
	})

	synth, recognizer := initSpeech(cfg)

	orchestrator := conversation.NewOrchestrator(registry, profiles, synth, conversation.Config{
		Provider:      cfg.Tutor.Provider,
		Model:         cfg.Tutor.Model,
		Temperature:   cfg.Tutor.Temperature,
		MaxTokens:     cfg.Tutor.MaxTokens,
		HistoryWindow: cfg.Tutor.HistoryWindow,
		LLMTimeout:    time.Duration(cfg.Tutor.LLMTimeoutSeconds) * time.Second,
		TTSTimeout:    time.Duration(cfg.Tutor.TTSTimeoutSeconds) * time.Second,
	})

	pipeline := summary.NewPipeline(registry, transcripts, profiles, summary.Config{
		Provider:   cfg.Summary.Provider,
		Model:      cfg.Summary.Model,
		LLMTimeout: time.Duration(cfg.Tutor.LLMTimeoutSeconds) * time.Second,
	})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.ReadTimeout = time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second
	serverConfig.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second
	server := api.NewServer(serverConfig, registry, transcripts, profiles, orchestrator, pipeline)

	if recognizer != nil {
		server.SetRecognizer(recognizer)
	}
	if cache := initSessionListCache(cfg.Redis.URL); cache != nil {
		server.SetSessionListCache(cache)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		applog.Info("🔄 Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			applog.Errorf("❌ Server shutdown error: %v", err)
		}
	}()

	if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
		applog.Fatalf("❌ Server error: %v", err)
	}

	applog.Info("👋 Server stopped")
}

func initLLMProviders(apiKey, baseURL string) {
	if apiKey == "" {
		applog.Warn("⚠️  No OPENAI_API_KEY set, LLM calls will fail until configured")
	}
	provider.RegisterProvider(openai.New(openai.Config{
		APIKey:  apiKey,
		BaseURL: baseURL,
	}))
	applog.Infof("✅ LLM providers registered: %v", provider.ListProviders())
}

// initSpeech 初始化腾讯云语音。未配置凭证时语音能力整体关闭。
func initSpeech(cfg *config.AppConfig) (conversation.Synthesizer, api.Recognizer) {
	speech, err := tencent.New(tencent.Config{
		SecretID:  cfg.Speech.SecretID,
		SecretKey: cfg.Speech.SecretKey,
		Region:    cfg.Speech.Region,
		VoiceType: cfg.Speech.VoiceType,
	})
	if err != nil {
		applog.Warnf("⚠️  Tencent speech disabled: %v", err)
		return nil, nil
	}
	applog.Info("✅ Tencent speech initialized (TTS + ASR)")
	return speech, speech
}

// initSessionListCache 初始化会话列表缓存。Redis 未配置或不可达时关闭缓存。
func initSessionListCache(redisURL string) *redisdb.SessionListCache {
	if redisURL == "" {
		applog.Info("ℹ️  No REDIS_URL set, session list cache disabled")
		return nil
	}

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		applog.Warnf("⚠️  Redis URL invalid, session list cache disabled: %v", err)
		return nil
	}

	client := goredis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		applog.Warnf("⚠️  Redis ping failed, session list cache disabled: %v", err)
		return nil
	}

	applog.Info("✅ Connected to Redis for session list cache")
	return redisdb.NewSessionListCache(client, 5*time.Minute)
}
