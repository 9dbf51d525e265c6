package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig 全局配置。启动时统一加载，再按模块提取使用。
type AppConfig struct {
	LogLevel  string         `json:"log_level"`
	LogFormat string         `json:"log_format"`
	Server    ServerConfig   `json:"server"`
	Database  DatabaseConfig `json:"database"`
	Redis     RedisConfig    `json:"redis"`
	OpenAI    OpenAIConfig   `json:"openai"`
	Tutor     TutorConfig    `json:"tutor"`
	Summary   SummaryConfig  `json:"summary"`
	Speech    SpeechConfig   `json:"speech"`
}

type ServerConfig struct {
	Host                string `json:"host"`
	Port                int    `json:"port"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
}

type DatabaseConfig struct {
	URL                    string `json:"url"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
}

type RedisConfig struct {
	URL string `json:"url"` // 可为空：会话列表缓存关闭
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

// TutorConfig 对话编排配置。
type TutorConfig struct {
	Provider           string  `json:"provider"`
	Model              string  `json:"model"`
	Temperature        float64 `json:"temperature"`
	MaxTokens          int     `json:"max_tokens"`
	HistoryWindow      int     `json:"history_window"`       // 内存缓冲 + prompt 历史上限
	ResumeWindowHours  int     `json:"resume_window_hours"`  // 会话可续接窗口
	LLMTimeoutSeconds  int     `json:"llm_timeout_seconds"`  // 单次补全超时
	TTSTimeoutSeconds  int     `json:"tts_timeout_seconds"`  // 单句合成超时
	StreamMaxTokens    int     `json:"stream_max_tokens"`
}

type SummaryConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// SpeechConfig 腾讯云语音配置（TTS + ASR）。凭证为空则语音能力关闭。
type SpeechConfig struct {
	SecretID  string `json:"secret_id"`
	SecretKey string `json:"secret_key"`
	Region    string `json:"region"`
	VoiceType int64  `json:"voice_type"`
}

// Default 返回默认配置。
func Default() *AppConfig {
	return &AppConfig{
		LogLevel:  "info",
		LogFormat: "text",
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  30,
			WriteTimeoutSeconds: 600, // 流式响应需要较长写超时
		},
		Database: DatabaseConfig{
			MaxOpenConns:           25,
			MaxIdleConns:           5,
			ConnMaxLifetimeSeconds: 300,
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Tutor: TutorConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxTokens:         1000,
			HistoryWindow:     10,
			ResumeWindowHours: 2,
			LLMTimeoutSeconds: 60,
			TTSTimeoutSeconds: 15,
			StreamMaxTokens:   1000,
		},
		Summary: SummaryConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Speech: SpeechConfig{
			Region:    "ap-mumbai",
			VoiceType: 101001,
		},
	}
}

// Load 加载全局配置：默认值 -> 配置文件 -> 环境变量。
// 配置文件路径通过 APP_CONFIG_FILE 指定（JSON）。
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		// .env 非必需，忽略错误
	}

	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read APP_CONFIG_FILE %q failed: %w", path, err)
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse APP_CONFIG_FILE %q failed: %w", path, err)
	}
	return nil
}

func (c *AppConfig) applyEnv() {
	applyString("LOG_LEVEL", &c.LogLevel)
	applyString("LOG_FORMAT", &c.LogFormat)

	applyString("HOST", &c.Server.Host)
	applyInt("PORT", &c.Server.Port)
	applyInt("SERVER_READ_TIMEOUT", &c.Server.ReadTimeoutSeconds)
	applyInt("SERVER_WRITE_TIMEOUT", &c.Server.WriteTimeoutSeconds)

	applyString("DATABASE_URL", &c.Database.URL)
	applyInt("DATABASE_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	applyInt("DATABASE_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)
	applyInt("DATABASE_CONN_MAX_LIFETIME", &c.Database.ConnMaxLifetimeSeconds)

	applyString("REDIS_URL", &c.Redis.URL)

	applyString("OPENAI_API_KEY", &c.OpenAI.APIKey)
	applyString("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	applyString("TUTOR_LLM_PROVIDER", &c.Tutor.Provider)
	applyString("TUTOR_LLM_MODEL", &c.Tutor.Model)
	applyFloat64("TUTOR_LLM_TEMPERATURE", &c.Tutor.Temperature)
	applyInt("TUTOR_LLM_MAX_TOKENS", &c.Tutor.MaxTokens)
	applyInt("TUTOR_HISTORY_WINDOW", &c.Tutor.HistoryWindow)
	applyInt("TUTOR_RESUME_WINDOW_HOURS", &c.Tutor.ResumeWindowHours)
	applyInt("TUTOR_LLM_TIMEOUT", &c.Tutor.LLMTimeoutSeconds)
	applyInt("TUTOR_TTS_TIMEOUT", &c.Tutor.TTSTimeoutSeconds)

	applyString("SUMMARY_LLM_PROVIDER", &c.Summary.Provider)
	applyString("SUMMARY_LLM_MODEL", &c.Summary.Model)

	applyString("TENCENT_SECRET_ID", &c.Speech.SecretID)
	applyString("TENCENT_SECRET_KEY", &c.Speech.SecretKey)
	applyString("TENCENT_REGION", &c.Speech.Region)
	if v := os.Getenv("TENCENT_VOICE_TYPE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Speech.VoiceType = n
		}
	}
}

func (c *AppConfig) validate() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Tutor.HistoryWindow <= 0 {
		return fmt.Errorf("TUTOR_HISTORY_WINDOW must be positive")
	}
	if c.Tutor.ResumeWindowHours <= 0 {
		return fmt.Errorf("TUTOR_RESUME_WINDOW_HOURS must be positive")
	}
	return nil
}

func applyString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyInt(key string, target *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func applyFloat64(key string, target *float64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*target = n
		}
	}
}
