package tencent

import (
	"context"
	"encoding/base64"
	"fmt"

	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tts "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tts/v20190823"

	applog "edututor/internal/platform/log"

	"github.com/google/uuid"
)

// Config 腾讯云语音服务配置。
type Config struct {
	SecretID  string
	SecretKey string
	Region    string // 默认 ap-mumbai
	VoiceType int64  // TTS 音色，默认 101001
}

// Speech 腾讯云语音适配器：TextToVoice 一次性合成 + SentenceRecognition 一句话识别。
type Speech struct {
	ttsClient *tts.Client
	asrClient *asr.Client
	voiceType int64
}

// New 创建语音适配器。凭证缺失返回错误，由上层决定降级。
func New(cfg Config) (*Speech, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tencent speech credentials not configured")
	}
	if cfg.Region == "" {
		cfg.Region = "ap-mumbai"
	}
	if cfg.VoiceType == 0 {
		cfg.VoiceType = 101001
	}

	cred := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()

	ttsClient, err := tts.NewClient(cred, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("create tts client: %w", err)
	}
	asrClient, err := asr.NewClient(cred, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("create asr client: %w", err)
	}

	applog.Info("[Speech/Tencent] Adapter initialized",
		"region", cfg.Region,
		"voice_type", cfg.VoiceType,
	)
	return &Speech{
		ttsClient: ttsClient,
		asrClient: asrClient,
		voiceType: cfg.VoiceType,
	}, nil
}

// Synthesize 合成一段文本为 mp3 音频字节。
func (s *Speech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	req := tts.NewTextToVoiceRequest()
	req.Text = common.StringPtr(text)
	req.SessionId = common.StringPtr(uuid.NewString())
	req.VoiceType = common.Int64Ptr(s.voiceType)
	req.Codec = common.StringPtr("mp3")

	resp, err := s.ttsClient.TextToVoiceWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("tts TextToVoice: %w", err)
	}
	if resp.Response == nil || resp.Response.Audio == nil {
		return nil, fmt.Errorf("tts TextToVoice: empty audio in response")
	}

	audio, err := base64.StdEncoding.DecodeString(*resp.Response.Audio)
	if err != nil {
		return nil, fmt.Errorf("tts decode audio: %w", err)
	}

	applog.Debug("[Speech/Tencent] Sentence synthesized",
		"text_len", len(text),
		"audio_bytes", len(audio),
	)
	return audio, nil
}

// Recognize 一句话识别：原始音频 -> 文本。format 为 mp3/wav 等。
func (s *Speech) Recognize(ctx context.Context, audio []byte, format string) (string, error) {
	if format == "" {
		format = "mp3"
	}

	req := asr.NewSentenceRecognitionRequest()
	req.EngSerViceType = common.StringPtr("16k_en")
	req.SourceType = common.Uint64Ptr(1)
	req.VoiceFormat = common.StringPtr(format)
	req.UsrAudioKey = common.StringPtr(uuid.NewString())
	req.Data = common.StringPtr(base64.StdEncoding.EncodeToString(audio))
	req.DataLen = common.Int64Ptr(int64(len(audio)))

	resp, err := s.asrClient.SentenceRecognitionWithContext(ctx, req)
	if err != nil {
		return "", fmt.Errorf("asr SentenceRecognition: %w", err)
	}
	if resp.Response == nil || resp.Response.Result == nil {
		return "", fmt.Errorf("asr SentenceRecognition: empty result")
	}

	applog.Debug("[Speech/Tencent] Audio recognized",
		"audio_bytes", len(audio),
		"text_len", len(*resp.Response.Result),
	)
	return *resp.Response.Result, nil
}
