package conversation

import (
	"context"
	"strings"
	"time"
	"unicode"

	"edututor/internal/domain/session"
	applog "edututor/internal/platform/log"
	"edututor/internal/provider"
)

// apologyMessage 补全失败时的固定兜底回复。不自动重试。
const apologyMessage = "I'm sorry, I encountered an error trying to process your request. Please try again."

// Synthesizer 语音合成接口。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config 编排器配置。
type Config struct {
	Provider      string
	Model         string
	Temperature   float64
	MaxTokens     int
	HistoryWindow int
	LLMTimeout    time.Duration
	TTSTimeout    time.Duration
}

// Orchestrator 对话编排器：把一条用户输入变成一次助手回复（或事件流），
// 并相对内存状态事务性地更新会话（持久化只发生在会话结束时）。
type Orchestrator struct {
	registry *session.Registry
	profiles session.ProfileStore
	synth    Synthesizer // 可为 nil：流式不产出音频
	cfg      Config
	now      func() time.Time
}

// Reply 一次响应的元数据。流式时 Text 为空，完整文本经事件流送出。
type Reply struct {
	SessionID  string `json:"session_id"`
	ResponseID string `json:"response_id"`
	Text       string `json:"response_text,omitempty"`
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(registry *session.Registry, profiles session.ProfileStore, synth Synthesizer, cfg Config) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = session.DefaultHistoryWindow
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = 15 * time.Second
	}
	return &Orchestrator{
		registry: registry,
		profiles: profiles,
		synth:    synth,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Respond 非流式响应。补全失败时返回固定兜底文本（不作为 error 上抛），
// 此时 assistant 轮不入历史，user 轮保留。
func (o *Orchestrator) Respond(ctx context.Context, userID, text, sessionID string) (*Reply, error) {
	sessionID, messages, err := o.prepare(ctx, userID, text, sessionID)
	if err != nil {
		return nil, err
	}

	reply := &Reply{SessionID: sessionID, ResponseID: session.NewResponseID()}

	llm, err := provider.GetProvider(o.cfg.Provider)
	if err != nil {
		applog.Error("[Orchestrator] ❌ Provider unavailable", "provider", o.cfg.Provider, "error", err)
		reply.Text = apologyMessage
		return reply, nil
	}

	llmCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()

	resp, err := llm.Complete(llmCtx, &provider.CompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		applog.Error("[Orchestrator] ❌ Completion failed",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		reply.Text = apologyMessage
		return reply, nil
	}

	answer := strings.TrimSpace(resp.Content)
	o.registry.Append(userID, sessionID, session.RoleAssistant, answer)
	reply.Text = answer

	applog.Info("[Orchestrator] Response generated",
		"user_id", userID,
		"session_id", sessionID,
		"response_id", reply.ResponseID,
		"tokens", resp.Usage.TotalTokens,
	)
	return reply, nil
}

// RespondStream 流式响应：返回按序产出 word/audio/sentence_end/error/done
// 事件的 channel。事件在单个生产者 goroutine 内产出，顺序严格。
func (o *Orchestrator) RespondStream(ctx context.Context, userID, text, sessionID string) (<-chan Event, *Reply, error) {
	sessionID, messages, err := o.prepare(ctx, userID, text, sessionID)
	if err != nil {
		return nil, nil, err
	}

	reply := &Reply{SessionID: sessionID, ResponseID: session.NewResponseID()}
	events := make(chan Event, 32)

	go o.produce(ctx, userID, sessionID, messages, events)

	return events, reply, nil
}

// prepare 解析会话、构建 LLM 输入，并在补全调用前把 user 轮写入缓冲
// （补全失败也不丢用户输入）。
func (o *Orchestrator) prepare(ctx context.Context, userID, text, sessionID string) (string, []provider.Message, error) {
	if sessionID == "" {
		id, created, err := o.registry.ResolveOrCreate(ctx, userID)
		if err != nil {
			return "", nil, err
		}
		if created {
			applog.Info("[Orchestrator] New session started", "user_id", userID, "session_id", id)
		}
		sessionID = id
	}

	profile, err := o.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	history, err := o.registry.History(ctx, userID, sessionID)
	if err != nil {
		return "", nil, err
	}

	combined := make([]provider.Message, 0, len(history)+1)
	for _, m := range history {
		combined = append(combined, provider.Message{Role: string(m.Role), Content: m.Content})
	}
	combined = append(combined, provider.Message{Role: string(session.RoleUser), Content: text})
	if len(combined) > o.cfg.HistoryWindow {
		combined = combined[len(combined)-o.cfg.HistoryWindow:]
	}

	messages := make([]provider.Message, 0, len(combined)+1)
	messages = append(messages, provider.Message{
		Role:    "system",
		Content: buildSystemPrompt(profile, o.now()),
	})
	messages = append(messages, combined...)

	// 先记录 user 轮再调用补全
	o.registry.Append(userID, sessionID, session.RoleUser, text)

	return sessionID, messages, nil
}

// produce 单生产者：消费 LLM token 流，按词切分、按句合成音频，事件严格有序。
func (o *Orchestrator) produce(ctx context.Context, userID, sessionID string, messages []provider.Message, events chan<- Event) {
	defer close(events)

	send := func(e Event) bool {
		select {
		case events <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	llm, err := provider.GetProvider(o.cfg.Provider)
	if err != nil {
		applog.Error("[Orchestrator] ❌ Provider unavailable", "provider", o.cfg.Provider, "error", err)
		send(Event{Type: EventError, Error: apologyMessage})
		return
	}

	streamCtx, cancel := context.WithTimeout(ctx, o.cfg.LLMTimeout)
	defer cancel()

	maxTokens := o.cfg.MaxTokens
	chunkCh, errCh := llm.StreamComplete(streamCtx, &provider.CompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Temperature: o.cfg.Temperature,
		MaxTokens:   maxTokens,
	})

	var full, wordBuf, sentence strings.Builder

	flushWord := func() bool {
		if wordBuf.Len() == 0 {
			return true
		}
		word := wordBuf.String()
		wordBuf.Reset()
		if !send(Event{Type: EventWord, Word: word}) {
			return false
		}
		if sentence.Len() > 0 {
			sentence.WriteByte(' ')
		}
		sentence.WriteString(word)
		if strings.ContainsAny(word, ".!?") {
			if !o.emitSentence(ctx, &sentence, send) {
				return false
			}
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			// 客户端断开：停止消费与合成，尽力保留已产出的部分文本
			if partial := strings.TrimSpace(full.String()); partial != "" {
				o.registry.Append(userID, sessionID, session.RoleAssistant, partial)
				applog.Warn("[Orchestrator] Stream cancelled, partial response retained",
					"user_id", userID,
					"session_id", sessionID,
					"partial_len", len(partial),
				)
			}
			return

		case chunk, ok := <-chunkCh:
			if !ok {
				if err := <-errCh; err != nil {
					applog.Error("[Orchestrator] ❌ Stream failed",
						"user_id", userID,
						"session_id", sessionID,
						"error", err,
					)
					send(Event{Type: EventError, Error: apologyMessage})
					return
				}

				// 正常结束：flush 残词与残句，再把完整文本入缓冲
				if !flushWord() {
					return
				}
				if sentence.Len() > 0 {
					if !o.emitSentence(ctx, &sentence, send) {
						return
					}
				}
				o.registry.Append(userID, sessionID, session.RoleAssistant, strings.TrimSpace(full.String()))
				send(Event{Type: EventDone})
				applog.Info("[Orchestrator] Streaming response completed",
					"user_id", userID,
					"session_id", sessionID,
					"chars", full.Len(),
				)
				return
			}

			full.WriteString(chunk.Delta)
			for _, r := range chunk.Delta {
				if unicode.IsSpace(r) {
					if !flushWord() {
						return
					}
					continue
				}
				wordBuf.WriteRune(r)
			}
		}
	}
}

// emitSentence 同步合成整句音频并按 audio -> sentence_end 顺序发出。
// 合成失败或未配置合成器时跳过音频，句子边界标记照常发出。
func (o *Orchestrator) emitSentence(ctx context.Context, sentence *strings.Builder, send func(Event) bool) bool {
	text := sentence.String()
	sentence.Reset()

	if o.synth != nil {
		ttsCtx, cancel := context.WithTimeout(ctx, o.cfg.TTSTimeout)
		audio, err := o.synth.Synthesize(ttsCtx, text)
		cancel()
		if err != nil {
			applog.Warn("[Orchestrator] Sentence synthesis failed, skipping audio",
				"sentence_len", len(text),
				"error", err,
			)
		} else if !send(Event{Type: EventAudio, Audio: audio}) {
			return false
		}
	}

	return send(Event{Type: EventSentenceEnd})
}
