package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"edututor/internal/domain/session"
	applog "edututor/internal/platform/log"
	"edututor/internal/provider"
)

// summarySystemPrompt 摘要 LLM 的系统提示词：只输出日志本体。
const summarySystemPrompt = "You are an expert log keeper. Follow the user's instructions precisely to update the summary log. Output only the log entries as requested, ensuring the new entry is appended correctly."

// entryMarker 摘要条目的起始标记。
const entryMarker = "–"

// entryTimeLayout 条目时间键格式（IST）。
const entryTimeLayout = "2006-01-02 15:04"

// Config 摘要管线配置。
type Config struct {
	Provider   string
	Model      string
	LLMTimeout time.Duration
}

// Pipeline 会话结束处理：落库会话转录，再用第二次 LLM 调用把会话
// 折叠进档案的累计摘要日志，并独占会话计数的自增职责。
type Pipeline struct {
	registry    *session.Registry
	transcripts session.TranscriptStore
	profiles    session.ProfileStore
	cfg         Config
}

// Result 会话结束流程的汇总结果。
type Result struct {
	Ended              bool `json:"ended"`
	Saved              int  `json:"saved"`
	SummaryUpdated     bool `json:"summary_updated"`
	CounterIncremented bool `json:"counter_incremented"`
}

// NewPipeline 创建摘要管线。
func NewPipeline(registry *session.Registry, transcripts session.TranscriptStore, profiles session.ProfileStore, cfg Config) *Pipeline {
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	return &Pipeline{
		registry:    registry,
		transcripts: transcripts,
		profiles:    profiles,
		cfg:         cfg,
	}
}

// EndSession 落库并移出内存。会话不在内存（或空缓冲）时 ended=false，
// 不视为错误，也不产生任何写入。
func (p *Pipeline) EndSession(ctx context.Context, userID, sessionID string) (bool, int, error) {
	saved, active, err := p.registry.FlushAndClear(ctx, userID, sessionID)
	if err != nil {
		return true, 0, err
	}
	return active, saved, nil
}

// EndAndSummarize 完整的会话结束流程：flush -> 摘要更新。
// 计数自增只发生在摘要提交内部，这里仅观察结果。
func (p *Pipeline) EndAndSummarize(ctx context.Context, userID, sessionID string) Result {
	res := Result{}

	ended, saved, err := p.EndSession(ctx, userID, sessionID)
	if err != nil {
		// flush 失败：缓冲保留在内存中，整个结束流程可重试
		applog.Error("[Summary] ❌ Failed to flush session, retry by recall",
			"user_id", userID,
			"session_id", sessionID,
			"error", err,
		)
		return res
	}
	res.Ended = ended
	res.Saved = saved

	if !ended {
		// 会话本就不在内存（或空缓冲）：零写入，也不再触发摘要，
		// 避免重复结束把计数重复推进
		applog.Info("[Summary] Session not active, nothing to summarize",
			"user_id", userID,
			"session_id", sessionID,
		)
		return res
	}

	ok := p.SummarizeSession(ctx, userID, sessionID)
	res.SummaryUpdated = ok
	res.CounterIncremented = ok
	return res
}

// SummarizeSession 读取持久化转录，构建严格格式提示词请求 LLM 追加一条
// 带日期的摘要条目，校验输出后把整份更新后的日志连同计数自增一次性提交。
// 失败不影响已持久化的转录，调用方可整体重试。
func (p *Pipeline) SummarizeSession(ctx context.Context, userID, sessionID string) bool {
	applog.Info("[Summary] Starting summary update",
		"user_id", userID,
		"session_id", sessionID,
	)

	// 1. 持久化转录必须非空
	stored, err := p.transcripts.List(ctx, userID, sessionID)
	if err != nil {
		applog.Error("[Summary] ❌ Failed to load transcript", "session_id", sessionID, "error", err)
		return false
	}
	if len(stored) == 0 {
		applog.Warn("[Summary] No stored messages, cannot summarize", "session_id", sessionID)
		return false
	}

	// 2. 重建角色并渲染转录块
	msgs := session.ReconstructRoles(stored)
	transcript := renderTranscript(msgs)

	// 3. 现有累计摘要
	profile, err := p.profiles.GetOrCreate(ctx, userID)
	if err != nil {
		applog.Error("[Summary] ❌ Failed to load profile", "user_id", userID, "error", err)
		return false
	}
	existing := strings.TrimSpace(profile.CumulativeSummary)

	// 4. 条目时间键 = 会话首条消息时间（IST）
	sessionTime := stored[0].Timestamp.In(session.IST).Format(entryTimeLayout)
	prompt := buildUpdatePrompt(existing, transcript, sessionTime)

	// 5. 低随机度调用，token 预算随已有日志长度扩展避免截断
	llm, err := provider.GetProvider(p.cfg.Provider)
	if err != nil {
		applog.Error("[Summary] ❌ Provider unavailable", "provider", p.cfg.Provider, "error", err)
		return false
	}

	llmCtx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	resp, err := llm.Complete(llmCtx, &provider.CompletionRequest{
		Model: p.cfg.Model,
		Messages: []provider.Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.2,
		MaxTokens:   summaryTokenBudget(existing),
	})
	if err != nil {
		applog.Error("[Summary] ❌ LLM call failed", "session_id", sessionID, "error", err)
		return false
	}

	updated := strings.TrimSpace(resp.Content)

	// 6. 校验：空输出或缺少时间键视为失败；不以条目标记开头仅告警
	if updated == "" || !strings.Contains(updated, sessionTime) {
		applog.Error("[Summary] ❌ Validation failed, output missing timestamp or empty",
			"session_id", sessionID,
			"expected_time", sessionTime,
			"output_len", len(updated),
		)
		return false
	}
	if !strings.HasPrefix(updated, entryMarker) {
		applog.Warn("[Summary] Output does not start with entry marker, accepting anyway",
			"session_id", sessionID,
		)
	}

	// 7. 摘要替换 + 计数自增，单次原子提交
	total := profile.TotalSessions + 1
	if err := p.profiles.Update(ctx, userID, session.ProfileUpdate{
		CumulativeSummary: &updated,
		TotalSessions:     &total,
	}); err != nil {
		applog.Error("[Summary] ❌ Failed to commit summary", "user_id", userID, "error", err)
		return false
	}

	applog.Info("[Summary] ✅ Cumulative summary updated",
		"user_id", userID,
		"session_id", sessionID,
		"total_sessions", total,
	)
	return true
}

// summaryTokenBudget 与原有日志词数成正比，加固定余量。
func summaryTokenBudget(existing string) int {
	budget := len(strings.Fields(existing))*2 + 400
	if budget < 1000 {
		budget = 1000
	}
	return budget
}

func renderTranscript(msgs []session.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		speaker := "User"
		if m.Role == session.RoleAssistant {
			speaker = "AI"
		}
		fmt.Fprintf(&sb, "%s: %s\n", speaker, m.Content)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// buildUpdatePrompt 严格格式指令：追加恰好一条新条目并返回整份日志。
func buildUpdatePrompt(existing, transcript, sessionTime string) string {
	var sb strings.Builder

	sb.WriteString(`You are an expert assistant maintaining a student's chronological session summary log.
Each entry must be on a new line, possibly separated by one blank line, and strictly follow the format:
– *[YYYY-MM-DD HH:MM]:* [Summary Text]

Where:
- [YYYY-MM-DD HH:MM] is the date and time the session occurred (e.g., 2024-07-21 15:30). Use the provided session time.
- [Summary Text] is a concise 1-2 sentence summary starting with a verb (e.g., Learned, Practiced, Reviewed, Explored).

EXISTING SUMMARY LOG (if any):
`)
	sb.WriteString(existing)
	sb.WriteString("\n\nTRANSCRIPT OF THE NEW SESSION (occurred at ")
	sb.WriteString(sessionTime)
	sb.WriteString("):\n--- START TRANSCRIPT ---\n")
	sb.WriteString(transcript)
	sb.WriteString("\n--- END TRANSCRIPT ---\n\nYOUR TASK:\n")
	fmt.Fprintf(&sb, `1. Generate a concise summary (1-2 sentences, starting with a verb) for the NEW session transcript.
2. Format the new summary entry as: – *%s:* [Your generated summary text]
3. Append this new entry to the end of the EXISTING SUMMARY LOG. If the existing log is empty, the new entry will be the only content. Maintain chronological order implicitly by appending. Ensure a blank line separates entries if the existing log was not empty.
4. Ensure the final output contains ONLY the complete summary log (previous entries + new entry). Each entry MUST start with '– *' and be followed by the date, time, and summary. Do NOT include any other text, preamble, explanations, or markers like '--- START LOG ---' or '--- END LOG ---'.

Updated Summary Log:`, sessionTime)

	return sb.String()
}
