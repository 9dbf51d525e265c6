package summary_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"edututor/internal/domain/session"
	"edututor/internal/domain/summary"
	"edututor/internal/provider"
)

// fakeStore 内存转录存储。
type fakeStore struct {
	rows []session.StoredMessage
}

func (f *fakeStore) AppendBatch(ctx context.Context, userID, sessionID string, msgs []session.Message) error {
	for _, m := range msgs {
		f.rows = append(f.rows, session.StoredMessage{
			SessionID: sessionID,
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		})
	}
	return nil
}

func (f *fakeStore) List(ctx context.Context, userID, sessionID string) ([]session.StoredMessage, error) {
	var out []session.StoredMessage
	for _, r := range f.rows {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) Count(ctx context.Context, userID, sessionID string) (int, error) {
	n := 0
	for _, r := range f.rows {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) MostRecent(ctx context.Context, userID string) (*session.StoredMessage, error) {
	if len(f.rows) == 0 {
		return nil, nil
	}
	last := f.rows[len(f.rows)-1]
	return &last, nil
}

func (f *fakeStore) ListSessions(ctx context.Context, userID string, limit int) ([]session.SessionInfo, error) {
	return nil, nil
}

// fakeProfiles 内存档案存储，记录 Update 调用次数。
type fakeProfiles struct {
	profiles    map[string]*session.Profile
	updateCalls int
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*session.Profile)}
}

func (f *fakeProfiles) GetOrCreate(ctx context.Context, userID string) (*session.Profile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	p := session.DefaultProfile(userID)
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeProfiles) Get(ctx context.Context, userID string) (*session.Profile, error) {
	return f.profiles[userID], nil
}

func (f *fakeProfiles) Create(ctx context.Context, p *session.Profile) error {
	f.profiles[p.UserID] = p
	return nil
}

func (f *fakeProfiles) Update(ctx context.Context, userID string, upd session.ProfileUpdate) error {
	f.updateCalls++
	p, ok := f.profiles[userID]
	if !ok {
		return fmt.Errorf("profile not found: %s", userID)
	}
	if upd.CumulativeSummary != nil {
		p.CumulativeSummary = *upd.CumulativeSummary
	}
	if upd.TotalSessions != nil {
		p.TotalSessions = *upd.TotalSessions
	}
	return nil
}

func (f *fakeProfiles) UpdateFields(ctx context.Context, p *session.Profile) error {
	f.profiles[p.UserID] = p
	return nil
}

// summarizerLLM 回放固定摘要输出的供应商。
type summarizerLLM struct {
	name    string
	answer  func(prompt string) string
	fail    bool
	prompts []string
}

func (s *summarizerLLM) Name() string { return s.name }

func (s *summarizerLLM) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	if s.fail {
		return nil, fmt.Errorf("injected summary failure")
	}
	prompt := req.Messages[len(req.Messages)-1].Content
	s.prompts = append(s.prompts, prompt)
	return &provider.CompletionResponse{Content: s.answer(prompt), FinishReason: "stop"}, nil
}

func (s *summarizerLLM) StreamComplete(ctx context.Context, req *provider.CompletionRequest) (<-chan provider.CompletionChunk, <-chan error) {
	chunkCh := make(chan provider.CompletionChunk)
	errCh := make(chan error, 1)
	close(chunkCh)
	errCh <- fmt.Errorf("streaming not supported")
	return chunkCh, errCh
}

// TestEndAndSummarizeRoundTrip 结束会话：flush 落库、摘要追加一条带时间键的条目、计数自增一次
func TestEndAndSummarizeRoundTrip(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) // IST 15:30
	sessionTime := "2026-03-01 15:30"
	entry := "– *" + sessionTime + ":* Learned about fractions and practiced three examples."

	provider.RegisterProvider(&summarizerLLM{
		name:   "fake-summary",
		answer: func(string) string { return entry },
	})

	store := &fakeStore{}
	profiles := newFakeProfiles()
	now := base
	reg := session.NewRegistry(session.RegistryConfig{
		Store: store,
		Now:   func() time.Time { return now },
	})

	id := reg.Create("u1")
	reg.Append("u1", id, session.RoleUser, "What is a fraction?")
	reg.Append("u1", id, session.RoleAssistant, "A fraction represents a part of a whole.")

	pipe := summary.NewPipeline(reg, store, profiles, summary.Config{Provider: "fake-summary", Model: "test-model"})
	res := pipe.EndAndSummarize(context.Background(), "u1", id)

	if !res.Ended || res.Saved != 2 {
		t.Fatalf("expected ended with 2 saved, got %+v", res)
	}
	if !res.SummaryUpdated || !res.CounterIncremented {
		t.Fatalf("expected summary committed, got %+v", res)
	}

	p := profiles.profiles["u1"]
	if p.CumulativeSummary != entry {
		t.Errorf("unexpected summary: %q", p.CumulativeSummary)
	}
	if p.TotalSessions != 1 {
		t.Errorf("expected total_sessions=1, got %d", p.TotalSessions)
	}
	if profiles.updateCalls != 1 {
		t.Errorf("expected single atomic commit, got %d", profiles.updateCalls)
	}

	// 会话已出内存，重复结束为 no-op
	res = pipe.EndAndSummarize(context.Background(), "u1", id)
	if res.Ended || res.Saved != 0 {
		t.Fatalf("expected idempotent no-op, got %+v", res)
	}
	if p.TotalSessions != 1 {
		t.Errorf("counter must not advance on repeat end, got %d", p.TotalSessions)
	}

	t.Logf("✅ Round trip: 2 messages flushed, summary %q, counter=1", p.CumulativeSummary)
}

// TestSummarizePromptCarriesTranscript 提示词包含转录块与会话时间键
func TestSummarizePromptCarriesTranscript(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	llm := &summarizerLLM{
		name:   "fake-summary-prompt",
		answer: func(string) string { return "– *2026-03-01 15:30:* Reviewed algebra basics." },
	}
	provider.RegisterProvider(llm)

	store := &fakeStore{rows: []session.StoredMessage{
		{SessionID: "s1", Role: "user", Content: "Explain algebra", Timestamp: base},
		{SessionID: "s1", Role: "assistant", Content: "Algebra uses symbols for numbers.", Timestamp: base.Add(time.Second)},
	}}
	profiles := newFakeProfiles()
	reg := session.NewRegistry(session.RegistryConfig{Store: store})

	pipe := summary.NewPipeline(reg, store, profiles, summary.Config{Provider: "fake-summary-prompt", Model: "test-model"})
	if ok := pipe.SummarizeSession(context.Background(), "u1", "s1"); !ok {
		t.Fatal("expected summarization to succeed")
	}

	if len(llm.prompts) != 1 {
		t.Fatalf("expected one LLM call, got %d", len(llm.prompts))
	}
	prompt := llm.prompts[0]
	if !strings.Contains(prompt, "User: Explain algebra") ||
		!strings.Contains(prompt, "AI: Algebra uses symbols for numbers.") {
		t.Errorf("prompt missing transcript lines:\n%s", prompt)
	}
	if !strings.Contains(prompt, "2026-03-01 15:30") {
		t.Errorf("prompt missing IST session time:\n%s", prompt)
	}

	t.Logf("✅ Prompt carried transcript and session time")
}

// TestSummarizeEmptyTranscriptFails 无持久化消息时摘要失败且档案不变
func TestSummarizeEmptyTranscriptFails(t *testing.T) {
	provider.RegisterProvider(&summarizerLLM{
		name:   "fake-summary-empty",
		answer: func(string) string { return "anything" },
	})

	store := &fakeStore{}
	profiles := newFakeProfiles()
	reg := session.NewRegistry(session.RegistryConfig{Store: store})

	pipe := summary.NewPipeline(reg, store, profiles, summary.Config{Provider: "fake-summary-empty", Model: "test-model"})
	if ok := pipe.SummarizeSession(context.Background(), "u1", "missing"); ok {
		t.Fatal("expected failure for empty transcript")
	}
	if profiles.updateCalls != 0 {
		t.Errorf("expected no profile writes, got %d", profiles.updateCalls)
	}

	t.Logf("✅ Empty transcript rejected without writes")
}

// TestSummarizeValidationFailureLeavesProfile 输出缺少时间键时不提交任何更新
func TestSummarizeValidationFailureLeavesProfile(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	provider.RegisterProvider(&summarizerLLM{
		name:   "fake-summary-bad",
		answer: func(string) string { return "Sorry, I cannot summarize this." },
	})

	store := &fakeStore{rows: []session.StoredMessage{
		{SessionID: "s1", Role: "user", Content: "hi", Timestamp: base},
	}}
	profiles := newFakeProfiles()
	reg := session.NewRegistry(session.RegistryConfig{Store: store})

	pipe := summary.NewPipeline(reg, store, profiles, summary.Config{Provider: "fake-summary-bad", Model: "test-model"})
	if ok := pipe.SummarizeSession(context.Background(), "u1", "s1"); ok {
		t.Fatal("expected validation failure")
	}

	p, _ := profiles.Get(context.Background(), "u1")
	if p.CumulativeSummary != "" || p.TotalSessions != 0 {
		t.Errorf("profile must be untouched, got %+v", p)
	}
	if profiles.updateCalls != 0 {
		t.Errorf("expected no commit, got %d", profiles.updateCalls)
	}

	t.Logf("✅ Invalid LLM output left profile untouched")
}

// TestEndSessionZeroMessages 会话不在内存时 ended=false 且零写入
func TestEndSessionZeroMessages(t *testing.T) {
	provider.RegisterProvider(&summarizerLLM{
		name:   "fake-summary-none",
		answer: func(string) string { return "anything" },
	})

	store := &fakeStore{}
	profiles := newFakeProfiles()
	reg := session.NewRegistry(session.RegistryConfig{Store: store})

	pipe := summary.NewPipeline(reg, store, profiles, summary.Config{Provider: "fake-summary-none", Model: "test-model"})
	res := pipe.EndAndSummarize(context.Background(), "u1", "session_unknown")

	if res.Ended || res.Saved != 0 || res.SummaryUpdated || res.CounterIncremented {
		t.Fatalf("expected all-false result, got %+v", res)
	}
	if len(store.rows) != 0 || profiles.updateCalls != 0 {
		t.Error("expected no writes for unknown session")
	}

	t.Logf("✅ Unknown session end was a no-op")
}
