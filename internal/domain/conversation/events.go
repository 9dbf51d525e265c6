package conversation

// EventType 流式响应的事件类型。
type EventType string

const (
	// EventWord 单个词
	EventWord EventType = "word"
	// EventAudio 一个完整句子的合成音频
	EventAudio EventType = "audio"
	// EventSentenceEnd 句子边界标记
	EventSentenceEnd EventType = "sentence_end"
	// EventError 流式过程中的错误（每次响应至多一个，之后流结束）
	EventError EventType = "error"
	// EventDone 流正常结束
	EventDone EventType = "done"
)

// Event 流式响应事件。事件按到达/合成顺序严格有序：
// word*, 所属句子的 audio, sentence_end, ... , done。
type Event struct {
	Type  EventType `json:"type"`
	Word  string    `json:"word,omitempty"`
	Audio []byte    `json:"audio,omitempty"` // mp3 字节，HTTP 层做 base64
	Error string    `json:"error,omitempty"`
}
