package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role 消息角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IST 印度标准时间。会话 ID、提示词时间与摘要条目统一使用该时区。
var IST = time.FixedZone("IST", 5*3600+30*60)

// Message 会话内的一条消息（内存工作副本）。
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSessionID 生成会话 ID：IST 时间戳前缀保证大致按时间排序，随机后缀保证唯一。
func NewSessionID(now time.Time) string {
	return fmt.Sprintf("session_%s_%s", now.In(IST).Format("20060102150405"), shortHex())
}

// NewResponseID 生成响应关联 ID（resp_ + 8 位十六进制），不落库。
func NewResponseID() string {
	return "resp_" + shortHex()
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
