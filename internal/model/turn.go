// Package model provides the conversation data models for company-chat.
package model

import "time"

// Role 对话角色。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Category 一轮用户输入的分类。
type Category string

const (
	CategoryGreeting     Category = "greeting"
	CategoryDocument     Category = "document"
	CategoryCompanyQuery Category = "company_query"
	// CategoryCommand 本地处理的保留命令（help / clear / exit）以及空输入。
	CategoryCommand Category = "command"
)

// Turn 会话中的一条消息，追加后不可修改。
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Category  Category  `json:"category,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Attachment 用户随消息上传的文件名。
	Attachment string `json:"attachment,omitempty"`
	// Excerpt 上传文档的文本摘录，用于后续轮次的历史上下文。
	Excerpt string `json:"excerpt,omitempty"`
}

// DocumentRef 会话中最近一次上传文档的引用。
type DocumentRef struct {
	Filename    string    `json:"filename"`
	MIMEType    string    `json:"mime_type"`
	Method      string    `json:"method"`
	PageCount   int       `json:"page_count,omitempty"`
	ImageWidth  int       `json:"image_width,omitempty"`
	ImageHeight int       `json:"image_height,omitempty"`
	Text        string    `json:"-"`
	UploadedAt  time.Time `json:"uploaded_at"`

	// TurnIndex 上传时的用户轮次序号，用于判断后续追问的距离。
	TurnIndex int `json:"turn_index"`
}
