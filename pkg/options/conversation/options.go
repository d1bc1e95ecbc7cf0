// Package conversation provides conversation and context budget options.
package conversation

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/company-chat/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 会话与上下文预算配置。
type Options struct {
	// MaxContextChars 提示词总长度上限（字符）。
	MaxContextChars int `json:"max-context-chars" mapstructure:"max-context-chars"`
	// HistoryTurnChars 每条历史保留的长度。
	HistoryTurnChars int `json:"history-turn-chars" mapstructure:"history-turn-chars"`
	// ExcerptChars 写入历史的文档摘录长度。
	ExcerptChars int `json:"excerpt-chars" mapstructure:"excerpt-chars"`
	// MaxTurns 每个会话保留的最大消息数。
	MaxTurns int `json:"max-turns" mapstructure:"max-turns"`
	// MaxInputChars 单条输入长度上限。
	MaxInputChars int `json:"max-input-chars" mapstructure:"max-input-chars"`
	// SessionTTL 会话空闲多久后回收，0 表示不回收。
	SessionTTL time.Duration `json:"session-ttl" mapstructure:"session-ttl"`
	// SweepInterval 回收检查间隔。
	SweepInterval time.Duration `json:"sweep-interval" mapstructure:"sweep-interval"`
	// SynthesisTimeout 回答生成超时。
	SynthesisTimeout time.Duration `json:"synthesis-timeout" mapstructure:"synthesis-timeout"`
	// RewriteEnabled 是否用模型改写搜索查询。
	RewriteEnabled bool `json:"rewrite-enabled" mapstructure:"rewrite-enabled"`
	// RewriteTimeout 查询改写超时。
	RewriteTimeout time.Duration `json:"rewrite-timeout" mapstructure:"rewrite-timeout"`
	// FollowUpTurns 代词可以指代文档的最大轮数。
	FollowUpTurns int `json:"follow-up-turns" mapstructure:"follow-up-turns"`
}

// NewOptions 创建默认配置。
func NewOptions() *Options {
	return &Options{
		MaxContextChars:  12000,
		HistoryTurnChars: 500,
		ExcerptChars:     500,
		MaxTurns:         50,
		MaxInputChars:    4000,
		SessionTTL:       30 * time.Minute,
		SweepInterval:    time.Minute,
		SynthesisTimeout: 30 * time.Second,
		RewriteEnabled:   true,
		RewriteTimeout:   10 * time.Second,
		FollowUpTurns:    2,
	}
}

// AddFlags adds flags for conversation options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "conversation."
	fs.IntVar(&o.MaxContextChars, p+"max-context-chars", o.MaxContextChars, "Prompt budget in characters.")
	fs.IntVar(&o.HistoryTurnChars, p+"history-turn-chars", o.HistoryTurnChars, "Characters kept per history message in the prompt.")
	fs.IntVar(&o.ExcerptChars, p+"excerpt-chars", o.ExcerptChars, "Document excerpt kept in history.")
	fs.IntVar(&o.MaxTurns, p+"max-turns", o.MaxTurns, "Messages kept per session.")
	fs.IntVar(&o.MaxInputChars, p+"max-input-chars", o.MaxInputChars, "Maximum characters per user message.")
	fs.DurationVar(&o.SessionTTL, p+"session-ttl", o.SessionTTL, "Idle time before a session is discarded (0 keeps sessions).")
	fs.DurationVar(&o.SweepInterval, p+"sweep-interval", o.SweepInterval, "How often idle sessions are swept.")
	fs.DurationVar(&o.SynthesisTimeout, p+"synthesis-timeout", o.SynthesisTimeout, "Answer generation timeout.")
	fs.BoolVar(&o.RewriteEnabled, p+"rewrite-enabled", o.RewriteEnabled, "Rewrite search queries with the model.")
	fs.DurationVar(&o.RewriteTimeout, p+"rewrite-timeout", o.RewriteTimeout, "Query rewrite timeout.")
	fs.IntVar(&o.FollowUpTurns, p+"follow-up-turns", o.FollowUpTurns, "User turns after an upload in which \"it\" refers to the document.")
}

// Complete completes the conversation options.
func (o *Options) Complete() error {
	return nil
}

// Validate validates the conversation options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.MaxContextChars < 1000 {
		errs = append(errs, fmt.Errorf("conversation.max-context-chars must be at least 1000"))
	}
	if o.MaxInputChars <= 0 || o.MaxInputChars >= o.MaxContextChars {
		errs = append(errs, fmt.Errorf("conversation.max-input-chars must be positive and below max-context-chars"))
	}
	if o.MaxTurns < 2 {
		errs = append(errs, fmt.Errorf("conversation.max-turns must be at least 2"))
	}
	if o.SynthesisTimeout <= 0 {
		errs = append(errs, fmt.Errorf("conversation.synthesis-timeout must be positive"))
	}
	if o.SessionTTL > 0 && o.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("conversation.sweep-interval must be positive when session-ttl is set"))
	}
	return errs
}
