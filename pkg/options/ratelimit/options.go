// Package ratelimit provides admission control options.
package ratelimit

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/company-chat/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options 滑动窗口限流配置。
type Options struct {
	// Backend memory 或 redis。
	Backend string `json:"backend" mapstructure:"backend"`
	// Limit 窗口内允许的调用次数。
	Limit int `json:"limit" mapstructure:"limit"`
	// Window 窗口长度。
	Window time.Duration `json:"window" mapstructure:"window"`
	// Key redis 后端使用的键。
	Key string `json:"key" mapstructure:"key"`
}

// NewOptions 创建默认配置：60 秒 3 次，进程内。
func NewOptions() *Options {
	return &Options{
		Backend: "memory",
		Limit:   3,
		Window:  60 * time.Second,
		Key:     "company-chat:ratelimit:global",
	}
}

// AddFlags adds flags for rate limit options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "ratelimit."
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Rate window storage (memory, redis).")
	fs.IntVar(&o.Limit, p+"limit", o.Limit, "Admissions allowed per window.")
	fs.DurationVar(&o.Window, p+"window", o.Window, "Sliding window length.")
	fs.StringVar(&o.Key, p+"key", o.Key, "Redis key for the shared window.")
}

// Complete completes the rate limit options.
func (o *Options) Complete() error {
	return nil
}

// Validate validates the rate limit options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Backend != "memory" && o.Backend != "redis" {
		errs = append(errs, fmt.Errorf("ratelimit.backend %q is not supported (memory, redis)", o.Backend))
	}
	if o.Limit <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.limit must be positive"))
	}
	if o.Window <= 0 {
		errs = append(errs, fmt.Errorf("ratelimit.window must be positive"))
	}
	if o.Backend == "redis" && o.Key == "" {
		errs = append(errs, fmt.Errorf("ratelimit.key cannot be empty for the redis backend"))
	}
	return errs
}
