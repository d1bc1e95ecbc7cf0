// Package options contains flags and options for initializing the company chat service.
package options

import (
	"fmt"

	"github.com/spf13/pflag"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	chat "github.com/kart-io/company-chat/internal/chat"
	cacheopts "github.com/kart-io/company-chat/pkg/options/cache"
	convopts "github.com/kart-io/company-chat/pkg/options/conversation"
	llmopts "github.com/kart-io/company-chat/pkg/options/llm"
	logopts "github.com/kart-io/company-chat/pkg/options/logger"
	ocropts "github.com/kart-io/company-chat/pkg/options/ocr"
	ratelimitopts "github.com/kart-io/company-chat/pkg/options/ratelimit"
	redisopts "github.com/kart-io/company-chat/pkg/options/redis"
	searchopts "github.com/kart-io/company-chat/pkg/options/search"
	httpopts "github.com/kart-io/company-chat/pkg/options/server/http"
)

// ServerOptions contains the configuration options for the service.
type ServerOptions struct {
	// HTTPOptions contains HTTP server configuration.
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`

	// LogOptions contains logger configuration.
	LogOptions *logopts.Options `json:"log" mapstructure:"log"`

	// LLMOptions contains chat model provider configuration.
	LLMOptions *llmopts.ProviderOptions `json:"llm" mapstructure:"llm"`

	// SearchOptions contains web search configuration.
	SearchOptions *searchopts.Options `json:"search" mapstructure:"search"`

	// OCROptions contains document extraction configuration.
	OCROptions *ocropts.Options `json:"ocr" mapstructure:"ocr"`

	// RateLimitOptions contains the sliding window configuration.
	RateLimitOptions *ratelimitopts.Options `json:"ratelimit" mapstructure:"ratelimit"`

	// RedisOptions contains Redis connection configuration.
	RedisOptions *redisopts.Options `json:"redis" mapstructure:"redis"`

	// CacheOptions contains search cache configuration.
	CacheOptions *cacheopts.Options `json:"cache" mapstructure:"cache"`

	// ConversationOptions contains session and prompt budget configuration.
	ConversationOptions *convopts.Options `json:"conversation" mapstructure:"conversation"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:         httpopts.NewOptions(),
		LogOptions:          logopts.NewOptions(),
		LLMOptions:          llmopts.NewChatOptions(),
		SearchOptions:       searchopts.NewOptions(),
		OCROptions:          ocropts.NewOptions(),
		RateLimitOptions:    ratelimitopts.NewOptions(),
		RedisOptions:        redisopts.NewOptions(),
		CacheOptions:        cacheopts.NewOptions(),
		ConversationOptions: convopts.NewOptions(),
	}
}

// AddFlags adds flags for all option groups to the specified FlagSet.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	o.HTTPOptions.AddFlags(fs)
	o.LogOptions.AddFlags(fs)
	o.LLMOptions.AddFlags(fs)
	o.SearchOptions.AddFlags(fs)
	o.OCROptions.AddFlags(fs)
	o.RateLimitOptions.AddFlags(fs)
	o.RedisOptions.AddFlags(fs)
	o.CacheOptions.AddFlags(fs)
	o.ConversationOptions.AddFlags(fs)
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	if err := o.HTTPOptions.Complete(); err != nil {
		return err
	}
	if err := o.LogOptions.Complete(); err != nil {
		return err
	}
	if err := o.LLMOptions.Complete(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := o.SearchOptions.Complete(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := o.OCROptions.Complete(); err != nil {
		return fmt.Errorf("ocr: %w", err)
	}
	if err := o.RateLimitOptions.Complete(); err != nil {
		return fmt.Errorf("ratelimit: %w", err)
	}
	if err := o.RedisOptions.Complete(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := o.CacheOptions.Complete(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if err := o.ConversationOptions.Complete(); err != nil {
		return fmt.Errorf("conversation: %w", err)
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.LLMOptions.Validate()...)
	errs = append(errs, o.SearchOptions.Validate()...)
	errs = append(errs, o.OCROptions.Validate()...)
	errs = append(errs, o.RateLimitOptions.Validate()...)
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.CacheOptions.Validate()...)
	errs = append(errs, o.ConversationOptions.Validate()...)

	if o.RateLimitOptions.Backend == "redis" && !o.RedisOptions.Enabled {
		errs = append(errs, fmt.Errorf("ratelimit.backend=redis requires redis.enabled"))
	}

	return utilerrors.NewAggregate(errs)
}

// Config builds a chat.Config based on ServerOptions.
func (o *ServerOptions) Config() (*chat.Config, error) {
	return &chat.Config{
		HTTPOptions:         o.HTTPOptions,
		LogOptions:          o.LogOptions,
		LLMOptions:          o.LLMOptions,
		SearchOptions:       o.SearchOptions,
		OCROptions:          o.OCROptions,
		RateLimitOptions:    o.RateLimitOptions,
		RedisOptions:        o.RedisOptions,
		CacheOptions:        o.CacheOptions,
		ConversationOptions: o.ConversationOptions,
	}, nil
}
