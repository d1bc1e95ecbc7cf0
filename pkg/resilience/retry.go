package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
)

// RetryConfig 重试配置。
type RetryConfig struct {
	// MaxAttempts 最大尝试次数（包括首次调用），1 表示不重试。
	MaxAttempts int
	// InitialDelay 第一次重试前的等待时间。
	InitialDelay time.Duration
	// MaxDelay 单次等待上限。
	MaxDelay time.Duration
	// Multiplier 指数退避倍数。
	Multiplier float64
	// RetryableErrors 判断错误是否值得重试，nil 时使用 IsRetryableError。
	RetryableErrors func(error) bool
	// OnRetry 每次决定重试前调用，attempt 从 1 开始。
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig 返回外部网关使用的默认配置：最多重试一次。
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     2,
		InitialDelay:    300 * time.Millisecond,
		MaxDelay:        2 * time.Second,
		Multiplier:      2.0,
		RetryableErrors: IsRetryableError,
	}
}

// NoRetry 只调用一次。
func NoRetry() *RetryConfig {
	return &RetryConfig{MaxAttempts: 1}
}

// ErrMaxAttempts 包装最后一次错误，保留 errors.Is/As 链。
type ErrMaxAttempts struct {
	Attempts int
	Err      error
}

func (e *ErrMaxAttempts) Error() string {
	return fmt.Sprintf("max retry attempts (%d) reached: %v", e.Attempts, e.Err)
}

func (e *ErrMaxAttempts) Unwrap() error { return e.Err }

// RetryWithBackoff 按指数退避执行 fn，直到成功、遇到不可重试错误、
// 次数用尽或 ctx 结束。
func RetryWithBackoff(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	retryable := config.RetryableErrors
	if retryable == nil {
		retryable = IsRetryableError
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delay := config.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			if maxAttempts == 1 {
				return err
			}
			return &ErrMaxAttempts{Attempts: attempt, Err: err}
		}

		logger.Debugw("retrying after delay",
			"attempt", attempt,
			"delay", delay,
			"error", err.Error(),
		)
		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		if config.Multiplier > 0 {
			delay = time.Duration(float64(delay) * config.Multiplier)
		}
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}
}

// RetryWithCircuitBreaker 每次尝试都经过熔断器；熔断器打开时立即返回。
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func(ctx context.Context) error) error {
	return RetryWithBackoff(ctx, config, func(ctx context.Context) error {
		return cb.ExecuteCounting(func() error { return fn(ctx) }, IsUpstreamFailure)
	})
}
