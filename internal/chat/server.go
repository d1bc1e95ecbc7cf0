// Package chat wires the company chat service together.
package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/company-chat/internal/chat/biz"
	"github.com/kart-io/company-chat/internal/chat/handler"
	"github.com/kart-io/company-chat/internal/chat/metrics"
	"github.com/kart-io/company-chat/internal/chat/router"
	"github.com/kart-io/company-chat/internal/chat/store"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/infra/app"
	"github.com/kart-io/company-chat/pkg/llm"
	// 导入 LLM 供应商以自动注册
	_ "github.com/kart-io/company-chat/pkg/llm/gemini"
	_ "github.com/kart-io/company-chat/pkg/llm/openai"
	"github.com/kart-io/company-chat/pkg/middleware"
	"github.com/kart-io/company-chat/pkg/ocr"
	"github.com/kart-io/company-chat/pkg/options"
	cacheopts "github.com/kart-io/company-chat/pkg/options/cache"
	convopts "github.com/kart-io/company-chat/pkg/options/conversation"
	llmopts "github.com/kart-io/company-chat/pkg/options/llm"
	logopts "github.com/kart-io/company-chat/pkg/options/logger"
	ocropts "github.com/kart-io/company-chat/pkg/options/ocr"
	ratelimitopts "github.com/kart-io/company-chat/pkg/options/ratelimit"
	redisopts "github.com/kart-io/company-chat/pkg/options/redis"
	searchopts "github.com/kart-io/company-chat/pkg/options/search"
	httpopts "github.com/kart-io/company-chat/pkg/options/server/http"
	"github.com/kart-io/company-chat/pkg/ratelimit"
	"github.com/kart-io/company-chat/pkg/resilience"
	"github.com/kart-io/company-chat/pkg/search"
)

// Name is the name of the application.
const Name = "company-chat"

// Config contains application-related configurations.
type Config struct {
	HTTPOptions         *httpopts.Options
	LogOptions          *logopts.Options
	LLMOptions          *llmopts.ProviderOptions
	SearchOptions       *searchopts.Options
	OCROptions          *ocropts.Options
	RateLimitOptions    *ratelimitopts.Options
	RedisOptions        *redisopts.Options
	CacheOptions        *cacheopts.Options
	ConversationOptions *convopts.Options
}

// Service 组装好的对话服务，HTTP 服务和终端界面共用。
type Service struct {
	Orchestrator *biz.Orchestrator
	Metrics      *metrics.ChatMetrics

	closers []func()
}

// Close 按创建的逆序释放资源。
func (s *Service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// NewService builds the conversation pipeline from the configuration.
// The logger must be initialized by the caller.
func (cfg *Config) NewService(ctx context.Context) (svc *Service, err error) {
	svc = &Service{Metrics: metrics.Default()}
	defer func() {
		if err != nil {
			svc.Close()
		}
	}()

	// 1. 初始化 Redis 客户端（可选，用于共享限流窗口和搜索缓存）
	var redisClient *goredis.Client
	if cfg.RedisOptions.Enabled {
		redisClient, err = cfg.RedisOptions.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		svc.closers = append(svc.closers, func() { _ = redisClient.Close() })
		logger.Infow("Redis client initialized", "addr", cfg.RedisOptions.Addr(), "db", cfg.RedisOptions.Database)
	}

	// 2. 初始化限流器
	limiter, err := ratelimit.New(cfg.RateLimitOptions.Backend, &ratelimit.Config{
		Limit:  cfg.RateLimitOptions.Limit,
		Window: cfg.RateLimitOptions.Window,
		Key:    cfg.RateLimitOptions.Key,
	}, universal(redisClient))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rate limiter: %w", err)
	}
	logger.Infow("Rate limiter initialized",
		"backend", cfg.RateLimitOptions.Backend,
		"limit", cfg.RateLimitOptions.Limit,
		"window", cfg.RateLimitOptions.Window,
	)

	// 3. 初始化 LLM 供应商
	chatProvider, answerProvider, err := cfg.newChatProviders()
	if err != nil {
		return nil, err
	}
	logger.Infow("Chat provider initialized",
		"provider", cfg.LLMOptions.Provider,
		"model", cfg.LLMOptions.Model,
	)

	// 4. 初始化搜索网关
	gateway, err := search.New(&search.Config{
		Provider:      cfg.SearchOptions.Provider,
		APIKey:        cfg.SearchOptions.APIKey,
		BaseURL:       cfg.SearchOptions.BaseURL,
		MaxResults:    cfg.SearchOptions.MaxResults,
		MaxResultsCap: cfg.SearchOptions.MaxResults,
		Timeout:       cfg.SearchOptions.Timeout,
		SearchDepth:   cfg.SearchOptions.SearchDepth,
		IncludeAnswer: cfg.SearchOptions.IncludeAnswer,
	}, search.WithObserver(svc.Metrics.ObserveSearch))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize search gateway: %w", err)
	}
	var searcher search.Searcher = gateway
	if cfg.CacheOptions.Enabled && redisClient != nil {
		searcher = search.NewCachedSearcher(gateway, gateway.Name(), redisClient, &search.CacheConfig{
			TTL:       cfg.CacheOptions.TTL,
			KeyPrefix: cfg.CacheOptions.KeyPrefix,
		})
		logger.Infow("Search cache enabled", "ttl", cfg.CacheOptions.TTL)
	}
	logger.Infow("Search gateway initialized", "provider", gateway.Name(), "max_results", cfg.SearchOptions.MaxResults)

	// 5. 初始化文档提取
	recognizer, err := cfg.newRecognizer()
	if err != nil {
		return nil, err
	}
	extractor, err := ocr.NewGateway(&ocr.Config{
		MaxBytes:        cfg.OCROptions.MaxBytes,
		MaxPages:        cfg.OCROptions.MaxPages,
		Timeout:         cfg.OCROptions.Timeout,
		PageConcurrency: cfg.OCROptions.PageConcurrency,
	}, recognizer,
		ocr.WithRasterizer(ocr.NewPdftoppm(cfg.OCROptions.PdftoppmPath, cfg.OCROptions.DPI)),
		ocr.WithObserver(svc.Metrics.ObserveExtraction),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document extractor: %w", err)
	}
	svc.closers = append(svc.closers, extractor.Close)
	logger.Infow("Document extractor initialized", "recognizer", recognizer.Name())

	// 6. 初始化会话存储
	conv := cfg.ConversationOptions
	sessions := store.NewMemoryStore(&store.MemoryConfig{
		MaxTurns:      conv.MaxTurns,
		IdleTTL:       conv.SessionTTL,
		SweepInterval: conv.SweepInterval,
		OnChange:      svc.Metrics.SetActiveSessions,
	})
	svc.closers = append(svc.closers, sessions.Close)

	// 7. 初始化 Biz 层
	var rewriteProvider llm.ChatProvider
	if conv.RewriteEnabled {
		rewriteProvider = chatProvider
	}
	orch, err := biz.NewOrchestrator(biz.Dependencies{
		Sessions:   sessions,
		Limiter:    limiter,
		Classifier: biz.NewClassifier(nil),
		Rewriter: biz.NewRewriter(rewriteProvider, &biz.RewriterConfig{
			Timeout:      conv.RewriteTimeout,
			HistoryTurns: biz.DefaultRewriterConfig().HistoryTurns,
			MaxTokens:    biz.DefaultRewriterConfig().MaxTokens,
		}, svc.Metrics.ObserveRewriteFallback),
		Searcher:  searcher,
		Extractor: extractor,
		Assembler: biz.NewAssembler(&biz.AssemblerConfig{
			MaxChars:         conv.MaxContextChars,
			HistoryTurnChars: conv.HistoryTurnChars,
		}),
		Synthesizer: biz.NewSynthesizer(answerProvider, &biz.SynthesizerConfig{
			Temperature: cfg.LLMOptions.Temperature,
			MaxTokens:   cfg.LLMOptions.MaxTokens,
			Timeout:     conv.SynthesisTimeout,
		}),
		Recorder: svc.Metrics,
	}, &biz.OrchestratorConfig{
		MaxResults:     cfg.SearchOptions.MaxResults,
		SearchTimeout:  cfg.SearchOptions.Timeout,
		ExtractTimeout: cfg.OCROptions.Timeout,
		MaxInputChars:  conv.MaxInputChars,
		ExcerptChars:   conv.ExcerptChars,
		FollowUpTurns:  conv.FollowUpTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	svc.Orchestrator = orch
	logger.Infow("Conversation orchestrator initialized",
		"rewrite.enabled", conv.RewriteEnabled,
		"context.max_chars", conv.MaxContextChars,
	)
	return svc, nil
}

// newChatProviders 创建共享熔断器的两个 Chat 供应商：
// 查询改写按 llm.max-retries 重试，回答生成只调用一次。
func (cfg *Config) newChatProviders() (rewrite, answer llm.ChatProvider, err error) {
	o := cfg.LLMOptions
	provider, err := llm.NewChatProvider(o.Provider, o.ToConfigMap())
	if err != nil {
		return nil, nil, errno.ErrConfiguration.WithMessage("failed to initialize chat provider").WithCause(err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = o.MaxRetries
	retry.OnRetry = func(attempt int, err error) {
		logger.Warnw("retrying chat provider", "provider", o.Provider, "attempt", attempt, "error", err.Error())
	}
	resilient := llm.NewResilientChatProvider(provider, retry, &resilience.CircuitBreakerConfig{
		Name:             o.Provider,
		MaxFailures:      o.BreakerThreshold,
		Timeout:          o.BreakerTimeout,
		HalfOpenMaxCalls: 1,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
	return resilient, resilient.WithRetry(resilience.NoRetry()), nil
}

// newRecognizer 按 ocr.backend 选择图片识别实现。
func (cfg *Config) newRecognizer() (ocr.Recognizer, error) {
	switch cfg.OCROptions.Backend {
	case ocropts.BackendGemini:
		conf := cfg.LLMOptions.ToConfigMap()
		if cfg.LLMOptions.Provider != llmopts.ProviderGemini {
			// 对话使用其它供应商时，视觉识别单独使用 Gemini 的默认配置
			conf = map[string]any{
				"api_key": options.FirstEnv("GOOGLE_API_KEY", "GEMINI_API_KEY"),
				"timeout": cfg.OCROptions.Timeout,
			}
		}
		vision, err := llm.NewVisionProvider(llmopts.ProviderGemini, conf)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vision provider: %w", err)
		}
		return ocr.NewVision(vision), nil
	default:
		return ocr.NewTesseract(cfg.OCROptions.TesseractPath, cfg.OCROptions.Language), nil
	}
}

// universal 避免把 nil *Client 装进非 nil 接口。
func universal(c *goredis.Client) goredis.UniversalClient {
	if c == nil {
		return nil
	}
	return c
}

// Server represents the chat HTTP server.
type Server struct {
	svc             *Service
	srv             *http.Server
	shutdownTimeout time.Duration
}

// NewServer initializes and returns a new Server instance.
func (cfg *Config) NewServer(ctx context.Context) (*Server, error) {
	printBanner(cfg)

	// 1. 初始化日志
	if err := cfg.InitLogger(); err != nil {
		return nil, err
	}
	logger.Info("Starting company chat service...")

	// 2. 初始化对话服务
	svc, err := cfg.NewService(ctx)
	if err != nil {
		return nil, err
	}

	// 3. 初始化 Handler 层
	chatHandler := handler.NewChatHandler(svc.Orchestrator, cfg.HTTPOptions.MaxUploadBytes)
	logger.Info("Handler layer initialized")

	// 4. 注册路由
	gin.SetMode(cfg.HTTPOptions.Mode)
	engine := router.New(router.Config{
		Chat:        chatHandler,
		Metrics:     svc.Metrics.Handler(),
		HTTPMetrics: middleware.NewHTTPMetrics(svc.Metrics.Registerer(), metrics.Namespace),
	})

	logger.Infow("Company chat service is ready", "addr", cfg.HTTPOptions.Addr)
	return &Server{
		svc: svc,
		srv: &http.Server{
			Addr:         cfg.HTTPOptions.Addr,
			Handler:      engine,
			ReadTimeout:  cfg.HTTPOptions.ReadTimeout,
			WriteTimeout: cfg.HTTPOptions.WriteTimeout,
			IdleTimeout:  cfg.HTTPOptions.IdleTimeout,
		},
		shutdownTimeout: cfg.HTTPOptions.ShutdownTimeout,
	}, nil
}

// InitLogger 初始化全局日志。
func (cfg *Config) InitLogger() error {
	cfg.LogOptions.AddInitialField("service.name", Name)
	cfg.LogOptions.AddInitialField("service.version", app.GetVersion())
	if err := cfg.LogOptions.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.svc.Close()

	errCh := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}

func printBanner(cfg *Config) {
	fmt.Printf("Starting %s...\n", Name)
	fmt.Printf("  Chat: %s (%s)\n", cfg.LLMOptions.Provider, cfg.LLMOptions.Model)
	fmt.Printf("  Search: %s\n", cfg.SearchOptions.Provider)
	fmt.Printf("  OCR: %s\n", cfg.OCROptions.Backend)
}
