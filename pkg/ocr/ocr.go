// Package ocr 把上传的 PDF 或图片转换成纯文本。
//
// PDF 先读取文本层；文本层为空时逐页栅格化并识别。图片直接识别。
// 识别后端（Recognizer）可替换：本地 tesseract 或多模态模型。
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kart-io/logger"

	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/infra/pool"
)

// Method 文本的来源方式。
type Method string

const (
	MethodTextLayer Method = "text_layer"
	MethodOCR       Method = "ocr"
	MethodImageOCR  Method = "image_ocr"
)

// 失败原因，随 errno.ErrExtraction 的 Reason 返回。
const (
	ReasonUnsupported       = "unsupported"
	ReasonUnreadable        = "unreadable"
	ReasonPasswordProtected = "password_protected"
	ReasonBackend           = "backend"
	ReasonTimeout           = "timeout"
)

const MIMEPDF = "application/pdf"

// supportedImages 可以直接交给识别后端的图片类型。
var supportedImages = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
	"image/tiff": true,
	"image/bmp":  true,
}

// Document 提取结果。
type Document struct {
	RawText        string    `json:"raw_text"`
	SourceFilename string    `json:"source_filename"`
	MIMEType       string    `json:"mime_type"`
	PageCount      int       `json:"page_count,omitempty"`
	ImageWidth     int       `json:"image_width,omitempty"`
	ImageHeight    int       `json:"image_height,omitempty"`
	Method         Method    `json:"method"`
	ExtractedAt    time.Time `json:"extracted_at"`
}

// Extractor 文档文本提取接口。
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType, filename string) (*Document, error)
}

// Config OCR 网关配置。
type Config struct {
	// MaxBytes 单个文件大小上限。
	MaxBytes int64
	// MaxPages 栅格化识别的最大页数，超出部分忽略。
	MaxPages int
	// Timeout 单次 Extract 的总超时。
	Timeout time.Duration
	// PageConcurrency 并发识别的页数。
	PageConcurrency int
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		MaxBytes:        20 << 20,
		MaxPages:        20,
		Timeout:         15 * time.Second,
		PageConcurrency: 4,
	}
}

// Observer 每次 Extract 结束后回调，用于指标采集。
type Observer func(method, outcome string, elapsed time.Duration)

// Gateway 实现 Extractor。
type Gateway struct {
	cfg        *Config
	recognizer Recognizer
	rasterizer Rasterizer
	pages      *pool.Pool
	observe    Observer
	now        func() time.Time
}

// Option 配置 Gateway。
type Option func(*Gateway)

// WithRasterizer 设置 PDF 栅格化实现。
func WithRasterizer(r Rasterizer) Option {
	return func(g *Gateway) { g.rasterizer = r }
}

// WithObserver 设置指标回调。
func WithObserver(o Observer) Option {
	return func(g *Gateway) { g.observe = o }
}

// NewGateway 创建 OCR 网关。recognizer 不能为空。
func NewGateway(cfg *Config, recognizer Recognizer, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if recognizer == nil {
		return nil, errno.ErrConfiguration.WithMessage("ocr: recognizer is required")
	}
	concurrency := cfg.PageConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	pages, err := pool.NewPool("ocr-pages", &pool.Config{
		Capacity:       concurrency,
		ExpiryDuration: time.Minute,
	})
	if err != nil {
		return nil, errno.ErrConfiguration.WithCause(err)
	}

	g := &Gateway{
		cfg:        cfg,
		recognizer: recognizer,
		rasterizer: NewPdftoppm("", 150),
		pages:      pages,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Close 释放页面识别池。
func (g *Gateway) Close() {
	g.pages.Release()
}

// Extract implements Extractor.
func (g *Gateway) Extract(ctx context.Context, data []byte, mimeType, filename string) (*Document, error) {
	start := time.Now()
	doc, err := g.extract(ctx, data, mimeType, filename)

	method, outcome := "unknown", "ok"
	if doc != nil {
		method = string(doc.Method)
	}
	switch {
	case errno.Is(err, errno.ErrNoTextFound):
		outcome = "no_text"
	case err != nil:
		outcome = errno.ReasonOf(err)
	}
	if g.observe != nil {
		g.observe(method, outcome, time.Since(start))
	}

	if err != nil {
		logger.Warnw("document extraction failed",
			"filename", filename,
			"mime", mimeType,
			"outcome", outcome,
			"error", err.Error(),
		)
		return nil, err
	}
	logger.Infow("document extracted",
		"filename", filename,
		"method", doc.Method,
		"pages", doc.PageCount,
		"chars", len([]rune(doc.RawText)),
	)
	return doc, nil
}

func (g *Gateway) extract(ctx context.Context, data []byte, mimeType, filename string) (*Document, error) {
	if len(data) == 0 {
		return nil, errno.ErrExtraction.WithReason(ReasonUnreadable).WithMessage("file is empty")
	}
	if g.cfg.MaxBytes > 0 && int64(len(data)) > g.cfg.MaxBytes {
		return nil, errno.ErrExtraction.WithReason(ReasonUnreadable).
			WithMessagef("file exceeds %d bytes", g.cfg.MaxBytes)
	}

	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	mimeType = DetectMIME(data, mimeType, filename)
	doc := &Document{
		SourceFilename: filepath.Base(filename),
		MIMEType:       mimeType,
	}

	var err error
	switch {
	case mimeType == MIMEPDF:
		err = g.extractPDF(ctx, data, doc)
	case supportedImages[mimeType]:
		err = g.extractImage(ctx, data, doc)
	default:
		return nil, errno.ErrExtraction.WithReason(ReasonUnsupported).
			WithMessagef("unsupported file type %s", mimeType)
	}
	if err != nil {
		return doc, err
	}

	doc.RawText = strings.TrimSpace(doc.RawText)
	if doc.RawText == "" {
		return doc, errno.ErrNoTextFound
	}
	doc.ExtractedAt = g.now()
	return doc, nil
}

func (g *Gateway) extractPDF(ctx context.Context, data []byte, doc *Document) error {
	pages, err := readTextLayer(data)
	if err != nil {
		return err
	}
	doc.PageCount = len(pages)

	// 没有文本层的页面（扫描页）逐页识别
	var scanned []int
	for i, t := range pages {
		if t == "" {
			scanned = append(scanned, i+1)
		}
	}
	doc.Method = MethodTextLayer
	if len(scanned) == 0 {
		doc.RawText = joinPages(pages)
		return nil
	}
	if g.cfg.MaxPages > 0 && len(scanned) > g.cfg.MaxPages {
		logger.Warnw("scanned page count exceeds limit, extra pages skipped",
			"pages", doc.PageCount,
			"scanned", len(scanned),
			"max_pages", g.cfg.MaxPages,
		)
		scanned = scanned[:g.cfg.MaxPages]
	}

	texts, err := g.recognizePages(ctx, data, scanned)
	if err != nil {
		if len(scanned) == doc.PageCount {
			return err
		}
		// 混合文档：识别失败时保留文本层内容
		logger.Warnw("scanned pages could not be recognized, using text layer only",
			"pages", doc.PageCount,
			"scanned", len(scanned),
			"error", err.Error(),
		)
		doc.RawText = joinPages(pages)
		return nil
	}
	for i, n := range scanned {
		pages[n-1] = texts[i]
	}
	doc.Method = MethodOCR
	doc.RawText = joinPages(pages)
	return nil
}

// recognizePages 栅格化指定页面（从 1 开始）并在页面池中并发识别，结果与 pages 顺序一致。
func (g *Gateway) recognizePages(ctx context.Context, data []byte, pages []int) ([]string, error) {
	images, err := g.rasterizer.Rasterize(ctx, data, pages)
	if err != nil {
		return nil, backendError(ctx, fmt.Errorf("rasterize: %w", err))
	}
	if len(images) != len(pages) {
		return nil, backendError(ctx, fmt.Errorf("rasterize: got %d images for %d pages", len(images), len(pages)))
	}

	texts, err := pool.Map(ctx, g.pages, len(images), func(ctx context.Context, i int) (string, error) {
		return g.recognizer.Recognize(ctx, images[i], "image/png")
	})
	if err != nil {
		return nil, backendError(ctx, err)
	}
	return texts, nil
}

func (g *Gateway) extractImage(ctx context.Context, data []byte, doc *Document) error {
	doc.Method = MethodImageOCR
	// webp/tiff/bmp 没有注册解码器，尺寸留空
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		doc.ImageWidth, doc.ImageHeight = cfg.Width, cfg.Height
	} else if doc.MIMEType == "image/png" || doc.MIMEType == "image/jpeg" || doc.MIMEType == "image/gif" {
		return errno.ErrExtraction.WithReason(ReasonUnreadable).WithCause(err)
	}

	text, err := g.recognizer.Recognize(ctx, data, doc.MIMEType)
	if err != nil {
		return backendError(ctx, err)
	}
	doc.RawText = text
	return nil
}

func backendError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errno.ErrExtraction.WithReason(ReasonTimeout).WithCause(err)
	}
	return errno.ErrExtraction.WithReason(ReasonBackend).WithCause(err)
}

// extByType 扩展名兜底
var extByType = map[string]string{
	".pdf":  MIMEPDF,
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// DetectMIME 确定文件类型：内容嗅探优先，其次是调用方声明，最后是扩展名。
func DetectMIME(data []byte, declared, filename string) string {
	sniffed := mimetype.Detect(data).String()
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	if sniffed == MIMEPDF || supportedImages[sniffed] {
		return sniffed
	}

	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t, ok := extByType[strings.ToLower(filepath.Ext(filename))]; ok {
		return t
	}
	return sniffed
}
