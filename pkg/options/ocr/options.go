// Package ocr provides document extraction options.
package ocr

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/company-chat/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 识别后端。
const (
	BackendTesseract = "tesseract"
	BackendGemini    = "gemini"
)

// Options 文档提取配置。
type Options struct {
	// Backend 图片识别后端：tesseract 或 gemini（vision 模型）。
	Backend string `json:"backend" mapstructure:"backend"`
	// TesseractPath tesseract 可执行文件。
	TesseractPath string `json:"tesseract-path" mapstructure:"tesseract-path"`
	// Language tesseract 语言包。
	Language string `json:"language" mapstructure:"language"`
	// PdftoppmPath pdftoppm 可执行文件（扫描件 PDF 栅格化）。
	PdftoppmPath string `json:"pdftoppm-path" mapstructure:"pdftoppm-path"`
	// DPI 栅格化分辨率。
	DPI int `json:"dpi" mapstructure:"dpi"`
	// MaxBytes 单个文件大小上限。
	MaxBytes int64 `json:"max-bytes" mapstructure:"max-bytes"`
	// MaxPages 扫描件最多识别的页数。
	MaxPages int `json:"max-pages" mapstructure:"max-pages"`
	// PageConcurrency 并发识别的页数。
	PageConcurrency int `json:"page-concurrency" mapstructure:"page-concurrency"`
	// Timeout 单个文档提取超时。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewOptions 创建默认配置。
func NewOptions() *Options {
	return &Options{
		Backend:         BackendTesseract,
		TesseractPath:   "tesseract",
		Language:        "eng",
		PdftoppmPath:    "pdftoppm",
		DPI:             150,
		MaxBytes:        20 << 20,
		MaxPages:        20,
		PageConcurrency: 4,
		Timeout:         15 * time.Second,
	}
}

// AddFlags adds flags for OCR options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "ocr."
	fs.StringVar(&o.Backend, p+"backend", o.Backend, "Image text recognizer (tesseract, gemini).")
	fs.StringVar(&o.TesseractPath, p+"tesseract-path", o.TesseractPath, "Path to the tesseract binary.")
	fs.StringVar(&o.Language, p+"language", o.Language, "Tesseract language pack.")
	fs.StringVar(&o.PdftoppmPath, p+"pdftoppm-path", o.PdftoppmPath, "Path to the pdftoppm binary used for scanned PDFs.")
	fs.IntVar(&o.DPI, p+"dpi", o.DPI, "Rasterization resolution for scanned PDFs.")
	fs.Int64Var(&o.MaxBytes, p+"max-bytes", o.MaxBytes, "Maximum document size in bytes.")
	fs.IntVar(&o.MaxPages, p+"max-pages", o.MaxPages, "Maximum scanned pages to recognize.")
	fs.IntVar(&o.PageConcurrency, p+"page-concurrency", o.PageConcurrency, "Pages recognized in parallel.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Extraction timeout per document.")
}

// Complete completes the OCR options.
func (o *Options) Complete() error {
	o.Backend = strings.ToLower(strings.TrimSpace(o.Backend))
	return nil
}

// Validate validates the OCR options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Backend {
	case BackendTesseract, BackendGemini:
	default:
		errs = append(errs, fmt.Errorf("ocr.backend %q is not supported (tesseract, gemini)", o.Backend))
	}
	if o.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("ocr.max-bytes must be positive"))
	}
	if o.MaxPages <= 0 {
		errs = append(errs, fmt.Errorf("ocr.max-pages must be positive"))
	}
	if o.PageConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("ocr.page-concurrency must be positive"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("ocr.timeout must be positive"))
	}
	return errs
}
