package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kart-io/company-chat/pkg/llm"
	"github.com/kart-io/company-chat/pkg/resilience"
)

// Recognizer 识别单张图片中的文字。没有文字时返回空字符串而不是错误。
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, image []byte, mimeType string) (string, error)
}

// NoTextMarker 提示模型在图片没有文字时输出的标记。
const NoTextMarker = "NO_TEXT_DETECTED"

const visionInstruction = `Transcribe all readable text in this image exactly as it appears, preserving line breaks.
Do not describe the image and do not add commentary.
If the image contains no readable text, reply with exactly: ` + NoTextMarker

// Tesseract 本地 tesseract 命令行识别。
type Tesseract struct {
	Path     string
	Language string
}

// NewTesseract 创建 tesseract 识别器，path 为空时从 PATH 查找。
func NewTesseract(path, language string) *Tesseract {
	if path == "" {
		path = "tesseract"
	}
	if language == "" {
		language = "eng"
	}
	return &Tesseract{Path: path, Language: language}
}

// Name implements Recognizer.
func (t *Tesseract) Name() string { return "tesseract" }

// Recognize implements Recognizer. 图片通过 stdin 传入，结果从 stdout 读取。
func (t *Tesseract) Recognize(ctx context.Context, image []byte, _ string) (string, error) {
	cmd := exec.CommandContext(ctx, t.Path, "stdin", "stdout", "-l", t.Language)
	cmd.Stdin = bytes.NewReader(image)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, truncate(stderr.String(), 256))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Vision 使用多模态模型识别，暂时性失败最多重试一次。
type Vision struct {
	provider llm.VisionProvider
	retry    *resilience.RetryConfig
}

// NewVision 创建模型识别器。
func NewVision(provider llm.VisionProvider) *Vision {
	return &Vision{provider: provider, retry: resilience.DefaultRetryConfig()}
}

// Name implements Recognizer.
func (v *Vision) Name() string { return "vision:" + v.provider.Name() }

// Recognize implements Recognizer.
func (v *Vision) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	var text string
	err := resilience.RetryWithBackoff(ctx, v.retry, func(ctx context.Context) error {
		var err error
		text, err = v.provider.Vision(ctx, visionInstruction, image, mimeType)
		return err
	})
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if strings.EqualFold(strings.Trim(text, "`*. "), NoTextMarker) {
		return "", nil
	}
	return text, nil
}
