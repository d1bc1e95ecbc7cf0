package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	errno "github.com/kart-io/company-chat/pkg/errors"
)

// readTextLayer 读取 PDF 文本层，按页返回文本（下标 0 为第 1 页），没有文本层的页面为空串。
// 解析库对畸形输入可能 panic，这里统一转换为 unreadable。
func readTextLayer(data []byte) (pages []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = errno.ErrExtraction.WithReason(ReasonUnreadable).WithCause(fmt.Errorf("pdf parser panic: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdf.ErrInvalidPassword) {
			return nil, errno.ErrExtraction.WithReason(ReasonPasswordProtected).WithCause(err)
		}
		return nil, errno.ErrExtraction.WithReason(ReasonUnreadable).WithCause(err)
	}

	pageCount := reader.NumPage()
	if pageCount == 0 {
		return nil, errno.ErrExtraction.WithReason(ReasonUnreadable).WithMessage("pdf has no pages")
	}

	pages = make([]string, pageCount)
	for i := 1; i <= pageCount; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			// 无法解析的页面按扫描页处理
			continue
		}
		pages[i-1] = strings.TrimSpace(pageText)
	}
	return pages, nil
}

// joinPages 按页序拼接非空页面文本。
func joinPages(pages []string) string {
	var sb strings.Builder
	for _, t := range pages {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(t)
	}
	return sb.String()
}
