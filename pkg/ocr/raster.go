package ocr

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Rasterizer 把 PDF 的指定页面（从 1 开始）渲染成 PNG，结果与 pages 顺序一致。
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, pages []int) ([][]byte, error)
}

// Pdftoppm 调用 poppler-utils 的 pdftoppm 渲染页面。
type Pdftoppm struct {
	Path string
	DPI  int
}

// NewPdftoppm 创建渲染器，path 为空时从 PATH 查找。
func NewPdftoppm(path string, dpi int) *Pdftoppm {
	if path == "" {
		path = "pdftoppm"
	}
	if dpi <= 0 {
		dpi = 150
	}
	return &Pdftoppm{Path: path, DPI: dpi}
}

// Rasterize implements Rasterizer. 一次渲染 pages 覆盖的页码区间，再按页码挑选。
func (p *Pdftoppm) Rasterize(ctx context.Context, pdf []byte, pages []int) ([][]byte, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	first, last := pages[0], pages[0]
	for _, n := range pages {
		first, last = min(first, n), max(last, n)
	}

	dir, err := os.MkdirTemp("", "company-chat-pdf-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, p.Path,
		"-png",
		"-r", strconv.Itoa(p.DPI),
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		in, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", p.Path, err, truncate(string(out), 256))
	}

	// pdftoppm 输出 page-<页码>.png，页码按总页数位数补零
	files, err := filepath.Glob(prefix + "-*.png")
	if err != nil {
		return nil, err
	}
	byPage := make(map[int]string, len(files))
	for _, f := range files {
		num := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(f), "page-"), ".png")
		if n, err := strconv.Atoi(num); err == nil {
			byPage[n] = f
		}
	}

	images := make([][]byte, 0, len(pages))
	for _, n := range pages {
		f, ok := byPage[n]
		if !ok {
			return nil, fmt.Errorf("%s: page %d was not rendered", p.Path, n)
		}
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		images = append(images, b)
	}
	return images, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
