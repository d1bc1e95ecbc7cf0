package biz

import (
	"fmt"
	"strings"

	"github.com/kart-io/company-chat/internal/model"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/search"
)

// TruncationMarker 文档被截断时追加的标记。
const TruncationMarker = "\n[... document truncated ...]"

// AssemblerConfig 上下文预算配置，单位为字符（rune）。
type AssemblerConfig struct {
	// MaxChars 提示词总长度上限。
	MaxChars int
	// HistoryTurnChars 每条历史消息保留的最大长度。
	HistoryTurnChars int
}

// DefaultAssemblerConfig 返回默认配置。
func DefaultAssemblerConfig() *AssemblerConfig {
	return &AssemblerConfig{
		MaxChars:         12000,
		HistoryTurnChars: 500,
	}
}

// AssembleInput 组装一次提示词所需的全部内容。
type AssembleInput struct {
	// System 系统指令，不会被截断。
	System string
	// History 当前轮之前的历史，按时间顺序。
	History []model.Turn
	// Document 当前轮或被引用的文档，可为 nil。
	Document *model.DocumentRef
	// Results 搜索结果，按 rank 排序，直接答案（rank 0）在最前。
	Results []search.Result
	// Question 当前用户输入，原样保留。
	Question string
}

// Assembler 在预算内拼接提示词，输出是输入的确定性函数。
//
// 超出预算时依次：丢弃最旧的历史、截断文档、从排名最低处丢弃搜索结果。
// 系统指令与当前问题永远完整保留。
type Assembler struct {
	config *AssemblerConfig
}

// NewAssembler 创建组装器。
func NewAssembler(config *AssemblerConfig) *Assembler {
	if config == nil {
		config = DefaultAssemblerConfig()
	}
	return &Assembler{config: config}
}

// Assemble 生成提示词。固定部分本身超出预算时返回固定部分和 ErrPromptOverBudget。
func (a *Assembler) Assemble(in AssembleInput) (string, error) {
	max := a.config.MaxChars

	p := promptParts{
		system:   strings.TrimSpace(in.System),
		question: in.Question,
		history:  a.condense(in.History),
		doc:      in.Document,
		results:  in.Results,
	}
	if in.Document != nil {
		p.docText = strings.TrimSpace(in.Document.Text)
	}
	p.nResults = len(p.results)

	fixed := p.fixed()
	if max > 0 && runeLen(fixed) > max {
		return fixed, errno.ErrPromptOverBudget.WithMessagef(
			"system instructions and question need %d chars, budget is %d", runeLen(fixed), max)
	}

	out := p.render()
	if max <= 0 || runeLen(out) <= max {
		return out, nil
	}

	// 1. 丢弃最旧的历史
	for p.historyFrom < len(p.history) && runeLen(out) > max {
		p.historyFrom++
		out = p.render()
	}

	// 2. 截断文档
	if runeLen(out) > max && p.docText != "" {
		excess := runeLen(out) - max
		keep := runeLen(p.docText) - excess - runeLen(TruncationMarker)
		if keep < 0 {
			keep = 0
		}
		p.docText = string([]rune(p.docText)[:keep])
		p.docTruncated = true
		out = p.render()
	}

	// 3. 从排名最低处丢弃搜索结果
	for p.nResults > 0 && runeLen(out) > max {
		p.nResults--
		out = p.render()
	}

	// 4. 仍然超出时去掉整个文档块
	if runeLen(out) > max {
		p.doc = nil
		out = p.render()
	}
	return out, nil
}

// condense 把历史转换为单行条目，每条按 HistoryTurnChars 截断。
func (a *Assembler) condense(history []model.Turn) []string {
	out := make([]string, 0, len(history))
	for _, t := range history {
		text := strings.TrimSpace(t.Text)
		if a.config.HistoryTurnChars > 0 {
			text = truncateRunes(text, a.config.HistoryTurnChars)
		}
		speaker := "User"
		if t.Role == model.RoleAssistant {
			speaker = "Assistant"
		}
		if t.Attachment == "" {
			out = append(out, fmt.Sprintf("%s: %s", speaker, text))
			continue
		}
		entry := fmt.Sprintf("%s [uploaded %s]: %s", speaker, t.Attachment, text)
		if t.Excerpt != "" {
			entry += "\n  Document excerpt: " + t.Excerpt
		}
		out = append(out, entry)
	}
	return out
}

type promptParts struct {
	system      string
	question    string
	history     []string
	historyFrom int

	doc          *model.DocumentRef
	docText      string
	docTruncated bool

	results  []search.Result
	nResults int
}

func (p *promptParts) fixed() string {
	var sb strings.Builder
	sb.WriteString(p.system)
	p.writeQuestion(&sb)
	return sb.String()
}

func (p *promptParts) render() string {
	var sb strings.Builder
	sb.WriteString(p.system)

	if p.historyFrom < len(p.history) {
		sb.WriteString("\n\n## Conversation so far\n")
		sb.WriteString(strings.Join(p.history[p.historyFrom:], "\n"))
	}

	if p.doc != nil {
		sb.WriteString("\n\n## Document context\n")
		sb.WriteString("Source: ")
		sb.WriteString(describeDocument(p.doc))
		sb.WriteByte('\n')
		sb.WriteString(p.docText)
		if p.docTruncated {
			sb.WriteString(TruncationMarker)
		}
	}

	if p.nResults > 0 {
		sb.WriteString("\n\n## Search context")
		for _, r := range p.results[:p.nResults] {
			sb.WriteString("\n")
			sb.WriteString(formatResult(r))
		}
	}

	p.writeQuestion(&sb)
	return sb.String()
}

func (p *promptParts) writeQuestion(sb *strings.Builder) {
	sb.WriteString("\n\n## Current question\n")
	sb.WriteString(p.question)
}

func formatResult(r search.Result) string {
	title := r.Title
	if r.IsDirectAnswer() && title == "" {
		title = "Direct answer"
	}
	head := fmt.Sprintf("[%d] %s", r.Rank, title)
	if r.SourceURL != "" {
		head += fmt.Sprintf(" (source: %s)", r.SourceURL)
	}
	return head + "\n" + strings.TrimSpace(r.Snippet)
}

func describeDocument(d *model.DocumentRef) string {
	switch {
	case d.PageCount > 0:
		return fmt.Sprintf("%s (%d pages)", d.Filename, d.PageCount)
	case d.ImageWidth > 0:
		return fmt.Sprintf("%s (%dx%d image)", d.Filename, d.ImageWidth, d.ImageHeight)
	default:
		return d.Filename
	}
}

func runeLen(s string) int {
	return len([]rune(s))
}

// truncateRunes 截断到 n 个字符，超出时以 "..." 结尾。
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
