package biz

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/kart-io/logger"

	"github.com/kart-io/company-chat/internal/model"
	"github.com/kart-io/company-chat/pkg/llm"
)

// 改写回退原因。
const (
	FallbackModelError     = "model_error"
	FallbackTooShort       = "too_short"
	FallbackEntityDropped  = "entity_dropped"
	FallbackEntityInjected = "entity_injected"
)

// RewriterConfig 查询改写配置。
type RewriterConfig struct {
	// Timeout 改写调用超时。
	Timeout time.Duration
	// HistoryTurns 提供给模型的最近消息数。
	HistoryTurns int
	// MaxTokens 改写输出上限。
	MaxTokens int
}

// DefaultRewriterConfig 返回默认配置。
func DefaultRewriterConfig() *RewriterConfig {
	return &RewriterConfig{
		Timeout:      10 * time.Second,
		HistoryTurns: 4,
		MaxTokens:    64,
	}
}

// Rewriter 把口语化的问题改写成以实体为中心的搜索查询。
// 改写只是优化：任何失败或可疑结果都回退到原文。
type Rewriter struct {
	provider   llm.ChatProvider
	config     *RewriterConfig
	onFallback func(reason string)
}

// NewRewriter 创建改写器。provider 为 nil 时总是使用原文。
func NewRewriter(provider llm.ChatProvider, config *RewriterConfig, onFallback func(reason string)) *Rewriter {
	if config == nil {
		config = DefaultRewriterConfig()
	}
	return &Rewriter{provider: provider, config: config, onFallback: onFallback}
}

// Rewrite 返回搜索查询，不返回错误。
func (r *Rewriter) Rewrite(ctx context.Context, text string, history []model.Turn) string {
	text = strings.TrimSpace(text)
	if r.provider == nil {
		return text
	}

	if r.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf(rewritePromptTemplate, formatRecentHistory(history, r.config.HistoryTurns), text)
	out, err := r.provider.Generate(ctx, prompt, rewriteSystemPrompt,
		llm.WithTemperature(0),
		llm.WithMaxTokens(r.config.MaxTokens),
	)
	if err != nil {
		logger.Warnw("查询改写失败，使用原始问题", "error", err.Error())
		return r.fallback(text, FallbackModelError)
	}

	query := cleanQuery(out)
	if reason := checkRewrite(text, query, history); reason != "" {
		logger.Debugw("改写结果不可用，使用原始问题", "reason", reason, "rewritten", query)
		return r.fallback(text, reason)
	}

	logger.Debugw("查询已改写", "original", text, "rewritten", query)
	return query
}

func (r *Rewriter) fallback(text, reason string) string {
	if r.onFallback != nil {
		r.onFallback(reason)
	}
	return text
}

// cleanQuery 只取第一行，去掉前缀、引号和结尾标点。
func cleanQuery(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	for _, prefix := range []string{"search query:", "query:"} {
		if len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			s = s[len(prefix):]
		}
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "\"'`*. "))
}

// checkRewrite 返回回退原因，可用时返回空字符串。
func checkRewrite(original, rewritten string, history []model.Turn) string {
	if len([]rune(rewritten)) < 3 {
		return FallbackTooShort
	}

	rewrittenWords := wordSet(rewritten)

	// 原问题中的实体至少保留一个
	if entities := entityCandidates(original); len(entities) > 0 {
		kept := false
		for _, e := range entities {
			if rewrittenWords[e] {
				kept = true
				break
			}
		}
		if !kept {
			return FallbackEntityDropped
		}
	}

	// 不能引入问题和历史中都没有的词，大小写不参与判断。
	known := wordSet(original)
	for _, t := range history {
		for w := range wordSet(t.Text) {
			known[w] = true
		}
	}
	for _, w := range words(rewritten) {
		lw := strings.ToLower(w)
		if stopWords[lw] || genericTerms[lw] || isNumber(lw) {
			continue
		}
		if !known[lw] && !known[strings.TrimSuffix(lw, "s")] && !known[lw+"s"] {
			return FallbackEntityInjected
		}
	}
	return ""
}

// entityCandidates 返回问题中的实体候选（小写）。
// 有首字母大写的非疑问词时只取这些，否则取全部实义词。
func entityCandidates(text string) []string {
	var capitalized, content []string
	for i, w := range words(text) {
		lw := strings.ToLower(w)
		if stopWords[lw] || genericTerms[lw] || len([]rune(lw)) < 2 {
			continue
		}
		content = append(content, lw)
		if startsUpper(w) && !(i == 0 && questionWords[lw]) {
			capitalized = append(capitalized, lw)
		}
	}
	if len(capitalized) > 0 {
		return capitalized
	}
	return content
}

func formatRecentHistory(history []model.Turn, n int) string {
	if n <= 0 || len(history) == 0 {
		return ""
	}
	if len(history) > n {
		history = history[len(history)-n:]
	}
	var sb strings.Builder
	sb.WriteString("\nRecent conversation:\n")
	for _, t := range history {
		text := truncateRunes(t.Text, 300)
		if t.Role == model.RoleUser {
			sb.WriteString("User: ")
		} else {
			sb.WriteString("Assistant: ")
		}
		sb.WriteString(text)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// words 按非字母数字切分，保留原大小写；所有格 's 去掉。
func words(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '&' && r != '-'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimSuffix(strings.TrimSuffix(f, "'s"), "'")
		f = strings.Trim(f, "-'&")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range words(s) {
		set[strings.ToLower(w)] = true
	}
	return set
}

func startsUpper(w string) bool {
	for _, r := range w {
		return unicode.IsUpper(r)
	}
	return false
}

func isNumber(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return w != ""
}

var questionWords = map[string]bool{
	"what": true, "who": true, "where": true, "when": true, "why": true, "how": true,
	"which": true, "tell": true, "give": true, "show": true, "find": true, "can": true,
	"could": true, "would": true, "does": true, "do": true, "is": true, "are": true,
	"please": true, "list": true, "describe": true, "explain": true,
}

var stopWords = map[string]bool{
	"what": true, "who": true, "where": true, "when": true, "why": true, "how": true,
	"which": true, "tell": true, "give": true, "show": true, "find": true, "can": true,
	"could": true, "would": true, "does": true, "do": true, "did": true, "is": true,
	"are": true, "was": true, "were": true, "be": true, "please": true, "list": true,
	"describe": true, "explain": true, "me": true, "us": true, "i": true, "you": true,
	"about": true, "more": true, "it": true, "its": true, "they": true, "them": true,
	"their": true, "this": true, "that": true, "these": true, "those": true, "the": true,
	"a": true, "an": true, "of": true, "for": true, "in": true, "on": true, "at": true,
	"to": true, "and": true, "or": true, "with": true, "from": true, "by": true,
	"company": true, "companies": true, "some": true, "any": true, "all": true,
	"latest": true, "recent": true, "current": true, "currently": true, "now": true,
	"know": true, "info": true, "information": true, "details": true, "want": true,
	"like": true, "much": true, "many": true, "has": true, "have": true, "make": true,
	"makes": true, "sell": true, "sells": true, "work": true, "works": true,
	"there": true, "else": true, "also": true, "again": true, "who's": true, "what's": true,
}

// genericTerms 改写时可以自由添加的通用词。
var genericTerms = map[string]bool{
	"inc": true, "corp": true, "corporation": true, "co": true, "ltd": true, "llc": true,
	"plc": true, "group": true, "holdings": true, "ag": true, "sa": true, "gmbh": true,
	"nv": true, "limited": true, "company": true, "headquarters": true, "hq": true,
	"ceo": true, "cfo": true, "cto": true, "founder": true, "founders": true,
	"leadership": true, "executives": true, "revenue": true, "earnings": true,
	"financial": true, "financials": true, "results": true, "news": true,
	"overview": true, "profile": true, "business": true, "model": true,
	"products": true, "services": true, "history": true, "industry": true,
	"contact": true, "official": true, "website": true, "annual": true, "report": true,
	"stock": true, "market": true, "competitors": true, "quarterly": true, "q1": true,
	"q2": true, "q3": true, "q4": true, "fy": true, "employees": true, "valuation": true,
	"funding": true, "acquisitions": true, "strategy": true, "subsidiaries": true,
	"vs": true, "versus": true, "comparison": true, "compare": true, "analysis": true,
	"electric": true, "vehicles": true, "vehicle": true, "cars": true, "team": true,
	"founded": true, "founding": true, "mission": true, "vision": true, "values": true,
	"location": true, "locations": true, "offices": true, "address": true,
	"pricing": true, "customers": true, "partners": true, "share": true, "reviews": true,
	"size": true, "workforce": true, "ownership": true, "owner": true, "owners": true,
	"board": true, "directors": true, "president": true, "chairman": true,
	"description": true, "summary": true, "facts": true, "key": true, "main": true,
	"core": true, "offerings": true, "operations": true, "performance": true,
	"growth": true, "profit": true, "sales": true, "year": true, "timeline": true,
	"parent": true, "brands": true, "technology": true, "software": true,
	"platform": true, "payments": true, "careers": true, "jobs": true, "culture": true,
}
