package biz

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kart-io/company-chat/internal/model"
)

// 规则名，同时作为分类结果的 rule-trace。
const (
	RuleAttachment       = "attachment"
	RuleEmpty            = "command.empty"
	RuleHelp             = "command.help"
	RuleClear            = "command.clear"
	RuleExit             = "command.exit"
	RuleGreetingHello    = "greeting.hello"
	RuleGreetingThanks   = "greeting.thanks"
	RuleGreetingFarewell = "greeting.farewell"
	RuleDefault          = "default"
)

// MatchMode 规则的匹配方式。
type MatchMode int

const (
	// MatchWhole 规范化后的整句与某个模式完全相同。
	MatchWhole MatchMode = iota
	// MatchPhrase 以词为边界包含某个模式，且其余词都是寒暄填充词。
	MatchPhrase
)

// Rule 分类规则表中的一项。
type Rule struct {
	Name     string
	Category model.Category
	Mode     MatchMode
	Patterns []string
}

// Classification 分类结果。
type Classification struct {
	Category model.Category `json:"category"`
	Rule     string         `json:"rule"`
}

// IsCommand 是否为本地处理的命令。
func (c Classification) IsCommand() bool {
	return c.Category == model.CategoryCommand
}

// DefaultRules 按优先级排列的规则表。命令排在问候之前，
// 所以单独的 "bye" 结束会话而不是普通道别。
var DefaultRules = []Rule{
	{Name: RuleHelp, Category: model.CategoryCommand, Mode: MatchWhole, Patterns: []string{"help", "?"}},
	{Name: RuleClear, Category: model.CategoryCommand, Mode: MatchWhole, Patterns: []string{"clear", "reset"}},
	{Name: RuleExit, Category: model.CategoryCommand, Mode: MatchWhole, Patterns: []string{"exit", "quit", "bye"}},
	{Name: RuleGreetingHello, Category: model.CategoryGreeting, Mode: MatchPhrase, Patterns: []string{
		"hi", "hello", "hey", "hiya", "howdy", "greetings", "yo",
		"good morning", "good afternoon", "good evening", "good day",
		"how are you", "how are you doing", "what's up", "whats up",
	}},
	{Name: RuleGreetingThanks, Category: model.CategoryGreeting, Mode: MatchPhrase, Patterns: []string{
		"thanks", "thank you", "thx", "ty", "cheers", "much appreciated", "appreciate it",
	}},
	{Name: RuleGreetingFarewell, Category: model.CategoryGreeting, Mode: MatchPhrase, Patterns: []string{
		"bye", "goodbye", "good bye", "bye bye", "see you", "see ya", "farewell", "good night", "take care",
	}},
}

// fillerWords 可以跟在问候语后面而不改变其含义的词。
var fillerWords = map[string]bool{
	"there": true, "again": true, "all": true, "everyone": true, "everybody": true,
	"so": true, "much": true, "very": true, "a": true, "lot": true, "lots": true,
	"you": true, "for": true, "the": true, "help": true, "your": true, "that": true,
	"bot": true, "chatbot": true, "assistant": true, "friend": true, "team": true,
	"and": true, "oh": true, "ok": true, "okay": true, "great": true, "well": true,
	"later": true, "soon": true, "today": true, "now": true, "guys": true, "folks": true,
}

// Classifier 基于规则表的分类器，纯函数，不会失败。
type Classifier struct {
	rules []compiledRule
}

type compiledRule struct {
	Rule
	phrases [][]string // MatchPhrase 模式，按词数降序
}

// NewClassifier 创建分类器，rules 为空时使用 DefaultRules。
func NewClassifier(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		cr := compiledRule{Rule: r}
		if r.Mode == MatchPhrase {
			for _, p := range r.Patterns {
				cr.phrases = append(cr.phrases, tokenize(p))
			}
			sort.SliceStable(cr.phrases, func(i, j int) bool {
				return len(cr.phrases[i]) > len(cr.phrases[j])
			})
		}
		c.rules = append(c.rules, cr)
	}
	return c
}

// Classify 对一轮输入分类。history 目前不参与判定：指代型追问
// （"tell me more about it"）落入默认的 company_query，由改写器结合历史处理。
func (c *Classifier) Classify(text string, _ []model.Turn, hasAttachment bool) Classification {
	if hasAttachment {
		return Classification{Category: model.CategoryDocument, Rule: RuleAttachment}
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		if strings.TrimSpace(text) == "?" {
			return Classification{Category: model.CategoryCommand, Rule: RuleHelp}
		}
		return Classification{Category: model.CategoryCommand, Rule: RuleEmpty}
	}
	whole := strings.Join(tokens, " ")

	for _, r := range c.rules {
		if r.Mode == MatchWhole {
			for _, p := range r.Patterns {
				if whole == p {
					return Classification{Category: r.Category, Rule: r.Name}
				}
			}
		}
	}

	if name, ok := c.matchPhrases(tokens); ok {
		return Classification{Category: model.CategoryGreeting, Rule: name}
	}
	return Classification{Category: model.CategoryCompanyQuery, Rule: RuleDefault}
}

// matchPhrases 去掉所有问候短语后只剩填充词时命中，返回最先出现的短语所属规则。
func (c *Classifier) matchPhrases(tokens []string) (string, bool) {
	used := make([]bool, len(tokens))
	first, firstPos := "", len(tokens)

	for _, r := range c.rules {
		if r.Mode != MatchPhrase {
			continue
		}
		for _, phrase := range r.phrases {
			for i := 0; i+len(phrase) <= len(tokens); i++ {
				if !matchAt(tokens, used, i, phrase) {
					continue
				}
				for k := range phrase {
					used[i+k] = true
				}
				if i < firstPos {
					first, firstPos = r.Name, i
				}
			}
		}
	}
	if first == "" {
		return "", false
	}
	for i, tok := range tokens {
		if !used[i] && !fillerWords[tok] {
			return "", false
		}
	}
	return first, true
}

func matchAt(tokens []string, used []bool, i int, phrase []string) bool {
	for k, w := range phrase {
		if used[i+k] || tokens[i+k] != w {
			return false
		}
	}
	return true
}

// tokenize 小写并按非字母数字切分，保留词内撇号。
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}
