package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/company-chat/internal/chat/store"
	"github.com/kart-io/company-chat/internal/model"
	errno "github.com/kart-io/company-chat/pkg/errors"
	"github.com/kart-io/company-chat/pkg/ocr"
	"github.com/kart-io/company-chat/pkg/ratelimit"
	"github.com/kart-io/company-chat/pkg/search"
	"github.com/kart-io/company-chat/pkg/utils/id"
)

// State 一轮处理的状态。
type State string

const (
	StateReceived     State = "received"
	StateClassified   State = "classified"
	StateRateLimited  State = "rate_limited"
	StateSearching    State = "searching"
	StateExtracting   State = "extracting"
	StateSynthesizing State = "synthesizing"
	StateAnswered     State = "answered"
	StateDenied       State = "denied"
	StateFailed       State = "failed"
)

// Stage 失败发生的阶段。
type Stage string

const (
	StageNone         Stage = ""
	StageAdmission    Stage = "admission"
	StageExtracting   Stage = "extracting"
	StageSearching    Stage = "searching"
	StageSynthesizing Stage = "synthesizing"
)

// Attachment 随消息上传的文件。
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// TurnRequest 一轮用户输入。
type TurnRequest struct {
	Text string
	File *Attachment
}

// Source 回答引用的搜索来源。
type Source struct {
	Rank  int    `json:"rank"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// TurnResponse 一轮处理的结果。
type TurnResponse struct {
	SessionID    string         `json:"session_id"`
	TurnID       string         `json:"turn_id"`
	Answer       string         `json:"answer"`
	Category     model.Category `json:"category"`
	Rule         string         `json:"rule"`
	RateLimited  bool           `json:"rate_limited"`
	RetryAfter   time.Duration  `json:"retry_after,omitempty"`
	State        State          `json:"state"`
	Stage        Stage          `json:"stage,omitempty"`
	ErrorCode    int            `json:"error_code,omitempty"`
	ErrorReason  string         `json:"error_reason,omitempty"`
	SearchQuery  string         `json:"search_query,omitempty"`
	Sources      []Source       `json:"sources,omitempty"`
	Document     string         `json:"document,omitempty"`
	SessionEnded bool           `json:"session_ended,omitempty"`
	Trace        []State        `json:"trace"`
}

// Recorder 接收编排过程中的指标。
type Recorder interface {
	ObserveTurn(category model.Category, state State, elapsed time.Duration)
	ObserveAdmission(result string)
	ObserveStage(stage Stage, outcome string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTurn(model.Category, State, time.Duration) {}
func (nopRecorder) ObserveAdmission(string)                         {}
func (nopRecorder) ObserveStage(Stage, string, time.Duration)       {}

// OrchestratorConfig 编排配置。
type OrchestratorConfig struct {
	// MaxResults 每次搜索请求的结果数。
	MaxResults int
	// SearchTimeout 搜索阶段超时。
	SearchTimeout time.Duration
	// ExtractTimeout 文档提取阶段超时。
	ExtractTimeout time.Duration
	// MaxInputChars 单条输入的最大长度。
	MaxInputChars int
	// ExcerptChars 写入历史的文档摘录长度。
	ExcerptChars int
	// FollowUpTurns 上传后多少轮内，指代词（it/this）也视为引用文档。
	FollowUpTurns int
}

// DefaultOrchestratorConfig 返回默认配置。
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxResults:     5,
		SearchTimeout:  15 * time.Second,
		ExtractTimeout: 15 * time.Second,
		MaxInputChars:  4000,
		ExcerptChars:   500,
		FollowUpTurns:  2,
	}
}

// Dependencies 编排器依赖的组件。
type Dependencies struct {
	Sessions    store.SessionStore
	Limiter     ratelimit.Limiter
	Classifier  *Classifier
	Rewriter    *Rewriter
	Searcher    search.Searcher
	Extractor   ocr.Extractor
	Assembler   *Assembler
	Synthesizer Synthesizer
	Recorder    Recorder
}

// Orchestrator 按轮驱动 分类、限流、改写/搜索或提取、组装、生成 的状态机，
// 并维护会话历史。
type Orchestrator struct {
	deps   Dependencies
	config *OrchestratorConfig
	now    func() time.Time
}

// NewOrchestrator 创建编排器。
func NewOrchestrator(deps Dependencies, config *OrchestratorConfig) (*Orchestrator, error) {
	if config == nil {
		config = DefaultOrchestratorConfig()
	}
	switch {
	case deps.Sessions == nil:
		return nil, errno.ErrConfiguration.WithMessage("orchestrator: session store is required")
	case deps.Limiter == nil:
		return nil, errno.ErrConfiguration.WithMessage("orchestrator: rate limiter is required")
	case deps.Searcher == nil:
		return nil, errno.ErrConfiguration.WithMessage("orchestrator: searcher is required")
	case deps.Extractor == nil:
		return nil, errno.ErrConfiguration.WithMessage("orchestrator: extractor is required")
	case deps.Synthesizer == nil:
		return nil, errno.ErrConfiguration.WithMessage("orchestrator: synthesizer is required")
	}
	if deps.Classifier == nil {
		deps.Classifier = NewClassifier(nil)
	}
	if deps.Rewriter == nil {
		deps.Rewriter = NewRewriter(nil, nil, nil)
	}
	if deps.Assembler == nil {
		deps.Assembler = NewAssembler(nil)
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	return &Orchestrator{deps: deps, config: config, now: time.Now}, nil
}

// StartSession 创建会话并返回欢迎语。
func (o *Orchestrator) StartSession(ctx context.Context) (*model.Session, string, error) {
	sess, err := o.deps.Sessions.Create(ctx)
	if err != nil {
		return nil, "", err
	}
	return sess, WelcomeMessage, nil
}

// Session 返回会话。
func (o *Orchestrator) Session(ctx context.Context, sessionID string) (*model.Session, error) {
	return o.deps.Sessions.Get(ctx, sessionID)
}

// EndSession 删除会话。
func (o *Orchestrator) EndSession(ctx context.Context, sessionID string) error {
	return o.deps.Sessions.Delete(ctx, sessionID)
}

// ListSessions 按创建时间返回全部会话。
func (o *Orchestrator) ListSessions(ctx context.Context) ([]*model.Session, error) {
	return o.deps.Sessions.List(ctx)
}

// RateWindow 返回全局限流窗口的当前状态。
func (o *Orchestrator) RateWindow(ctx context.Context) (ratelimit.Window, error) {
	return o.deps.Limiter.Snapshot(ctx, o.now())
}

// turn 单轮处理的可变状态。
type turn struct {
	sess    *model.Session
	history []model.Turn
	req     TurnRequest
	text    string
	user    model.Turn
	resp    *TurnResponse
	started time.Time
}

func (t *turn) to(s State) {
	t.resp.State = s
	t.resp.Trace = append(t.resp.Trace, s)
}

// HandleTurn 处理一轮输入。只有会话不存在或输入非法时返回错误；
// 限流与外部调用失败都体现在 TurnResponse 中，并且总会追加一条助手消息。
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID string, req TurnRequest) (*TurnResponse, error) {
	text := strings.TrimSpace(req.Text)
	if o.config.MaxInputChars > 0 && runeLen(text) > o.config.MaxInputChars {
		return nil, errno.ErrInvalidTurn.WithMessagef("message exceeds %d characters", o.config.MaxInputChars)
	}
	if req.File != nil && len(req.File.Data) == 0 {
		return nil, errno.ErrInvalidTurn.WithMessage("attached file is empty")
	}

	sess, err := o.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// 一轮开始后不因调用方断开而中止，各阶段由自身超时约束
	ctx = context.WithoutCancel(ctx)

	sess.Lock()
	defer sess.Unlock()

	if sess.Ended() {
		sess.Clear()
	}

	now := o.now()
	t := &turn{
		sess:    sess,
		history: sess.Turns(),
		req:     req,
		text:    text,
		started: now,
		resp: &TurnResponse{
			SessionID: sess.ID,
			Trace:     []State{StateReceived},
			State:     StateReceived,
		},
	}

	cls := o.deps.Classifier.Classify(text, t.history, req.File != nil)
	t.resp.Category, t.resp.Rule = cls.Category, cls.Rule
	t.to(StateClassified)

	t.user = model.Turn{
		ID:        id.NewULID(),
		Role:      model.RoleUser,
		Text:      text,
		Category:  cls.Category,
		Timestamp: now,
	}
	if req.File != nil {
		t.user.Attachment = req.File.Filename
	}
	t.resp.TurnID = t.user.ID

	switch cls.Category {
	case model.CategoryCommand:
		o.handleCommand(t, cls)
	case model.CategoryGreeting:
		t.to(StateSynthesizing)
		o.answer(t, greetingReplies[cls.Rule])
	case model.CategoryDocument:
		o.handleDocument(ctx, t)
	default:
		o.handleCompanyQuery(ctx, t)
	}

	o.finish(t)
	return t.resp, nil
}

func (o *Orchestrator) handleCommand(t *turn, cls Classification) {
	switch cls.Rule {
	case RuleHelp:
		o.answer(t, HelpMessage)
	case RuleClear:
		t.sess.Clear()
		t.history = nil
		o.answer(t, ClearedMessage)
	case RuleExit:
		t.resp.SessionEnded = true
		o.answer(t, GoodbyeMessage)
	default:
		o.answer(t, EmptyInputMessage)
	}
}

func (o *Orchestrator) handleDocument(ctx context.Context, t *turn) {
	if !o.admit(ctx, t) {
		return
	}

	t.to(StateExtracting)
	file := t.req.File
	start := o.now()
	ectx, cancel := withTimeout(ctx, o.config.ExtractTimeout)
	doc, err := o.deps.Extractor.Extract(ectx, file.Data, file.MIMEType, file.Filename)
	cancel()
	if err != nil {
		o.deps.Recorder.ObserveStage(StageExtracting, outcomeOf(err), o.now().Sub(start))
		o.fail(t, StageExtracting, err, extractionMessage(err))
		return
	}
	o.deps.Recorder.ObserveStage(StageExtracting, "ok", o.now().Sub(start))

	ref := &model.DocumentRef{
		Filename:    doc.SourceFilename,
		MIMEType:    doc.MIMEType,
		Method:      string(doc.Method),
		PageCount:   doc.PageCount,
		ImageWidth:  doc.ImageWidth,
		ImageHeight: doc.ImageHeight,
		Text:        doc.RawText,
		UploadedAt:  t.started,
		TurnIndex:   t.sess.UserTurns() + 1,
	}
	t.sess.SetDocument(ref)
	t.resp.Document = ref.Filename
	t.user.Excerpt = excerpt(doc.RawText, o.config.ExcerptChars)

	question := t.text
	if question == "" {
		question = DefaultDocumentQuestion
	}

	answer, ok := o.synthesize(ctx, t, AssembleInput{
		System:   SystemPrompt + "\n\n" + documentInstructions,
		History:  t.history,
		Document: ref,
		Question: question,
	})
	if ok {
		o.answer(t, DocumentAnswerPrefix+answer)
	}
}

func (o *Orchestrator) handleCompanyQuery(ctx context.Context, t *turn) {
	if !o.admit(ctx, t) {
		return
	}

	t.to(StateSearching)
	start := o.now()
	query := o.deps.Rewriter.Rewrite(ctx, t.text, t.history)
	t.resp.SearchQuery = query

	sctx, cancel := withTimeout(ctx, o.config.SearchTimeout)
	results, err := o.deps.Searcher.Search(sctx, query, o.config.MaxResults)
	cancel()
	if err != nil {
		o.deps.Recorder.ObserveStage(StageSearching, outcomeOf(err), o.now().Sub(start))
		o.fail(t, StageSearching, err, searchFailedMessage)
		return
	}
	o.deps.Recorder.ObserveStage(StageSearching, "ok", o.now().Sub(start))

	doc := o.referencedDocument(t)
	if len(results) == 0 && doc == nil {
		o.answer(t, NotFoundMessage)
		return
	}

	answer, ok := o.synthesize(ctx, t, AssembleInput{
		System:   SystemPrompt + "\n\n" + companyInstructions,
		History:  t.history,
		Document: doc,
		Results:  results,
		Question: t.text,
	})
	if !ok {
		return
	}
	for _, r := range results {
		t.resp.Sources = append(t.resp.Sources, Source{Rank: r.Rank, Title: r.Title, URL: r.SourceURL})
	}
	o.answer(t, answer)
}

// admit 查询限流器，每轮最多调用一次。拒绝时写入 Denied 结果并返回 false。
func (o *Orchestrator) admit(ctx context.Context, t *turn) bool {
	now := o.now()
	allowed, err := o.deps.Limiter.Admit(ctx, now)
	if err != nil {
		o.deps.Recorder.ObserveAdmission("error")
		o.fail(t, StageAdmission, err, "I'm having trouble right now. Please try again in a moment.")
		return false
	}
	if allowed {
		o.deps.Recorder.ObserveAdmission("admitted")
		return true
	}

	o.deps.Recorder.ObserveAdmission("denied")
	t.to(StateRateLimited)
	wait := "a moment"
	if w, err := o.deps.Limiter.Snapshot(ctx, now); err == nil && w.ResetAt.After(now) {
		t.resp.RetryAfter = w.ResetAt.Sub(now)
		wait = formatWait(t.resp.RetryAfter)
	}
	t.resp.RateLimited = true
	t.resp.Answer = fmt.Sprintf(RateLimitedMessage, wait)
	t.to(StateDenied)
	return false
}

// synthesize 组装提示词并调用模型，失败时写入 Failed 结果。
func (o *Orchestrator) synthesize(ctx context.Context, t *turn, in AssembleInput) (string, bool) {
	t.to(StateSynthesizing)
	start := o.now()

	prompt, err := o.deps.Assembler.Assemble(in)
	if err != nil {
		o.deps.Recorder.ObserveStage(StageSynthesizing, outcomeOf(err), o.now().Sub(start))
		o.fail(t, StageSynthesizing, err, modelFailedMessage)
		return "", false
	}

	answer, err := o.deps.Synthesizer.Synthesize(ctx, prompt)
	if err != nil {
		o.deps.Recorder.ObserveStage(StageSynthesizing, outcomeOf(err), o.now().Sub(start))
		o.fail(t, StageSynthesizing, err, modelFailedMessage)
		return "", false
	}
	o.deps.Recorder.ObserveStage(StageSynthesizing, "ok", o.now().Sub(start))
	return answer, true
}

func (o *Orchestrator) answer(t *turn, text string) {
	t.resp.Answer = text
	t.to(StateAnswered)
}

func (o *Orchestrator) fail(t *turn, stage Stage, err error, message string) {
	t.resp.Stage = stage
	t.resp.ErrorCode = errno.FromError(err).Code
	t.resp.ErrorReason = errno.ReasonOf(err)
	t.resp.Answer = message
	t.to(StateFailed)

	logger.Warnw("turn failed",
		"session_id", t.sess.ID,
		"turn_id", t.user.ID,
		"stage", stage,
		"code", t.resp.ErrorCode,
		"reason", t.resp.ErrorReason,
		"error", err.Error(),
	)
}

// finish 追加用户消息和唯一一条助手消息。
func (o *Orchestrator) finish(t *turn) {
	t.sess.Append(t.user)
	t.sess.Append(model.Turn{
		ID:        id.NewULID(),
		Role:      model.RoleAssistant,
		Text:      t.resp.Answer,
		Category:  t.resp.Category,
		Timestamp: o.now(),
	})
	if t.resp.SessionEnded {
		t.sess.End()
	}

	elapsed := o.now().Sub(t.started)
	o.deps.Recorder.ObserveTurn(t.resp.Category, t.resp.State, elapsed)
	logger.Infow("turn handled",
		"session_id", t.sess.ID,
		"turn_id", t.user.ID,
		"category", t.resp.Category,
		"rule", t.resp.Rule,
		"state", t.resp.State,
		"elapsed", elapsed,
	)
}

// documentKeywords 明确指向已上传文档的词。
var documentKeywords = []string{
	"document", "doc", "file", "pdf", "image", "picture", "photo", "scan",
	"upload", "uploaded", "attachment", "brochure",
}

var pronouns = map[string]bool{
	"it": true, "its": true, "this": true, "that": true, "they": true, "them": true, "their": true,
}

// referencedDocument 返回当前问题引用的最近文档。明确提到文档时总是引用；
// 只用指代词时需在上传后 FollowUpTurns 轮以内。
func (o *Orchestrator) referencedDocument(t *turn) *model.DocumentRef {
	doc := t.sess.Document()
	if doc == nil {
		return nil
	}
	tokens := tokenize(t.text)
	for _, tok := range tokens {
		for _, kw := range documentKeywords {
			if tok == kw || tok == kw+"s" {
				return doc
			}
		}
	}
	distance := t.sess.UserTurns() + 1 - doc.TurnIndex
	if distance > o.config.FollowUpTurns {
		return nil
	}
	for _, tok := range tokens {
		if pronouns[tok] {
			return doc
		}
	}
	return nil
}

func extractionMessage(err error) string {
	if errno.Is(err, errno.ErrNoTextFound) {
		return NoTextDetectedMessage
	}
	switch errno.ReasonOf(err) {
	case ocr.ReasonUnsupported:
		return unsupportedFileMessage
	case ocr.ReasonPasswordProtected:
		return passwordProtectedMessage
	default:
		return extractionFailedMessage
	}
}

func outcomeOf(err error) string {
	if errno.Is(err, errno.ErrNoTextFound) {
		return "no_text"
	}
	if r := errno.ReasonOf(err); r != "" {
		return r
	}
	return "error"
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// excerpt 取前 n 个字符，截断时追加 "..."。
func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func formatWait(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	if secs <= 1 {
		return "about a second"
	}
	return fmt.Sprintf("about %d seconds", secs)
}
