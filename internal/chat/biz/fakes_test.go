package biz

import (
	"context"
	"sync"
	"time"

	"github.com/kart-io/company-chat/internal/model"
	"github.com/kart-io/company-chat/pkg/llm"
	"github.com/kart-io/company-chat/pkg/ocr"
	"github.com/kart-io/company-chat/pkg/ratelimit"
	"github.com/kart-io/company-chat/pkg/search"
)

type fakeChat struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeChat) Name() string { return "fake" }

func (f *fakeChat) Chat(ctx context.Context, msgs []llm.Message, opts ...llm.Option) (string, error) {
	return f.Generate(ctx, msgs[len(msgs)-1].Content, "", opts...)
}

func (f *fakeChat) Generate(_ context.Context, prompt, _ string, _ ...llm.Option) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	results []search.Result
	err     error
	queries []string
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeExtractor struct {
	mu    sync.Mutex
	doc   *ocr.Document
	err   error
	count int
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, mimeType, filename string) (*ocr.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count++
	if f.err != nil {
		return nil, f.err
	}
	doc := *f.doc
	doc.SourceFilename = filename
	doc.MIMEType = mimeType
	return &doc, nil
}

type fakeSynth struct {
	mu      sync.Mutex
	answer  string
	err     error
	prompts []string
}

func (f *fakeSynth) Synthesize(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func (f *fakeSynth) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeSynth) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type errLimiter struct{ err error }

func (l errLimiter) Admit(context.Context, time.Time) (bool, error) { return false, l.err }
func (l errLimiter) Snapshot(context.Context, time.Time) (ratelimit.Window, error) {
	return ratelimit.Window{}, l.err
}
func (l errLimiter) Reset(context.Context) error { return nil }

type recordedTurn struct {
	category model.Category
	state    State
}

type fakeRecorder struct {
	mu         sync.Mutex
	turns      []recordedTurn
	admissions []string
	stages     map[Stage][]string
}

func (r *fakeRecorder) ObserveTurn(c model.Category, s State, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, recordedTurn{c, s})
}

func (r *fakeRecorder) ObserveAdmission(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admissions = append(r.admissions, result)
}

func (r *fakeRecorder) ObserveStage(stage Stage, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stages == nil {
		r.stages = make(map[Stage][]string)
	}
	r.stages[stage] = append(r.stages[stage], outcome)
}
