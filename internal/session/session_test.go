package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/weftml/weft/internal/logits"
)

// fakeEngine is a scripted engine that records every forward call so tests
// can assert the exact interleave order of token and embedding steps.
type fakeEngine struct {
	dim    int
	maxCtx int
	eos    int
	logits []float32

	calls       []string
	forwardErr  error
	failAtCall  int // 1-based call index at which forwardErr fires; 0 = every call
	tokenizeErr error
}

func newFakeEngine() *fakeEngine {
	// Vocabulary covers all byte ids plus an EOS id at 256. Argmax sits at
	// 'x' (120) so greedy generation emits "x" forever.
	lg := make([]float32, 257)
	lg[120] = 5
	return &fakeEngine{
		dim:    4,
		maxCtx: 128,
		eos:    256,
		logits: lg,
	}
}

func (f *fakeEngine) Tokenize(text string) ([]int, error) {
	if f.tokenizeErr != nil {
		return nil, f.tokenizeErr
	}
	ids := make([]int, 0, len(text))
	for _, b := range []byte(text) {
		ids = append(ids, int(b))
	}
	return ids, nil
}

func (f *fakeEngine) TokenText(id int) string {
	if id < 0 || id >= 256 {
		return ""
	}
	return string([]byte{byte(id)})
}

func (f *fakeEngine) EmbedDim() int   { return f.dim }
func (f *fakeEngine) MaxContext() int { return f.maxCtx }
func (f *fakeEngine) EOSToken() int   { return f.eos }

func (f *fakeEngine) ForwardToken(id, pos int) error {
	f.calls = append(f.calls, fmt.Sprintf("token:%d@%d", id, pos))
	return f.maybeFail()
}

func (f *fakeEngine) ForwardEmbedding(vec []float32, pos int) error {
	f.calls = append(f.calls, fmt.Sprintf("embed@%d", pos))
	return f.maybeFail()
}

func (f *fakeEngine) maybeFail() error {
	if f.forwardErr == nil {
		return nil
	}
	if f.failAtCall == 0 || len(f.calls) == f.failAtCall {
		return f.forwardErr
	}
	return nil
}

func (f *fakeEngine) Logits() []float32 { return f.logits }
func (f *fakeEngine) Close() error      { return nil }

func newTestSession(t *testing.T, eng *fakeEngine) *Session {
	t.Helper()
	s, err := New(Config{Engine: eng})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func mustEmbeddings(t *testing.T, vectors [][]float32) Embeddings {
	t.Helper()
	b, err := NewEmbeddings(vectors)
	if err != nil {
		t.Fatalf("NewEmbeddings: %v", err)
	}
	return b
}

func TestNewRequiresEngine(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); !errors.Is(err, ErrInit) {
		t.Fatalf("expected ErrInit, got %v", err)
	}
}

// TestCursorAdditivity checks that the cursor equals the sum of tokens and
// vectors fed, regardless of call order.
func TestCursorAdditivity(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	s := newTestSession(t, eng)

	if err := s.FeedText("abc"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}
	if err := s.FeedEmbeddings(mustEmbeddings(t, [][]float32{{1, 2, 3, 4}, {5, 6, 7, 8}})); err != nil {
		t.Fatalf("FeedEmbeddings: %v", err)
	}
	if err := s.FeedText("xy"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}
	if got, want := s.Cursor(), 3+2+2; got != want {
		t.Fatalf("cursor: got %d, want %d", got, want)
	}
}

func TestFeedTextEmptyIsNoOp(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	s := newTestSession(t, eng)

	if err := s.FeedText(""); err != nil {
		t.Fatalf("FeedText(\"\"): %v", err)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor moved on empty string: %d", s.Cursor())
	}
	if len(eng.calls) != 0 {
		t.Fatalf("engine called on empty string: %v", eng.calls)
	}
}

// TestInterleaveOrder verifies that the engine sees one forward step per
// token and per vector, at consecutive positions, in exactly the order the
// caller issued them.
func TestInterleaveOrder(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	s := newTestSession(t, eng)

	if err := s.FeedText("ab"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}
	if err := s.FeedEmbeddings(mustEmbeddings(t, [][]float32{{0, 0, 0, 0}, {1, 1, 1, 1}, {2, 2, 2, 2}})); err != nil {
		t.Fatalf("FeedEmbeddings: %v", err)
	}
	if err := s.FeedText("c"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}

	want := []string{
		"token:97@0", "token:98@1",
		"embed@2", "embed@3", "embed@4",
		"token:99@5",
	}
	if got := strings.Join(eng.calls, " "); got != strings.Join(want, " ") {
		t.Fatalf("forward order:\n got %s\nwant %s", got, strings.Join(want, " "))
	}
}

func TestFeedEmbeddingsDimensionMismatch(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	s := newTestSession(t, eng)

	bad := mustEmbeddings(t, [][]float32{{1, 2, 3}}) // engine dim is 4
	err := s.FeedEmbeddings(bad)
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor moved on rejected batch: %d", s.Cursor())
	}
	if len(eng.calls) != 0 {
		t.Fatalf("engine called on rejected batch: %v", eng.calls)
	}

	// Validation failures keep the session usable.
	if err := s.FeedText("a"); err != nil {
		t.Fatalf("session unusable after validation error: %v", err)
	}
}

func TestContextOverflowIsFatal(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	eng.maxCtx = 2
	s := newTestSession(t, eng)

	err := s.FeedText("abc")
	if !errors.Is(err, ErrContextOverflow) {
		t.Fatalf("expected ErrContextOverflow, got %v", err)
	}
	if s.Cursor() != 0 {
		t.Fatalf("overflowing batch partially applied: cursor %d", s.Cursor())
	}
	if err := s.FeedText("a"); !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("expected ErrSessionFailed after overflow, got %v", err)
	}
}

func TestForwardFailureLatchesSession(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	eng.forwardErr = errors.New("boom")
	eng.failAtCall = 2
	s := newTestSession(t, eng)

	err := s.FeedText("abc")
	var engErr *EngineError
	if !errors.As(err, &engErr) {
		t.Fatalf("expected EngineError, got %v", err)
	}
	// No rollback: the failed entry stays committed.
	if s.Cursor() != 2 {
		t.Fatalf("cursor after mid-batch failure: got %d, want 2", s.Cursor())
	}
	if err := s.FeedText("a"); !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("expected ErrSessionFailed, got %v", err)
	}
	if _, err := s.Generate(context.Background(), 1, nil); !errors.Is(err, ErrSessionFailed) {
		t.Fatalf("expected ErrSessionFailed from Generate, got %v", err)
	}
}

func TestTokenizeFailureKeepsSessionUsable(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	eng.tokenizeErr = errors.New("bad text")
	s := newTestSession(t, eng)

	if err := s.FeedText("abc"); err == nil {
		t.Fatal("expected tokenize error")
	}
	if s.Cursor() != 0 {
		t.Fatalf("cursor moved on tokenize failure: %d", s.Cursor())
	}
	eng.tokenizeErr = nil
	if err := s.FeedText("a"); err != nil {
		t.Fatalf("session unusable after tokenize failure: %v", err)
	}
}

func TestGenerateEmptyContext(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newFakeEngine())
	if _, err := s.Generate(context.Background(), 3, nil); !errors.Is(err, ErrEmptyContext) {
		t.Fatalf("expected ErrEmptyContext, got %v", err)
	}
}

// TestGenerateBounded checks that generation emits at most steps fragments
// and terminates even though EOS is never the argmax.
func TestGenerateBounded(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newFakeEngine())
	if err := s.FeedText("hi"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}

	var frags []string
	stats, err := s.Generate(context.Background(), 7, func(frag string) {
		frags = append(frags, frag)
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(frags) != 7 {
		t.Fatalf("fragments: got %d, want 7", len(frags))
	}
	if stats.TokensGenerated != 7 {
		t.Fatalf("TokensGenerated: got %d, want 7", stats.TokensGenerated)
	}
	// Generated tokens re-enter the context.
	if got, want := s.Cursor(), 2+7; got != want {
		t.Fatalf("cursor: got %d, want %d", got, want)
	}
}

func TestGenerateStopsOnEOS(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	eng.logits = make([]float32, 257)
	eng.logits[eng.eos] = 5 // argmax is EOS
	s := newTestSession(t, eng)
	if err := s.FeedText("hi"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}

	calls := 0
	stats, err := s.Generate(context.Background(), 10, func(string) { calls++ })
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != 0 {
		t.Fatalf("EOS was emitted: %d fragments", calls)
	}
	if stats.TokensGenerated != 0 {
		t.Fatalf("TokensGenerated: got %d, want 0", stats.TokensGenerated)
	}
	// EOS is not appended either.
	if s.Cursor() != 2 {
		t.Fatalf("cursor: got %d, want 2", s.Cursor())
	}
}

func TestGenerateCancellation(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newFakeEngine())
	if err := s.FeedText("hi"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Generate(ctx, 10, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// TestGreedyReproducible runs two identically primed sessions and expects
// identical output streams under the greedy policy.
func TestGreedyReproducible(t *testing.T) {
	t.Parallel()
	run := func() string {
		s := newTestSession(t, newFakeEngine())
		if err := s.FeedText("user: ping"); err != nil {
			t.Fatalf("FeedText: %v", err)
		}
		var sb strings.Builder
		if _, err := s.Generate(context.Background(), 5, func(frag string) {
			sb.WriteString(frag)
		}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return sb.String()
	}
	a, b := run(), run()
	if a != b {
		t.Fatalf("greedy runs diverged: %q vs %q", a, b)
	}
}

// TestSeededSamplingReproducible does the same with a randomized policy and
// a fixed seed.
func TestSeededSamplingReproducible(t *testing.T) {
	t.Parallel()
	run := func() string {
		eng := newFakeEngine()
		// A flatter distribution so the randomized path has real choices.
		for i := 90; i < 110; i++ {
			eng.logits[i] = 4
		}
		s, err := New(Config{
			Engine:   eng,
			Sampling: logits.SamplerConfig{Seed: 42, Temperature: 0.9, TopK: 20, TopP: 0.95},
		})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if err := s.FeedText("user: ping"); err != nil {
			t.Fatalf("FeedText: %v", err)
		}
		var sb strings.Builder
		if _, err := s.Generate(context.Background(), 12, func(frag string) {
			sb.WriteString(frag)
		}); err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return sb.String()
	}
	a, b := run(), run()
	if a != b {
		t.Fatalf("seeded runs diverged: %q vs %q", a, b)
	}
}

// TestPingScenario is the end-to-end scenario: prime text, zero embeddings,
// more text, then five greedy steps.
func TestPingScenario(t *testing.T) {
	t.Parallel()
	eng := newFakeEngine()
	s := newTestSession(t, eng)

	if err := s.FeedText("user: ping"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}
	if err := s.FeedEmbeddings(Embeddings{}); err != nil {
		t.Fatalf("FeedEmbeddings(empty): %v", err)
	}
	if err := s.FeedText("assistant:"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}

	var frags []string
	if _, err := s.Generate(context.Background(), 5, func(frag string) {
		frags = append(frags, frag)
	}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(frags) != 5 {
		t.Fatalf("fragments: got %d, want 5", len(frags))
	}
	want := len("user: ping") + len("assistant:") + len(frags)
	if s.Cursor() != want {
		t.Fatalf("cursor: got %d, want %d", s.Cursor(), want)
	}
}

func TestEntriesTagging(t *testing.T) {
	t.Parallel()
	s := newTestSession(t, newFakeEngine())
	if err := s.FeedText("a"); err != nil {
		t.Fatalf("FeedText: %v", err)
	}
	if err := s.FeedEmbeddings(mustEmbeddings(t, [][]float32{{1, 2, 3, 4}})); err != nil {
		t.Fatalf("FeedEmbeddings: %v", err)
	}

	entries := s.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries: got %d, want 2", len(entries))
	}
	if entries[0].Kind != EntryToken || entries[0].Token != 'a' {
		t.Fatalf("entry 0: %+v", entries[0])
	}
	if entries[1].Kind != EntryEmbedding || len(entries[1].Embedding) != 4 {
		t.Fatalf("entry 1: %+v", entries[1])
	}
}
