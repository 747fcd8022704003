// Package session implements the context-construction and generation-loop
// core: a position-ordered stream of token and raw-embedding entries fed
// into an inference engine one step at a time, followed by autoregressive
// sampling that streams fragments back to the caller.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/weftml/weft/internal/engine"
	"github.com/weftml/weft/internal/logits"
)

// EntryKind distinguishes how a context position was produced.
type EntryKind uint8

const (
	EntryToken EntryKind = iota
	EntryEmbedding
)

// Entry is one committed context position. Positions are append-only:
// once committed an entry never moves.
type Entry struct {
	Kind      EntryKind
	Token     int       // valid when Kind == EntryToken
	Embedding []float32 // valid when Kind == EntryEmbedding; owned by the session
}

// Config constructs a Session.
type Config struct {
	Engine   engine.Engine
	Sampling logits.SamplerConfig
}

// Session owns a single generation context: the entry stream, the position
// cursor and the sampler. It is strictly single-owner; concurrent use from
// multiple goroutines is not supported. Callers needing concurrency must
// run independent sessions over independent engines.
type Session struct {
	eng     engine.Engine
	sampler *logits.Sampler

	entries []Entry
	tokens  []int // token-kind history, for the repetition penalty window

	failed bool
}

// New validates the configuration and wraps an initialized engine.
func New(cfg Config) (*Session, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("%w: engine is required", ErrInit)
	}
	if cfg.Engine.EmbedDim() <= 0 {
		return nil, fmt.Errorf("%w: engine reports embedding dim %d", ErrInit, cfg.Engine.EmbedDim())
	}
	if cfg.Engine.MaxContext() <= 0 {
		return nil, fmt.Errorf("%w: engine reports max context %d", ErrInit, cfg.Engine.MaxContext())
	}
	return &Session{
		eng:     cfg.Engine,
		sampler: logits.NewSampler(cfg.Sampling),
	}, nil
}

// Cursor is the next free position in the context.
func (s *Session) Cursor() int { return len(s.entries) }

// EmbedDim is the engine's embedding dimensionality.
func (s *Session) EmbedDim() int { return s.eng.EmbedDim() }

// Entries returns a copy of the committed context stream.
func (s *Session) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// FeedText tokenizes text and folds each token into the context in order.
// An empty string is a no-op. Overflow is checked for the whole token
// sequence before anything is appended.
func (s *Session) FeedText(text string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	ids, err := safeTokenize(s.eng, text)
	if err != nil {
		// Nothing was appended; the session stays usable.
		return &EngineError{Op: "tokenize", Err: err}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.reserve(len(ids)); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.appendToken(id); err != nil {
			return err
		}
	}
	return nil
}

// FeedEmbeddings folds a batch of raw embedding vectors into the context,
// bypassing tokenization and the token embedding table. Validation is
// all-or-nothing: a dimensionality mismatch or overflow is reported before
// any vector is consumed, leaving the cursor untouched.
func (s *Session) FeedEmbeddings(batch Embeddings) error {
	if err := s.usable(); err != nil {
		return err
	}
	if batch.Count() == 0 {
		return nil
	}
	if batch.Dim() != s.eng.EmbedDim() {
		return fmt.Errorf("%w: batch dim %d, engine dim %d", ErrDimensionMismatch, batch.Dim(), s.eng.EmbedDim())
	}
	if err := s.reserve(batch.Count()); err != nil {
		return err
	}
	for i := 0; i < batch.Count(); i++ {
		if err := s.appendEmbedding(batch.Vector(i)); err != nil {
			return err
		}
	}
	return nil
}

// Stats summarizes one Generate call.
type Stats struct {
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
}

// Generate runs the sampling loop for at most steps iterations, calling
// stream with each decoded fragment as it is produced. Sampled tokens are
// appended back into the context through the same path as FeedText, so
// generated output conditions subsequent steps.
//
// The loop stops on the step bound, on the engine's end-of-generation id
// (which is neither emitted nor appended), on context cancellation checked
// between steps, or on the first error.
func (s *Session) Generate(ctx context.Context, steps int, stream func(fragment string)) (Stats, error) {
	var stats Stats
	if err := s.usable(); err != nil {
		return stats, err
	}
	if len(s.entries) == 0 {
		return stats, fmt.Errorf("%w: prime the session before generating", ErrEmptyContext)
	}
	if steps < 0 {
		steps = 1_000_000
	}

	eos := s.eng.EOSToken()
	start := time.Now()
	for i := 0; i < steps; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		next := s.sampler.Sample(s.eng.Logits(), s.tokens)
		if eos >= 0 && next == eos {
			break
		}

		if stream != nil {
			stream(s.eng.TokenText(next))
		}

		if err := s.reserve(1); err != nil {
			return stats, err
		}
		if err := s.appendToken(next); err != nil {
			return stats, err
		}
		stats.TokensGenerated++
	}

	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}
	return stats, nil
}

// Close releases the engine. The session is unusable afterwards.
func (s *Session) Close() error {
	s.failed = true
	return s.eng.Close()
}

func (s *Session) usable() error {
	if s.failed {
		return ErrSessionFailed
	}
	return nil
}

// reserve checks that n more positions fit in the engine's context window.
// Overflow is fatal for the session even though nothing was appended: the
// caller's stream cannot continue coherently past a rejected chunk.
func (s *Session) reserve(n int) error {
	if len(s.entries)+n > s.eng.MaxContext() {
		s.failed = true
		return fmt.Errorf("%w: %d entries + %d would exceed max context %d",
			ErrContextOverflow, len(s.entries), n, s.eng.MaxContext())
	}
	return nil
}

// appendToken commits one token entry at the cursor and folds it into the
// engine. On a forward failure the entry stays committed (no rollback is
// defined) and the session is latched failed.
func (s *Session) appendToken(id int) error {
	pos := len(s.entries)
	s.entries = append(s.entries, Entry{Kind: EntryToken, Token: id})
	s.tokens = append(s.tokens, id)
	if err := safeForwardToken(s.eng, id, pos); err != nil {
		s.failed = true
		return &EngineError{Op: "forward token", Err: err}
	}
	return nil
}

// appendEmbedding commits one embedding entry at the cursor. The vector is
// copied so later caller mutation cannot rewrite committed history.
func (s *Session) appendEmbedding(vec []float32) error {
	pos := len(s.entries)
	owned := make([]float32, len(vec))
	copy(owned, vec)
	s.entries = append(s.entries, Entry{Kind: EntryEmbedding, Embedding: owned})
	if err := safeForwardEmbedding(s.eng, owned, pos); err != nil {
		s.failed = true
		return &EngineError{Op: "forward embedding", Err: err}
	}
	return nil
}

// The safe* wrappers convert engine panics into errors so a misbehaving
// engine cannot take the driver down mid-stream.

func safeTokenize(e engine.Engine, text string) (ids []int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in Tokenize: %v", rec)
		}
	}()
	return e.Tokenize(text)
}

func safeForwardToken(e engine.Engine, id, pos int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ForwardToken: %v", rec)
		}
	}()
	return e.ForwardToken(id, pos)
}

func safeForwardEmbedding(e engine.Engine, vec []float32, pos int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in ForwardEmbedding: %v", rec)
		}
	}()
	return e.ForwardEmbedding(vec, pos)
}
