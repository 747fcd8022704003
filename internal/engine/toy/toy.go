// Package toy provides a tiny deterministic engine.Engine implementation.
// It is a test fixture and demo backend, not a model: a byte-level
// tokenizer, seeded random embedding and projection matrices, and a
// recurrent hidden state that both token and raw-embedding steps update
// through the same path.
package toy

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/weftml/weft/internal/engine"
)

const (
	// ByteVocab covers every byte value; EOSID is appended after it.
	ByteVocab = 256
	// EOSID is the designated end-of-generation id.
	EOSID = ByteVocab
)

type Config struct {
	Dim        int   // embedding dimensionality (default 16)
	MaxContext int   // maximum positions (default 512)
	Seed       int64 // matrix fill seed
}

type Engine struct {
	dim    int
	maxCtx int

	emb  [][]float32 // [vocab][dim] token embedding table
	proj [][]float32 // [vocab][dim] output projection rows

	h      []float32 // recurrent hidden state
	logits []float32
	pos    int // number of entries folded so far
	closed bool
}

var _ engine.Engine = (*Engine)(nil)

func New(cfg Config) *Engine {
	if cfg.Dim <= 0 {
		cfg.Dim = 16
	}
	if cfg.MaxContext <= 0 {
		cfg.MaxContext = 512
	}
	vocab := ByteVocab + 1
	e := &Engine{
		dim:    cfg.Dim,
		maxCtx: cfg.MaxContext,
		emb:    fillRand(vocab, cfg.Dim, cfg.Seed+11),
		proj:   fillRand(vocab, cfg.Dim, cfg.Seed+23),
		h:      make([]float32, cfg.Dim),
		logits: make([]float32, vocab),
	}
	return e
}

// fillRand builds a rows x cols matrix with values in [-s, s) where s keeps
// dot products roughly unit scale. The fill is deterministic per seed.
func fillRand(rows, cols int, seed int64) [][]float32 {
	r := rand.New(rand.NewSource(seed))
	scale := float32(1.0 / math.Sqrt(float64(cols)))
	m := make([][]float32, rows)
	for i := range m {
		row := make([]float32, cols)
		for j := range row {
			row[j] = (r.Float32()*2 - 1) * scale
		}
		m[i] = row
	}
	return m
}

func (e *Engine) Tokenize(text string) ([]int, error) {
	if e.closed {
		return nil, fmt.Errorf("%w: engine closed", engine.ErrTokenize)
	}
	ids := make([]int, 0, len(text))
	for _, b := range []byte(text) {
		ids = append(ids, int(b))
	}
	return ids, nil
}

func (e *Engine) TokenText(id int) string {
	if id < 0 || id >= ByteVocab {
		return ""
	}
	return string([]byte{byte(id)})
}

func (e *Engine) EmbedDim() int   { return e.dim }
func (e *Engine) MaxContext() int { return e.maxCtx }
func (e *Engine) EOSToken() int   { return EOSID }

// Pos reports how many entries have been folded into the engine state.
func (e *Engine) Pos() int { return e.pos }

func (e *Engine) ForwardToken(id, pos int) error {
	if id < 0 || id > EOSID {
		return fmt.Errorf("%w: token id %d out of vocabulary", engine.ErrForward, id)
	}
	return e.step(e.emb[id], pos)
}

func (e *Engine) ForwardEmbedding(vec []float32, pos int) error {
	if len(vec) != e.dim {
		return fmt.Errorf("%w: embedding length %d, want %d", engine.ErrForward, len(vec), e.dim)
	}
	return e.step(vec, pos)
}

// step folds one embedding-space vector into the hidden state. Token and
// raw-embedding entries are indistinguishable from here on.
func (e *Engine) step(vec []float32, pos int) error {
	if e.closed {
		return fmt.Errorf("%w: engine closed", engine.ErrForward)
	}
	if pos != e.pos {
		return fmt.Errorf("%w: position %d, engine state at %d", engine.ErrForward, pos, e.pos)
	}
	if pos >= e.maxCtx {
		return fmt.Errorf("%w: position %d exceeds max context %d", engine.ErrForward, pos, e.maxCtx)
	}
	for j := range e.h {
		e.h[j] = float32(math.Tanh(float64(0.75*e.h[j] + vec[j])))
	}
	for i := range e.logits {
		var sum float32
		row := e.proj[i]
		for j := range row {
			sum += row[j] * e.h[j]
		}
		e.logits[i] = sum
	}
	e.pos++
	return nil
}

func (e *Engine) Logits() []float32 { return e.logits }

func (e *Engine) Close() error {
	e.closed = true
	return nil
}
