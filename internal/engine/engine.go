// Package engine defines the contract between the feeding/generation core
// and an inference engine. The engine owns the transformer, its tokenizer
// and its internal state; weft only drives it one position at a time.
package engine

import "errors"

var (
	// ErrForward is wrapped by engines when a forward-pass step fails.
	ErrForward = errors.New("engine forward step failed")
	// ErrTokenize is wrapped by engines when text cannot be tokenized.
	ErrTokenize = errors.New("engine tokenize failed")
)

// Engine is the narrow surface weft requires from an inference engine.
//
// ForwardToken and ForwardEmbedding both fold exactly one entry into the
// engine's running state at the given position; after either returns nil,
// Logits reflects the next-token distribution for the extended context.
// The engine must treat a token's looked-up embedding and a caller-supplied
// embedding at the same position identically.
type Engine interface {
	// Tokenize converts text into an ordered sequence of vocabulary ids.
	Tokenize(text string) ([]int, error)

	// TokenText returns the display-text fragment for a single token id.
	TokenText(id int) string

	// EmbedDim is the dimensionality of the engine's embedding space.
	EmbedDim() int

	// MaxContext is the maximum number of positions the engine supports.
	MaxContext() int

	// EOSToken is the designated end-of-generation id, or a negative
	// value when the engine has none.
	EOSToken() int

	// ForwardToken folds one token id into the engine state at pos.
	ForwardToken(id, pos int) error

	// ForwardEmbedding folds one raw embedding vector into the engine
	// state at pos, bypassing the token embedding table. The vector
	// length is guaranteed by the caller to equal EmbedDim.
	ForwardEmbedding(vec []float32, pos int) error

	// Logits returns the current next-token logits, indexed by token id.
	// Valid after at least one forward step. The returned slice may be
	// reused by the engine between steps.
	Logits() []float32

	Close() error
}
