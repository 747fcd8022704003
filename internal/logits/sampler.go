package logits

import (
	"math"
	"math/rand"
	"sort"
)

// SamplerConfig configures the behaviour of a Sampler.
// Temperature <= 0 selects greedy argmax; the shortlist fields are then
// ignored. This is the default policy: a zero config is deterministic.
type SamplerConfig struct {
	Seed          int64
	Temperature   float32
	TopK          int
	TopP          float32
	MinP          float32
	RepeatPenalty float32
	RepeatLastN   int
}

// Sampler draws token ids from logits vectors. The random source is owned
// by the Sampler and advances deterministically from Seed, so identical
// configuration and inputs reproduce identical draws.
type Sampler struct {
	rng    *rand.Rand
	cfg    SamplerConfig
	greedy bool

	idx  []int
	val  []float32
	prob []float64
}

// NewSampler returns a sampler with the provided configuration, filling in
// the usual defaults for unset fields.
func NewSampler(cfg SamplerConfig) *Sampler {
	greedy := cfg.Temperature <= 0
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 40
	}
	if cfg.TopP <= 0 || cfg.TopP > 1 {
		cfg.TopP = 1
	}
	if cfg.RepeatPenalty <= 0 {
		cfg.RepeatPenalty = 1
	}
	if cfg.RepeatLastN <= 0 {
		cfg.RepeatLastN = 64
	}
	return &Sampler{
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		cfg:    cfg,
		greedy: greedy,
	}
}

// Greedy reports whether the sampler always returns the argmax.
func (s *Sampler) Greedy() bool { return s.greedy }

// Sample draws a single token id from logits. recent is the tail of the
// context used for the repetition penalty; it may be nil. logits itself is
// never modified.
//
// The randomized path scales by inverse temperature, shortlists the top-k
// ids, softmaxes the shortlist, applies min-p then top-p truncation, and
// draws from the owned rng.
func (s *Sampler) Sample(logits []float32, recent []int) int {
	if len(logits) == 0 {
		return 0
	}

	vals := s.scaled(logits, recent)

	if s.greedy {
		return argmax(vals)
	}

	k := min(s.cfg.TopK, len(vals))

	// Shortlist the k largest scaled logits, ties broken by lower id.
	if cap(s.idx) < len(vals) {
		s.idx = make([]int, len(vals))
	}
	idx := s.idx[:len(vals)]
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		if vals[idx[a]] != vals[idx[b]] {
			return vals[idx[a]] > vals[idx[b]]
		}
		return idx[a] < idx[b]
	})
	idx = idx[:k]

	// Softmax over the shortlist, shifted for stability.
	if cap(s.prob) < k {
		s.prob = make([]float64, k)
	}
	prob := s.prob[:k]
	maxv := vals[idx[0]]
	var sum float64
	for i, id := range idx {
		e := math.Exp(float64(vals[id] - maxv))
		prob[i] = e
		sum += e
	}
	if sum == 0 {
		return idx[0]
	}
	for i := range prob {
		prob[i] /= sum
	}

	if s.cfg.MinP > 0 {
		threshold := prob[0] * float64(s.cfg.MinP)
		n := 0
		var kept float64
		for i := range prob {
			if prob[i] >= threshold {
				prob[n] = prob[i]
				idx[n] = idx[i]
				kept += prob[i]
				n++
			}
		}
		prob = prob[:n]
		idx = idx[:n]
		if kept > 0 {
			for i := range prob {
				prob[i] /= kept
			}
		}
	}

	cut := len(prob)
	if s.cfg.TopP < 1 {
		var c float64
		for i := range prob {
			c += prob[i]
			if float32(c) >= s.cfg.TopP {
				cut = i + 1
				break
			}
		}
	}

	r := s.rng.Float64()
	var c float64
	for i := 0; i < cut; i++ {
		c += prob[i]
		if r <= c {
			return idx[i]
		}
	}
	return idx[cut-1]
}

// scaled returns the inverse-temperature-scaled logits with the repetition
// penalty applied to ids in the recent window. The result reuses internal
// scratch space.
func (s *Sampler) scaled(logits []float32, recent []int) []float32 {
	if cap(s.val) < len(logits) {
		s.val = make([]float32, len(logits))
	}
	vals := s.val[:len(logits)]
	invTemp := 1 / s.cfg.Temperature
	for i, v := range logits {
		vals[i] = v * invTemp
	}
	if s.cfg.RepeatPenalty <= 1 || len(recent) == 0 {
		return vals
	}
	start := max(len(recent)-s.cfg.RepeatLastN, 0)
	for _, id := range recent[start:] {
		if id < 0 || id >= len(vals) {
			continue
		}
		v := logits[id]
		if v > 0 {
			v /= s.cfg.RepeatPenalty
		} else {
			v *= s.cfg.RepeatPenalty
		}
		vals[id] = v * invTemp
	}
	return vals
}

// argmax returns the index of the maximum value. Ties resolve to the
// lowest index.
func argmax(x []float32) int {
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}
