package api

// PrimeSegment is one element of the ordered priming stream. Type is
// either "text" or "embeddings"; segment order on the wire is the order
// positions are committed.
type PrimeSegment struct {
	Type    string      `json:"type"`
	Text    string      `json:"text,omitempty"`
	Vectors [][]float32 `json:"vectors,omitempty"`
}

type SamplingParams struct {
	Seed          int64   `json:"seed,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	TopK          int     `json:"top_k,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	MinP          float64 `json:"min_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	RepeatLastN   int     `json:"repeat_last_n,omitempty"`
}

type GenerateRequest struct {
	Prime    []PrimeSegment `json:"prime"`
	Steps    int            `json:"steps,omitempty"`
	Stream   bool           `json:"stream,omitempty"`
	Sampling SamplingParams `json:"sampling"`
}

type GenerateResponse struct {
	ID     string  `json:"id"`
	Object string  `json:"object"`
	Text   string  `json:"text"`
	Steps  int     `json:"steps"`
	Cursor int     `json:"cursor"`
	TPS    float64 `json:"tps,omitempty"`
}

// StreamDelta is one SSE event during a streaming generation.
type StreamDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta,omitempty"`
	Done  bool   `json:"done,omitempty"`
	// Set on the final event.
	Text   string `json:"text,omitempty"`
	Steps  int    `json:"steps,omitempty"`
	Cursor int    `json:"cursor,omitempty"`
	Error  string `json:"error,omitempty"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
