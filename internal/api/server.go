// Package api exposes the session core over HTTP: one endpoint that primes
// a fresh session with an ordered mix of text and embedding segments, then
// streams or returns the generated text.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/weftml/weft/internal/engine"
	"github.com/weftml/weft/internal/logger"
	"github.com/weftml/weft/internal/logits"
	"github.com/weftml/weft/internal/session"
)

// EngineFactory builds a fresh engine per request. Each request gets its
// own session, so concurrent requests never share a position cursor.
type EngineFactory func() (engine.Engine, error)

type Server struct {
	newEngine    EngineFactory
	defaultSteps int
	log          logger.Logger
}

func NewServer(factory EngineFactory, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		newEngine:    factory,
		defaultSteps: 64,
		log:          log,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGenerate(c *echo.Context) error {
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if len(req.Prime) == 0 {
		return writeBadRequest(c, "prime: at least one segment is required")
	}
	steps := req.Steps
	if steps <= 0 {
		steps = s.defaultSteps
	}

	eng, err := s.newEngine()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", fmt.Sprintf("engine: %v", err))
	}

	sess, err := session.New(session.Config{
		Engine: eng,
		Sampling: logits.SamplerConfig{
			Seed:          req.Sampling.Seed,
			Temperature:   float32(req.Sampling.Temperature),
			TopK:          req.Sampling.TopK,
			TopP:          float32(req.Sampling.TopP),
			MinP:          float32(req.Sampling.MinP),
			RepeatPenalty: float32(req.Sampling.RepeatPenalty),
			RepeatLastN:   req.Sampling.RepeatLastN,
		},
	})
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	defer func() { _ = sess.Close() }()

	id := "gen_" + uuid.NewString()
	log := s.log.With("generation", id)

	if err := prime(sess, req.Prime); err != nil {
		log.Warn("priming failed", "error", err)
		return writePrimeError(c, err)
	}

	if req.Stream {
		return s.streamGenerate(c, sess, id, steps, log)
	}

	var sb strings.Builder
	stats, err := sess.Generate(c.Request().Context(), steps, func(frag string) {
		sb.WriteString(frag)
	})
	if err != nil {
		log.Error("generation failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	log.Info("generation complete", "steps", stats.TokensGenerated, "cursor", sess.Cursor())

	return c.JSON(http.StatusOK, GenerateResponse{
		ID:     id,
		Object: "generation",
		Text:   sb.String(),
		Steps:  stats.TokensGenerated,
		Cursor: sess.Cursor(),
		TPS:    stats.TPS,
	})
}

func (s *Server) streamGenerate(c *echo.Context, sess *session.Session, id string, steps int, log logger.Logger) error {
	w, err := newSSEWriter(c)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	var sb strings.Builder
	stats, genErr := sess.Generate(c.Request().Context(), steps, func(frag string) {
		sb.WriteString(frag)
		_ = w.send(StreamDelta{ID: id, Delta: frag})
	})
	if genErr != nil {
		log.Error("generation failed", "error", genErr)
		return w.send(StreamDelta{ID: id, Done: true, Error: genErr.Error()})
	}
	log.Info("generation complete", "steps", stats.TokensGenerated, "cursor", sess.Cursor())
	return w.send(StreamDelta{
		ID:     id,
		Done:   true,
		Text:   sb.String(),
		Steps:  stats.TokensGenerated,
		Cursor: sess.Cursor(),
	})
}

// prime applies the request's segments in wire order.
func prime(sess *session.Session, segments []PrimeSegment) error {
	for i, seg := range segments {
		switch seg.Type {
		case "text":
			if err := sess.FeedText(seg.Text); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		case "embeddings":
			batch, err := session.NewEmbeddings(seg.Vectors)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			if err := sess.FeedEmbeddings(batch); err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
		default:
			return newInvalidRequest(fmt.Sprintf("segment %d: unknown type %q", i, seg.Type))
		}
	}
	return nil
}

func writePrimeError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, session.ErrDimensionMismatch),
		errors.Is(err, session.ErrCountMismatch):
		return writeBadRequest(c, err.Error())
	case errors.Is(err, session.ErrContextOverflow):
		return writeError(c, http.StatusRequestEntityTooLarge, "context_overflow", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	if err := dec.Decode(&v); err != nil {
		return v, fmt.Errorf("decode request: %w", err)
	}
	return v, nil
}
