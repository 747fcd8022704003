package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/weftml/weft/internal/engine/toy"
	"github.com/weftml/weft/internal/logits"
	"github.com/weftml/weft/internal/session"
)

func runCmd() *cli.Command {
	var (
		prefix     string
		suffix     string
		prompt     string
		embedFile  string
		embedCount int64
		embedSeed  int64
		steps      int64
		temp       float64
		topK       int64
		topP       float64
		minP       float64
		repeat     float64
		seed       int64
		embedDim   int64
		maxContext int64
		engineSeed int64
		showCursor bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Prime a session with text and raw embeddings, then stream generated text",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "prefix",
				Usage:       "text fed before the embedding vectors",
				Value:       "user: what is the color of the flag of UN?",
				Destination: &prefix,
			},
			&cli.StringFlag{
				Name:        "suffix",
				Usage:       "text fed after the embedding vectors",
				Value:       "assistant:",
				Destination: &suffix,
			},
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "additional prompt text fed after the suffix",
				Destination: &prompt,
			},
			&cli.StringFlag{
				Name:        "embed-file",
				Usage:       "JSON file of embedding vectors ([][]float32)",
				Destination: &embedFile,
			},
			&cli.Int64Flag{
				Name:        "embed-count",
				Usage:       "number of random embedding vectors when no file is given",
				Value:       10,
				Destination: &embedCount,
			},
			&cli.Int64Flag{
				Name:        "embed-seed",
				Usage:       "seed for random embedding vectors",
				Destination: &embedSeed,
			},
			&cli.Int64Flag{
				Name:        "steps",
				Aliases:     []string{"n"},
				Usage:       "maximum number of tokens to generate",
				Value:       50,
				Destination: &steps,
			},
			&cli.Float64Flag{
				Name:        "temp",
				Aliases:     []string{"temperature", "t"},
				Usage:       "sampling temperature (0 = greedy)",
				Value:       0,
				Destination: &temp,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Aliases:     []string{"top_k"},
				Usage:       "top-k sampling parameter",
				Value:       40,
				Destination: &topK,
			},
			&cli.Float64Flag{
				Name:        "top-p",
				Aliases:     []string{"top_p"},
				Usage:       "top-p sampling parameter",
				Value:       0.95,
				Destination: &topP,
			},
			&cli.Float64Flag{
				Name:        "min-p",
				Aliases:     []string{"min_p"},
				Usage:       "min-p sampling parameter (0 = disabled)",
				Destination: &minP,
			},
			&cli.Float64Flag{
				Name:        "repeat-penalty",
				Usage:       "repetition penalty (1.0 = disabled)",
				Value:       1.0,
				Destination: &repeat,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "sampling RNG seed (default -1 = time-based)",
				Value:       -1,
				Destination: &seed,
			},
			&cli.Int64Flag{
				Name:        "embed-dim",
				Usage:       "demo engine embedding dimensionality",
				Value:       16,
				Destination: &embedDim,
			},
			&cli.Int64Flag{
				Name:        "max-context",
				Aliases:     []string{"ctx", "c"},
				Usage:       "demo engine max context length",
				Value:       512,
				Destination: &maxContext,
			},
			&cli.Int64Flag{
				Name:        "engine-seed",
				Usage:       "demo engine weight seed",
				Destination: &engineSeed,
			},
			&cli.BoolFlag{
				Name:        "show-cursor",
				Usage:       "print the final position cursor",
				Destination: &showCursor,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			applyRunConfig(c, LoadConfig(), &temp, &topK, &topP, &repeat, &steps, &seed, &embedDim, &maxContext)

			if seed == -1 {
				seed = time.Now().UnixNano()
			}

			eng := toy.New(toy.Config{
				Dim:        int(embedDim),
				MaxContext: int(maxContext),
				Seed:       engineSeed,
			})

			sess, err := session.New(session.Config{
				Engine: eng,
				Sampling: logits.SamplerConfig{
					Seed:          seed,
					Temperature:   float32(temp),
					TopK:          int(topK),
					TopP:          float32(topP),
					MinP:          float32(minP),
					RepeatPenalty: float32(repeat),
				},
			})
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: create session: %v", err), 1)
			}
			defer func() { _ = sess.Close() }()

			var vectors [][]float32
			if embedFile != "" {
				vectors, err = loadEmbeddings(embedFile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
			} else if embedCount > 0 {
				vectors = randomEmbeddings(int(embedCount), sess.EmbedDim(), embedSeed)
			}
			batch, err := session.NewEmbeddings(vectors)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: embeddings: %v", err), 1)
			}

			// Priming order matches the wire order of the context: prefix
			// text, embedding vectors, suffix text, then any extra prompt.
			if err := sess.FeedText(prefix); err != nil {
				return cli.Exit(fmt.Sprintf("error: feed prefix: %v", err), 1)
			}
			if err := sess.FeedEmbeddings(batch); err != nil {
				return cli.Exit(fmt.Sprintf("error: feed embeddings: %v", err), 1)
			}
			if err := sess.FeedText(suffix); err != nil {
				return cli.Exit(fmt.Sprintf("error: feed suffix: %v", err), 1)
			}
			if err := sess.FeedText(prompt); err != nil {
				return cli.Exit(fmt.Sprintf("error: feed prompt: %v", err), 1)
			}

			stats, err := sess.Generate(ctx, int(steps), func(frag string) {
				fmt.Print(frag)
			})
			fmt.Println()
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: generation: %v", err), 1)
			}

			fmt.Fprintf(os.Stderr, "Stats: %.2f TPS (%d tokens in %s)\n",
				stats.TPS, stats.TokensGenerated, stats.Duration)
			if showCursor {
				fmt.Fprintf(os.Stderr, "Cursor: %d\n", sess.Cursor())
			}
			return nil
		},
	}
}
