// Package assistant answers natural-language questions about the company's
// clients, sites, quotes, subcontractors and documents by retrieving the
// most relevant indexed chunks and asking the language model to ground its
// answer in them.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chantio/chantio/internal/convo"
	"github.com/chantio/chantio/internal/embcache"
	"github.com/chantio/chantio/internal/provider"
	"github.com/chantio/chantio/internal/vector"
)

const tracerName = "github.com/chantio/chantio/internal/assistant"

// DefaultTopK is how many chunks ground an answer when Config.TopK is zero.
const DefaultTopK = 5

// historyTurns is how many recent messages are replayed into the prompt.
const historyTurns = 6

// degradedMessage is returned when the model server cannot be reached.
const degradedMessage = "I can't reach the language model right now, so I can't answer. Please try again in a moment."

// Provider is the slice of the model server client the assistant needs.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Generate(ctx context.Context, prompt string, genCtx []int) (provider.GenerateResult, error)
}

// Result is one answered question.
type Result struct {
	Text             string   `json:"text"`
	Sources          []string `json:"sources"`
	Confidence       float64  `json:"confidence"`
	ProcessingTimeMs int64    `json:"processingTimeMs"`
	Error            bool     `json:"error"`
}

// Config for the Assistant.
type Config struct {
	// TopK is how many chunks are retrieved per question. Default 5.
	TopK int
}

// Assistant orchestrates embed, retrieve, generate and history persistence.
type Assistant struct {
	provider Provider
	cache    *embcache.Cache
	store    *vector.Store
	history  *convo.Manager
	topK     int
	logger   *slog.Logger
	tracer   trace.Tracer
}

// New creates an Assistant.
func New(p Provider, cache *embcache.Cache, store *vector.Store, history *convo.Manager, cfg Config, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Assistant{
		provider: p,
		cache:    cache,
		store:    store,
		history:  history,
		topK:     cfg.TopK,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Answer resolves one question for one user. Provider failures do not return
// an error; they yield a degraded Result with Error set, and the failed
// attempt is still recorded in the user's history. The caller bounds the
// whole pipeline through ctx.
func (a *Assistant) Answer(ctx context.Context, userID, question string) (Result, error) {
	if userID == "" {
		return Result{}, fmt.Errorf("user id is required")
	}
	if question == "" {
		return Result{}, fmt.Errorf("question is required")
	}

	ctx, span := a.tracer.Start(ctx, "assistant.Answer",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	start := time.Now()

	qvec, err := a.embedQuestion(ctx, question)
	if err != nil {
		a.logger.Warn("question embedding failed", "user_id", userID, "error", err)
		return a.degraded(ctx, userID, question, start), nil
	}

	results := a.store.Search(qvec, a.topK)
	span.SetAttributes(attribute.Int("retrieval.chunks", len(results)))

	prompt, err := a.buildPrompt(ctx, userID, question, results)
	if err != nil {
		// History is an enrichment; answer from retrieval alone.
		a.logger.Warn("loading history failed", "user_id", userID, "error", err)
	}

	gen, err := a.provider.Generate(ctx, prompt, nil)
	if err != nil {
		a.logger.Warn("generation failed", "user_id", userID, "error", err)
		return a.degraded(ctx, userID, question, start), nil
	}

	res := Result{
		Text:             gen.Text,
		Sources:          sourceRefs(results),
		Confidence:       confidence(results, a.topK),
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}
	a.record(ctx, userID, question, res)
	return res, nil
}

// embedQuestion resolves the question vector cache-first, normalized so
// similarity is a dot product against the stored unit vectors.
func (a *Assistant) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if vec, ok := a.cache.Get(question); ok {
		return normalizedCopy(vec), nil
	}
	vec, err := a.provider.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	a.cache.Set(question, vec)
	return normalizedCopy(vec), nil
}

func (a *Assistant) degraded(ctx context.Context, userID, question string, start time.Time) Result {
	res := Result{
		Text:             degradedMessage,
		Confidence:       0,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Error:            true,
	}
	a.record(ctx, userID, question, res)
	return res
}

// record appends the user/bot turn pair. Persistence failures are logged,
// never surfaced; the user still gets the answer.
func (a *Assistant) record(ctx context.Context, userID, question string, res Result) {
	err := a.history.Append(ctx, userID,
		convo.Message{Role: convo.RoleUser, Content: question},
		convo.Message{Role: convo.RoleBot, Content: res.Text, Metadata: &convo.Metadata{
			Confidence:       res.Confidence,
			Sources:          res.Sources,
			ProcessingTimeMs: res.ProcessingTimeMs,
			Error:            res.Error,
		}},
	)
	if err != nil {
		a.logger.Error("persisting conversation failed", "user_id", userID, "error", err)
	}
}

// sourceRefs lists the distinct source records behind the retrieved chunks,
// best match first.
func sourceRefs(results []vector.Result) []string {
	seen := make(map[string]bool, len(results))
	refs := make([]string, 0, len(results))
	for _, r := range results {
		ref := r.SourceType + "/" + r.SourceID
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs
}

// confidence blends the best similarity score with how many chunks were
// found. No retrieved chunk means the model answers unguided, so the score
// stays near zero.
func confidence(results []vector.Result, topK int) float64 {
	if len(results) == 0 {
		return 0.1
	}
	best := results[0].Score
	if best < 0 {
		best = 0
	}
	if best > 1 {
		best = 1
	}
	fill := float64(len(results)) / float64(topK)
	if fill > 1 {
		fill = 1
	}
	return 0.8*best + 0.2*fill
}

func normalizedCopy(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return vector.L2Normalize(out)
}
