package assistant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/chantio/chantio/internal/convo"
	"github.com/chantio/chantio/internal/embcache"
	"github.com/chantio/chantio/internal/log"
	"github.com/chantio/chantio/internal/testutil"
	"github.com/chantio/chantio/internal/vector"
)

type nopRepo struct{}

func (nopRepo) LoadAll(context.Context) ([]vector.Vector, error)            { return nil, nil }
func (nopRepo) Upsert(context.Context, vector.Vector) error                 { return nil }
func (nopRepo) DeleteBySource(context.Context, string, string) error        { return nil }
func (nopRepo) DeleteChunksFrom(context.Context, string, string, int) error { return nil }
func (nopRepo) Close() error                                                { return nil }

type memHistory struct {
	mu      sync.Mutex
	rows    map[string][]convo.Message
	saveErr error
}

func newMemHistory() *memHistory {
	return &memHistory{rows: make(map[string][]convo.Message)}
}

func (m *memHistory) Load(_ context.Context, userID string) ([]convo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]convo.Message, len(m.rows[userID]))
	copy(out, m.rows[userID])
	return out, nil
}

func (m *memHistory) Save(_ context.Context, userID string, msgs []convo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := make([]convo.Message, len(msgs))
	copy(cp, msgs)
	m.rows[userID] = cp
	return nil
}

func (m *memHistory) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, userID)
	return nil
}

type fixture struct {
	assistant *Assistant
	store     *vector.Store
	mock      *testutil.MockProvider
	history   *memHistory
	manager   *convo.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.NewNop()
	store := vector.New(nopRepo{}, logger)
	cache := embcache.New(embcache.Config{Capacity: 50}, logger)
	mock := &testutil.MockProvider{Reply: "the tiles are blue"}
	hist := newMemHistory()
	mgr := convo.New(hist, convo.Config{}, logger)
	return &fixture{
		assistant: New(mock, cache, store, mgr, Config{TopK: 5}, logger),
		store:     store,
		mock:      mock,
		history:   hist,
		manager:   mgr,
	}
}

func (f *fixture) seed(t *testing.T, sourceType, id, text string) {
	t.Helper()
	err := f.store.Upsert(context.Background(), vector.Vector{
		SourceType: sourceType,
		SourceID:   id,
		ChunkIndex: 0,
		Text:       text,
		Values:     testutil.WordEmbed(text),
	})
	if err != nil {
		t.Fatalf("seeding %s/%s: %v", sourceType, id, err)
	}
}

func TestAnswerRetrievesBestMatchingRecords(t *testing.T) {
	f := newFixture(t)
	f.seed(t, vector.SourceTypeQuote, "q1", "blue tile 30x30 for the bathroom")
	f.seed(t, vector.SourceTypeQuote, "q2", "red tile 60x60 for the terrace")
	f.seed(t, vector.SourceTypeDocument, "d1", "white grout technical sheet")

	res, err := f.assistant.Answer(context.Background(), "u1", "tile color blue")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if res.Error {
		t.Fatal("unexpected degraded answer")
	}
	if res.Text != "the tiles are blue" {
		t.Errorf("answer text = %q", res.Text)
	}
	if len(res.Sources) == 0 || res.Sources[0] != "quote/q1" {
		t.Errorf("sources = %v, want quote/q1 first", res.Sources)
	}
	if res.Confidence <= 0 {
		t.Errorf("confidence = %f, want > 0", res.Confidence)
	}
	if !strings.Contains(f.mock.LastPrompt, "blue tile 30x30") {
		t.Error("prompt does not carry the best matching record")
	}
	if !strings.Contains(f.mock.LastPrompt, "tile color blue") {
		t.Error("prompt does not carry the question")
	}
}

func TestAnswerRecordsTurnPair(t *testing.T) {
	f := newFixture(t)
	f.seed(t, vector.SourceTypeSite, "s1", "rue des lilas bathroom renovation")

	res, err := f.assistant.Answer(context.Background(), "u1", "what site is active")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}

	history, _ := f.manager.Load(context.Background(), "u1")
	if len(history) != 2 {
		t.Fatalf("history has %d messages, want user+bot pair", len(history))
	}
	if history[0].Role != convo.RoleUser || history[1].Role != convo.RoleBot {
		t.Errorf("roles = %s, %s", history[0].Role, history[1].Role)
	}
	meta := history[1].Metadata
	if meta == nil || meta.Error {
		t.Fatalf("bot metadata = %+v", meta)
	}
	if meta.Confidence != res.Confidence || len(meta.Sources) != len(res.Sources) {
		t.Errorf("bot metadata %+v does not match the returned result %+v", meta, res)
	}
}

func TestAnswerGenerateFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.seed(t, vector.SourceTypeClient, "c1", "Dupont client record")
	f.mock.GenerateErr = errors.New("connection refused")

	res, err := f.assistant.Answer(context.Background(), "u1", "who is the client")
	if err != nil {
		t.Fatalf("Answer must not fail on provider errors, got %v", err)
	}
	if !res.Error {
		t.Fatal("expected degraded result")
	}
	if res.Text == "" {
		t.Error("degraded result needs a message")
	}

	history, _ := f.manager.Load(context.Background(), "u1")
	if len(history) != 2 {
		t.Fatalf("failed attempt not recorded, history has %d messages", len(history))
	}
	if history[1].Metadata == nil || !history[1].Metadata.Error {
		t.Error("bot metadata should flag the failure")
	}
}

func TestAnswerEmbedFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.mock.EmbedErr = errors.New("model missing")

	res, err := f.assistant.Answer(context.Background(), "u1", "anything")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Error {
		t.Error("expected degraded result when embedding fails")
	}
	if f.mock.GenerateCalls != 0 {
		t.Error("generation must not run without a question vector")
	}
}

func TestAnswerQuestionEmbeddingCached(t *testing.T) {
	f := newFixture(t)
	f.seed(t, vector.SourceTypeQuote, "q1", "terrace quote")

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.assistant.Answer(ctx, "u1", "How much is the Terrace quote?"); err != nil {
			t.Fatalf("Answer %d: %v", i, err)
		}
	}
	// Whitespace and casing differences still hit the same cache entry.
	if _, err := f.assistant.Answer(ctx, "u1", "how much is   the terrace quote?"); err != nil {
		t.Fatalf("Answer: %v", err)
	}

	if f.mock.EmbedCalls != 1 {
		t.Errorf("provider embed calls = %d, want 1", f.mock.EmbedCalls)
	}
}

func TestAnswerIncludesRecentHistory(t *testing.T) {
	f := newFixture(t)
	f.seed(t, vector.SourceTypeSite, "s1", "roof repair site")

	ctx := context.Background()
	err := f.manager.Append(ctx, "u1",
		convo.Message{Role: convo.RoleUser, Content: "when does the roof job start"},
		convo.Message{Role: convo.RoleBot, Content: "next monday"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, err := f.assistant.Answer(ctx, "u1", "and when does it end"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(f.mock.LastPrompt, "next monday") {
		t.Error("prompt does not carry the previous turn")
	}
}

func TestAnswerPersistenceFailureStillAnswers(t *testing.T) {
	f := newFixture(t)
	f.seed(t, vector.SourceTypeQuote, "q1", "garage quote")
	f.history.saveErr = errors.New("disk full")

	res, err := f.assistant.Answer(context.Background(), "u1", "garage quote amount")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Error || res.Text == "" {
		t.Errorf("answer lost to a persistence failure: %+v", res)
	}
}

func TestAnswerValidatesInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.assistant.Answer(context.Background(), "", "q"); err == nil {
		t.Error("empty user id should fail")
	}
	if _, err := f.assistant.Answer(context.Background(), "u1", ""); err == nil {
		t.Error("empty question should fail")
	}
}

func TestConfidenceHeuristic(t *testing.T) {
	if got := confidence(nil, 5); got != 0.1 {
		t.Errorf("no sources: confidence = %f, want 0.1", got)
	}

	full := []vector.Result{
		{Score: 0.9}, {Score: 0.5}, {Score: 0.4}, {Score: 0.3}, {Score: 0.2},
	}
	one := []vector.Result{{Score: 0.9}}
	if confidence(full, 5) <= confidence(one, 5) {
		t.Error("more supporting chunks should raise confidence")
	}

	if got := confidence([]vector.Result{{Score: 1.7}}, 5); got > 1 {
		t.Errorf("confidence = %f, must stay within [0,1]", got)
	}
}
