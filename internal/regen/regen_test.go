package regen

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kamilpajak/testmend/internal/cache"
	"github.com/kamilpajak/testmend/internal/llm"
	"github.com/kamilpajak/testmend/pkg/models"
)

const healedTest = `test('get user', async ({ request }) => {
  const res = await request.get('/users/1');
  expect(res.status()).toBe(201);
});`

type scriptedCompleter struct {
	mu      sync.Mutex
	results []any // *llm.Response or error, consumed in order
	calls   int
	last    llm.Options
}

func (s *scriptedCompleter) Complete(_ context.Context, _ []llm.Message, opts llm.Options) (*llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = opts
	r := s.results[min(s.calls, len(s.results)-1)]
	s.calls++
	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(*llm.Response), nil
}

func (s *scriptedCompleter) Provider() llm.Provider { return llm.ProviderOpenAI }
func (s *scriptedCompleter) Model() string          { return "gpt-4o" }

type fakeClock struct {
	sleeps []time.Duration
}

func (f *fakeClock) Now() time.Time { return time.Time{} }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeps = append(f.sleeps, d)
	return ctx.Err()
}

type memWriter struct {
	files map[string]string
	err   error
}

func (m *memWriter) Write(path, content string) error {
	if m.err != nil {
		return m.err
	}
	if m.files == nil {
		m.files = map[string]string{}
	}
	m.files[path] = content
	return nil
}

func okResponse(content string) *llm.Response {
	return &llm.Response{Content: content, InputTokens: 1000, OutputTokens: 500, Model: "gpt-4o"}
}

func sampleContext() Context {
	return Context{
		TestName: "get user",
		FilePath: "tests/users.spec.ts",
		Source:   strings.Replace(healedTest, "201", "200", 1),
		Analysis: models.FailureAnalysis{
			Kind:       models.FailureStatusCodeChanged,
			RootCause:  "API returned status 201 instead of 200",
			Confidence: 0.8,
			Suggestion: "Expect status 201: created instead of ok",
		},
		Changes: []models.SpecChange{
			{Kind: models.ChangeStatusCodeChanged, Path: "paths./users/{id}.get.responses", Severity: models.SeverityBreaking, Description: "success status changed from 200 to 201"},
			{Kind: models.ChangeDescriptionChanged, Path: "paths./users/{id}.get", Severity: models.SeverityPatch},
		},
	}
}

func newTestRegenerator(t *testing.T, c llm.Completer, clock Clock, opts ...Option) *Regenerator {
	t.Helper()
	opts = append([]Option{WithClock(clock), WithRandom(func() float64 { return 0.5 }), WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(c, Config{}, opts...)
}

func TestRegenerate_Success(t *testing.T) {
	c := &scriptedCompleter{results: []any{okResponse("Here you go:\n```typescript\n" + healedTest + "\n```\n")}}
	w := &memWriter{}
	r := newTestRegenerator(t, c, &fakeClock{}, WithWriter(w))

	res, err := r.Regenerate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, healedTest, res.Source)
	assert.Equal(t, 1500, res.TokensUsed)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.False(t, res.Cached)
	assert.True(t, res.Written)
	assert.Equal(t, healedTest+"\n", w.files["tests/users.spec.ts"])

	assert.InDelta(t, DefaultTemperature, c.last.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, c.last.MaxTokens)
	assert.Equal(t, "gpt-4o", c.last.Model)
}

func TestRegenerate_CacheHitSkipsService(t *testing.T) {
	c := &scriptedCompleter{results: []any{okResponse(healedTest)}}
	rc, err := cache.New(cache.Config{})
	require.NoError(t, err)
	r := newTestRegenerator(t, c, &fakeClock{}, WithCache(rc))

	first, err := r.Regenerate(context.Background(), sampleContext())
	require.NoError(t, err)
	second, err := r.Regenerate(context.Background(), sampleContext())
	require.NoError(t, err)

	assert.Equal(t, 1, c.calls)
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Zero(t, second.TokensUsed, "cached results carry no token cost")
	assert.Equal(t, first.Source, second.Source)
}

func TestRegenerate_InvalidResponseNotCached(t *testing.T) {
	c := &scriptedCompleter{results: []any{okResponse("I cannot help with that.")}}
	rc, err := cache.New(cache.Config{})
	require.NoError(t, err)
	r := newTestRegenerator(t, c, &fakeClock{}, WithCache(rc))

	_, err = r.Regenerate(context.Background(), sampleContext())
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Zero(t, rc.Len())
	assert.Equal(t, 1, c.calls, "validation failures are not retried")
}

func TestRegenerate_RetriesTransportErrors(t *testing.T) {
	c := &scriptedCompleter{results: []any{
		&llm.TransportError{StatusCode: 503, Err: errors.New("unavailable")},
		&llm.RateLimitError{RetryAfter: 7 * time.Second},
		&llm.RateLimitError{},
		okResponse(healedTest),
	}}
	clock := &fakeClock{}
	r := newTestRegenerator(t, c, clock)

	res, err := r.Regenerate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.Equal(t, 4, res.Calls)
	// random=0.5 gives zero jitter.
	assert.Equal(t, []time.Duration{2 * time.Second, 7 * time.Second, 8 * time.Second}, clock.sleeps)
}

func TestRegenerate_ExhaustedRetriesSurfaceLastError(t *testing.T) {
	c := &scriptedCompleter{results: []any{&llm.TransportError{Err: errors.New("connection reset")}}}
	clock := &fakeClock{}
	r := newTestRegenerator(t, c, clock)

	_, err := r.Regenerate(context.Background(), sampleContext())
	require.Error(t, err)
	assert.True(t, llm.IsTransportError(err))
	assert.Equal(t, 4, c.calls)
	assert.Len(t, clock.sleeps, 3)
}

func TestRegenerate_NonRetryableFailsImmediately(t *testing.T) {
	c := &scriptedCompleter{results: []any{errors.New("API error (400): bad request")}}
	clock := &fakeClock{}
	r := newTestRegenerator(t, c, clock)

	_, err := r.Regenerate(context.Background(), sampleContext())
	require.Error(t, err)
	assert.Equal(t, 1, c.calls)
	assert.Empty(t, clock.sleeps)
}

func TestRegenerate_WriteFailureKeepsResult(t *testing.T) {
	c := &scriptedCompleter{results: []any{okResponse(healedTest)}}
	r := newTestRegenerator(t, c, &fakeClock{}, WithWriter(&memWriter{err: errors.New("read-only file system")}))

	res, err := r.Regenerate(context.Background(), sampleContext())
	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.Contains(t, res.WriteError, "read-only")
}

func TestRegenerate_NoCompleter(t *testing.T) {
	r := New(nil, Config{})
	_, err := r.Regenerate(context.Background(), sampleContext())
	assert.Error(t, err)
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := DefaultRetryConfig()

	tests := []struct {
		name    string
		attempt int
		random  float64
		err     error
		want    time.Duration
	}{
		{"first retry no jitter", 0, 0.5, &llm.TransportError{}, 2 * time.Second},
		{"second retry", 1, 0.5, &llm.TransportError{}, 4 * time.Second},
		{"max negative jitter", 1, 0, &llm.TransportError{}, 3 * time.Second},
		{"max positive jitter", 1, 1, &llm.TransportError{}, 5 * time.Second},
		{"service hint wins", 3, 0, &llm.RateLimitError{RetryAfter: time.Second}, time.Second},
		{"capped", 10, 0.5, &llm.TransportError{}, 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.delay(tt.attempt, tt.err, func() float64 { return tt.random })
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "a()", ExtractCode("```ts\na()\n```"))
	assert.Equal(t, "a()", ExtractCode("text\n```\na()\n```\nmore ```js\nb()\n```"))
	assert.Equal(t, "plain()", ExtractCode("  plain()\n"))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(healedTest))

	err := Validate("const x = 1;")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"test declaration", "assertion", "await", "request fixture"}, ve.Missing)

	err = Validate("test('x', async () => { await page.goto('/'); expect(1).toBe(1); });")
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"request fixture"}, ve.Missing)
}

func TestAssembler_Build(t *testing.T) {
	p, err := NewAssembler().Build(sampleContext())
	require.NoError(t, err)

	assert.Equal(t, systemPrompt, p.System)
	assert.Contains(t, p.User, "- Kind: status-code-changed")
	assert.Contains(t, p.User, "- Confidence: 80%")
	assert.Contains(t, p.User, "- Suggested fix: Expect status 201: created instead of ok")
	assert.Contains(t, p.User, "1. [BREAKING] status-code-changed at `paths./users/{id}.get.responses`")
	assert.Contains(t, p.User, "2. description-changed at `paths./users/{id}.get`")
	assert.Contains(t, p.User, "### Example 1: Create now returns 201")
	assert.Contains(t, p.User, "### Example 2:")
	assert.NotContains(t, p.User, "### Example 3:")
	assert.Contains(t, p.User, "expect(res.status()).toBe(200);")

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
}

func TestAssembler_BoundsChanges(t *testing.T) {
	c := sampleContext()
	c.Changes = make([]models.SpecChange, 5)
	for i := range c.Changes {
		c.Changes[i] = models.SpecChange{Kind: models.ChangePropertyAdded, Path: "p"}
	}

	p, err := NewAssembler(WithMaxChanges(2), WithMaxExamples(0)).Build(c)
	require.NoError(t, err)
	assert.Contains(t, p.User, "... and 3 more changes")
	assert.NotContains(t, p.User, "## Examples")

	c.Changes = nil
	p, err = NewAssembler().Build(c)
	require.NoError(t, err)
	assert.Contains(t, p.User, "No specification changes are known")
}

func TestAssembler_KeepsWholeSourceWithinLimit(t *testing.T) {
	c := sampleContext()
	c.Source = "test('big', async ({ request }) => {\n" +
		strings.Repeat("  // padding line with ünïcödé\n", 500) +
		"  expect(res.status()).toBe(299);\n});"
	require.Less(t, len(c.Source), DefaultMaxSourceLen)

	p, err := NewAssembler().Build(c)
	require.NoError(t, err)
	assert.Contains(t, p.User, "expect(res.status()).toBe(299);\n});\n```")
	assert.NotContains(t, p.User, "// ...")
}

func TestAssembler_RejectsOversizedSource(t *testing.T) {
	c := sampleContext()
	c.Source = strings.Repeat("x", 101)

	_, err := NewAssembler(WithMaxSourceLen(100)).Build(c)
	require.Error(t, err)
	assert.True(t, IsSourceTooLargeError(err))
	assert.Equal(t, "test source is 101 bytes, limit is 100", err.Error())
}

func TestRegenerate_OversizedSourceIsNotSentOrWritten(t *testing.T) {
	comp := &scriptedCompleter{results: []any{okResponse("```typescript\n" + healedTest + "\n```")}}
	w := &memWriter{}
	r := New(comp, Config{}, WithWriter(w), WithClock(&fakeClock{}), WithLogger(zaptest.NewLogger(t)))

	c := sampleContext()
	c.FilePath = "tests/big.spec.ts"
	c.Source = strings.Repeat("a", DefaultMaxSourceLen+1)

	res, err := r.Regenerate(context.Background(), c)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsSourceTooLargeError(err))
	assert.False(t, IsValidationError(err))
	assert.Equal(t, 0, comp.calls)
	assert.Empty(t, w.files)
}

func TestSelectExamples(t *testing.T) {
	got := selectExamples(DefaultExamples, models.FailureEndpointNotFound, 2)
	require.Len(t, got, 2)
	assert.Equal(t, models.FailureEndpointNotFound, got[0].Kind)
	assert.Equal(t, models.FailureFieldMissing, got[1].Kind)
}
