package metrics

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamilpajak/testmend/internal/cache"
	"github.com/kamilpajak/testmend/pkg/models"
)

func TestRecordAttempt(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.RecordAttempt(models.HealingAttempt{
		Strategy: models.StrategyAI, StartedAt: start, FinishedAt: start.Add(3 * time.Second),
		TokensUsed: 1200, CostUSD: 0.002,
	}, models.OutcomeHealed)
	c.RecordAttempt(models.HealingAttempt{Strategy: models.StrategyRuleBased}, models.OutcomeFailed)
	c.RecordAttempt(models.HealingAttempt{Strategy: models.StrategyAI}, models.OutcomeHealed)

	assert.InDelta(t, 2, testutil.ToFloat64(c.healAttempts.WithLabelValues("ai", "healed")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.healAttempts.WithLabelValues("rule-based", "failed")), 1e-9)
	assert.InDelta(t, 1200, testutil.ToFloat64(c.llmTokens), 1e-9)
	assert.InDelta(t, 0.002, testutil.ToFloat64(c.llmCost), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(c.healSeconds))

	expected := `
# HELP testmend_llm_tokens_total Completion tokens consumed by regeneration.
# TYPE testmend_llm_tokens_total counter
testmend_llm_tokens_total 1200
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "testmend_llm_tokens_total"))
}

func TestCacheEventObserver(t *testing.T) {
	c := New()
	cc, err := cache.New(cache.DefaultConfig(), cache.WithObserver(c.CacheEvent))
	require.NoError(t, err)

	require.NoError(t, cc.Set("k", "v"))
	_, _ = cc.Get("k")
	_, _ = cc.Get("missing")

	assert.InDelta(t, 1, testutil.ToFloat64(c.cacheEvents.WithLabelValues(cache.EventSet)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.cacheEvents.WithLabelValues(cache.EventHit)), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(c.cacheEvents.WithLabelValues(cache.EventMiss)), 1e-9)
}

func TestRegister_Twice(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))
	require.NoError(t, c.Register(reg))
}

func TestServe(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, c.Register(reg))
	c.CacheEvent(cache.EventHit)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, addr, reg) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + addr + "/metrics")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	assert.NoError(t, <-done)
}
