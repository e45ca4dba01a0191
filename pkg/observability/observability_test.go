package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoEndpointIsNoop(t *testing.T) {
	m, err := New(context.Background(), Config{ServiceName: "snapgate"})
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Nil(t, m.provider)
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMetrics_CountersTrackOutcomes(t *testing.T) {
	m, err := New(context.Background(), Config{})
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordRender(ctx, "teama", "screenshot", true, 120*time.Millisecond)
	m.RecordRender(ctx, "teama", "pdf", false, time.Second)
	m.RecordCacheHit(ctx, "teama", "screenshot")

	assert.Equal(t, int64(2), m.Rendered())
	assert.Equal(t, int64(1), m.RenderErrors())
	assert.Equal(t, int64(1), m.CacheHits())
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRender(context.Background(), "b", "screenshot", true, time.Second)
	m.RecordCacheHit(context.Background(), "b", "pdf")
	assert.Equal(t, int64(0), m.Rendered())
	assert.NoError(t, m.RegisterQueueDepth(func() int64 { return 0 }))
	assert.NoError(t, m.Shutdown(context.Background()))
}

func TestMetrics_RegisterQueueDepth(t *testing.T) {
	m, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, m.RegisterQueueDepth(func() int64 { return 3 }))
}
