package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.MessageAppended(ctx, "user")
		m.ValidationFailed(ctx, "create")
		m.Conflict(ctx, "append")
		m.Archived(ctx, 3)
		m.ArchiveFailed(ctx, 1)
		m.ObserveOperation(ctx, "append", time.Now(), nil)
	})
}

func TestSetupMetrics_ExposesThroughRegistry(t *testing.T) {
	reg := promclient.NewRegistry()
	m, shutdown, err := SetupMetrics("conversation-test", reg)
	require.NoError(t, err)
	defer shutdown(context.Background())

	ctx := context.Background()
	m.MessageAppended(ctx, "bot")
	m.Archived(ctx, 2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["conversation_messages_appended_total"])
	assert.True(t, names["conversation_archived_total"])
}

func TestNewResource_CarriesServiceName(t *testing.T) {
	res, err := newResource("conversation-test")
	require.NoError(t, err)

	v, ok := res.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "conversation-test", v.AsString())
}

func TestSetupTracing_Starts(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := SetupTracing("conversation-test", &buf)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
