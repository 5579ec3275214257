package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/plaenen/iamcore/pkg/domain"
	"github.com/plaenen/iamcore/pkg/eventstore"
)

func TestInstrumentedEventstore(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()

	tel, err := Init(ctx, Config{
		ServiceName:  "iamcore-test",
		MetricReader: reader,
	})
	require.NoError(t, err)
	defer tel.Shutdown(ctx)

	store := InstrumentEventstore(eventstore.NewMemoryStore(nil), tel)

	event, err := store.Push(ctx, &domain.Command{
		InstanceID:    "instance-1",
		AggregateType: domain.AggregateTypeOrg,
		AggregateID:   "org-1",
		ResourceOwner: "org-1",
		EventType:     domain.OrgAddedType,
		Editor:        "tester",
		Payload:       domain.OrgAddedPayload{Name: "Acme"},
	})
	require.NoError(t, err)
	require.NotNil(t, event)

	agg, err := store.Aggregate(ctx, "instance-1", domain.AggregateTypeOrg, "org-1", 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), agg.Version)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
		}
	}
	assert.True(t, names["iamcore.events.appended"], "append counter recorded")
	assert.True(t, names["iamcore.eventstore.push.latency"], "push latency recorded")
	assert.True(t, names["iamcore.eventstore.query.latency"], "query latency recorded")
}
