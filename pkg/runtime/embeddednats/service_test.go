package embeddednats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaenen/iamcore/pkg/runner"
)

func TestServiceLifecycle(t *testing.T) {
	service := New()
	ctx := context.Background()

	assert.Equal(t, "embedded-nats", service.Name())
	assert.Empty(t, service.URL(), "no URL before start")
	assert.Nil(t, service.Server())
	require.Error(t, service.HealthCheck(ctx), "unhealthy before start")

	require.NoError(t, service.Start(ctx))
	defer service.Stop(ctx)

	require.NotEmpty(t, service.URL())
	require.NotNil(t, service.Server())
	require.NoError(t, service.HealthCheck(ctx))

	nc, err := nats.Connect(service.URL())
	require.NoError(t, err)
	defer nc.Close()
	assert.True(t, nc.IsConnected())
}

func TestServiceStopWithoutStart(t *testing.T) {
	service := New()
	assert.NoError(t, service.Stop(context.Background()))
}

func TestServiceWithRunner(t *testing.T) {
	service := New()
	r := runner.New([]runner.Service{service})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		return service.URL() != ""
	}, 5*time.Second, 50*time.Millisecond, "runner should start the service")

	require.NoError(t, r.HealthCheck(context.Background()))

	cancel()
	require.NoError(t, <-errCh)
}
