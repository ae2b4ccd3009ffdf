package healthz_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execfabric/fabric/runtime/healthz"
)

func TestCheckHealthyWithNoPingers(t *testing.T) {
	c := healthz.New("fabric", "v1.0.0")
	status, failures := c.Check(context.Background())
	require.Empty(t, failures)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "fabric", status.Service)
	assert.Equal(t, "v1.0.0", status.Version)
}

func TestCheckHealthyWhenAllPingersSucceed(t *testing.T) {
	c := healthz.New("fabric", "v1.0.0",
		healthz.NamedPinger("a", func(context.Context) error { return nil }),
		healthz.NamedPinger("b", func(context.Context) error { return nil }),
	)
	status, failures := c.Check(context.Background())
	require.Empty(t, failures)
	assert.Equal(t, "healthy", status.Status)
}

func TestCheckDegradedWhenAPingerFails(t *testing.T) {
	boom := errors.New("connection refused")
	c := healthz.New("fabric", "v1.0.0",
		healthz.NamedPinger("ok", func(context.Context) error { return nil }),
		healthz.NamedPinger("broken", func(context.Context) error { return boom }),
	)
	status, failures := c.Check(context.Background())
	assert.Equal(t, "degraded", status.Status)
	require.Len(t, failures, 1)
	assert.Equal(t, boom, failures["broken"])
}
