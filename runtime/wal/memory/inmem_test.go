package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inmem "github.com/execfabric/fabric/runtime/wal/memory"
)

func TestAddRangeOrdering(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	_, err := s.Add(ctx, "wal:t1:2026-08-01", map[string]string{"event_id": "e1"})
	require.NoError(t, err)
	_, err = s.Add(ctx, "wal:t1:2026-08-01", map[string]string{"event_id": "e2"})
	require.NoError(t, err)

	out, err := s.Range(ctx, "wal:t1:2026-08-01", 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "e1", out[0].Fields["event_id"])
	assert.Equal(t, "e2", out[1].Fields["event_id"])
}

func TestConsumerGroupDeliversOnlyUndelivered(t *testing.T) {
	ctx := context.Background()
	s := inmem.New()
	partition := "wal:t1:2026-08-01"
	_, _ = s.Add(ctx, partition, map[string]string{"event_id": "e1"})
	_, _ = s.Add(ctx, partition, map[string]string{"event_id": "e2"})

	require.NoError(t, s.CreateGroup(ctx, partition, "g1"))
	first, err := s.ReadGroup(ctx, partition, "g1", "c1", 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, "e1", first[0].Fields["event_id"])

	require.NoError(t, s.Ack(ctx, partition, "g1", []string{first[0].ID}))

	second, err := s.ReadGroup(ctx, partition, "g1", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, "e2", second[0].Fields["event_id"])
}
