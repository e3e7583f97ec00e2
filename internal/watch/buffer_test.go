package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tonimelisma/replicator/internal/syncproc"
)

func TestCoalescerDeduplicatesPerPath(t *testing.T) {
	c := newCoalescer(testLogger())

	c.add(syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: "/a"})
	c.add(syncproc.FileEvent{Type: syncproc.EventModified, SrcPath: "/a"})
	c.add(syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: "/b"})

	batch := c.flush()
	require.Len(t, batch, 2)
	require.Equal(t, syncproc.EventModified, batch[0].Type)
}

func TestCoalescerFlushDebouncedCoalescesBurst(t *testing.T) {
	c := newCoalescer(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := c.flushDebounced(ctx, 30*time.Millisecond)

	c.add(syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: "/a"})
	time.Sleep(5 * time.Millisecond)
	c.add(syncproc.FileEvent{Type: syncproc.EventModified, SrcPath: "/a"})

	select {
	case batch := <-batches:
		require.Len(t, batch, 1)
		require.Equal(t, syncproc.EventModified, batch[0].Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for debounced batch")
	}
}

func TestCoalescerFlushDebouncedDrainsOnCancel(t *testing.T) {
	c := newCoalescer(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	batches := c.flushDebounced(ctx, time.Hour)

	c.add(syncproc.FileEvent{Type: syncproc.EventCreated, SrcPath: "/a"})
	cancel()

	select {
	case batch, ok := <-batches:
		require.True(t, ok)
		require.Len(t, batch, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for drain on cancel")
	}

	_, ok := <-batches
	require.False(t, ok)
}
