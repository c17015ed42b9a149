package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/models"
)

func newTestEventLog(t *testing.T) (*EventLog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := OpenEventLog(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log, path
}

func TestEventLog_Append(t *testing.T) {
	t.Run("assigns monotonic ids and dense per-stream seqs", func(t *testing.T) {
		log, _ := newTestEventLog(t)

		a, err := log.Append("t1", NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "a"}})
		require.NoError(t, err)
		b, err := log.Append("t2", NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "b"}})
		require.NoError(t, err)
		c, err := log.Append("t1", NewEvent{Type: models.EventTaskStarted, Payload: models.TaskStartedPayload{}})
		require.NoError(t, err)

		assert.Equal(t, uint64(1), a[0].ID)
		assert.Equal(t, uint64(2), b[0].ID)
		assert.Equal(t, uint64(3), c[0].ID)
		assert.Equal(t, uint32(1), a[0].Seq)
		assert.Equal(t, uint32(1), b[0].Seq)
		assert.Equal(t, uint32(2), c[0].Seq)
	})

	t.Run("batch append is contiguous", func(t *testing.T) {
		log, _ := newTestEventLog(t)

		stored, err := log.Append("t1",
			NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "x"}},
			NewEvent{Type: models.EventTaskStarted, Payload: models.TaskStartedPayload{}},
		)
		require.NoError(t, err)
		require.Len(t, stored, 2)
		assert.Equal(t, stored[0].ID+1, stored[1].ID)
		assert.Equal(t, stored[0].Seq+1, stored[1].Seq)
	})

	t.Run("rejects empty stream id", func(t *testing.T) {
		log, _ := newTestEventLog(t)
		_, err := log.Append("", NewEvent{Type: models.EventTaskCreated})
		require.Error(t, err)
	})

	t.Run("concurrent appenders keep ids strictly increasing", func(t *testing.T) {
		log, _ := newTestEventLog(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					_, err := log.Append(fmt.Sprintf("t%d", n),
						NewEvent{Type: models.EventTaskInstructionAdded, Payload: models.TaskInstructionAddedPayload{Text: "x"}})
					assert.NoError(t, err)
				}
			}(i)
		}
		wg.Wait()

		all := log.ReadAll(0)
		require.Len(t, all, 200)
		for i := 1; i < len(all); i++ {
			assert.Greater(t, all[i].ID, all[i-1].ID)
		}
		// Per-stream seqs are dense from 1.
		for i := 0; i < 10; i++ {
			stream := log.ReadStream(fmt.Sprintf("t%d", i), 0)
			require.Len(t, stream, 20)
			for j, evt := range stream {
				assert.Equal(t, uint32(j+1), evt.Seq)
			}
		}
	})
}

func TestEventLog_Reload(t *testing.T) {
	t.Run("survives reopen with counters intact", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		log, err := OpenEventLog(path)
		require.NoError(t, err)
		_, err = log.Append("t1", NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "a"}})
		require.NoError(t, err)
		require.NoError(t, log.Close())

		log2, err := OpenEventLog(path)
		require.NoError(t, err)
		defer func() { _ = log2.Close() }()

		stored, err := log2.Append("t1", NewEvent{Type: models.EventTaskStarted, Payload: models.TaskStartedPayload{}})
		require.NoError(t, err)
		assert.Equal(t, uint64(2), stored[0].ID)
		assert.Equal(t, uint32(2), stored[0].Seq)
	})

	t.Run("skips corrupted lines without aborting", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "events.jsonl")
		log, err := OpenEventLog(path)
		require.NoError(t, err)
		_, err = log.Append("t1", NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "a"}})
		require.NoError(t, err)
		require.NoError(t, log.Close())

		// Simulate a torn write at the tail.
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
		require.NoError(t, err)
		_, err = f.WriteString(`{"id":2,"streamId":"t1","se`)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		log2, err := OpenEventLog(path)
		require.NoError(t, err)
		defer func() { _ = log2.Close() }()
		assert.Len(t, log2.ReadAll(0), 1)
	})
}

func TestEventLog_Reads(t *testing.T) {
	log, _ := newTestEventLog(t)
	for i := 0; i < 5; i++ {
		_, err := log.Append("t1", NewEvent{Type: models.EventTaskInstructionAdded, Payload: models.TaskInstructionAddedPayload{Text: "x"}})
		require.NoError(t, err)
	}

	t.Run("ReadAll honors fromIdExclusive", func(t *testing.T) {
		assert.Len(t, log.ReadAll(0), 5)
		assert.Len(t, log.ReadAll(3), 2)
		assert.Empty(t, log.ReadAll(5))
	})

	t.Run("ReadStream honors fromSeq", func(t *testing.T) {
		assert.Len(t, log.ReadStream("t1", 4), 2)
		assert.Empty(t, log.ReadStream("missing", 0))
	})

	t.Run("ReadByID", func(t *testing.T) {
		evt, ok := log.ReadByID(3)
		require.True(t, ok)
		assert.Equal(t, uint64(3), evt.ID)
		_, ok = log.ReadByID(99)
		assert.False(t, ok)
	})
}

func TestEventLog_Subscribe(t *testing.T) {
	t.Run("delivers in append order to late joiner without replay", func(t *testing.T) {
		log, _ := newTestEventLog(t)
		_, err := log.Append("t1", NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "before"}})
		require.NoError(t, err)

		var mu sync.Mutex
		var got []uint64
		done := make(chan struct{})
		cancel := log.Subscribe(func(evt models.StoredEvent) {
			mu.Lock()
			got = append(got, evt.ID)
			if len(got) == 3 {
				close(done)
			}
			mu.Unlock()
		})
		defer cancel()

		for i := 0; i < 3; i++ {
			_, err := log.Append("t1", NewEvent{Type: models.EventTaskInstructionAdded, Payload: models.TaskInstructionAddedPayload{Text: "x"}})
			require.NoError(t, err)
		}

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not receive events")
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []uint64{2, 3, 4}, got)
	})

	t.Run("slow subscriber does not block appender", func(t *testing.T) {
		log, _ := newTestEventLog(t)
		release := make(chan struct{})
		cancel := log.Subscribe(func(models.StoredEvent) { <-release })
		defer cancel()
		defer close(release)

		start := time.Now()
		for i := 0; i < 10; i++ {
			_, err := log.Append("t1", NewEvent{Type: models.EventTaskInstructionAdded, Payload: models.TaskInstructionAddedPayload{Text: "x"}})
			require.NoError(t, err)
		}
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("subscriber may append without deadlock", func(t *testing.T) {
		log, _ := newTestEventLog(t)
		done := make(chan struct{})
		var once sync.Once
		cancel := log.Subscribe(func(evt models.StoredEvent) {
			if evt.Type == models.EventTaskCreated {
				_, err := log.Append(evt.StreamID, NewEvent{Type: models.EventTaskStarted, Payload: models.TaskStartedPayload{}})
				assert.NoError(t, err)
				once.Do(func() { close(done) })
			}
		})
		defer cancel()

		_, err := log.Append("t1", NewEvent{Type: models.EventTaskCreated, Payload: models.TaskCreatedPayload{Title: "a"}})
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("reentrant append deadlocked")
		}
	})
}
