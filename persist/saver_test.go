package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type journal struct {
	mu    sync.Mutex
	lines []string
}

func (j *journal) add(s string) {
	j.mu.Lock()
	j.lines = append(j.lines, s)
	j.mu.Unlock()
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.lines...)
}

func newTestSaver(t *testing.T, workers int) *Saver {
	t.Helper()
	s, err := NewSaver(workers, time.Second)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSameKeyRunsInOrder(t *testing.T) {
	s := newTestSaver(t, 4)
	var j journal
	for i := 0; i < 5; i++ {
		i := i
		s.Go("save", "P001", func(context.Context) error {
			if i == 0 {
				time.Sleep(50 * time.Millisecond)
			}
			j.add(fmt.Sprint(i))
			return nil
		})
	}
	s.Flush()
	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, j.all())
}

func TestOtherKeysDoNotWait(t *testing.T) {
	s := newTestSaver(t, 4)
	var j journal
	release := make(chan struct{})
	s.Go("save", "slow", func(context.Context) error {
		<-release
		j.add("slow")
		return nil
	})
	done := make(chan struct{})
	s.Go("save", "fast", func(context.Context) error {
		j.add("fast")
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("independent key blocked behind a slow one")
	}
	close(release)
	s.Flush()
	assert.Equal(t, []string{"fast", "slow"}, j.all())
}

func TestBarrierSeparatesWrites(t *testing.T) {
	s := newTestSaver(t, 4)
	var j journal
	s.Go("save", "a", func(context.Context) error {
		time.Sleep(30 * time.Millisecond)
		j.add("a1")
		return nil
	})
	s.GoBarrier("delete_all", func(context.Context) error {
		j.add("all")
		return nil
	})
	s.Go("save", "b", func(context.Context) error {
		j.add("b1")
		return nil
	})
	s.Flush()
	assert.Equal(t, []string{"a1", "all", "b1"}, j.all())
}

func TestBarrierReturnsErrorWithoutHook(t *testing.T) {
	s := newTestSaver(t, 1)
	hooked := make(chan *StorageError, 1)
	s.OnError(func(se *StorageError) { hooked <- se })

	boom := errors.New("boom")
	err := s.Barrier(context.Background(), "save_all", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	s.Go("save", "P001", func(context.Context) error { return boom })
	s.Flush()
	require.Len(t, hooked, 1)
	se := <-hooked
	assert.Equal(t, "save", se.Op)
	assert.Equal(t, "P001", se.Key)
}

func TestNilSaverRunsBarrierInline(t *testing.T) {
	var s *Saver
	called := false
	require.NoError(t, s.Barrier(context.Background(), "save_all", func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
	s.Go("save", "x", func(context.Context) error { t.Fatal("nil saver ran a write"); return nil })
	s.Flush()
}
