package guest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// slowPersistence blocks every Save until release is closed.
type slowPersistence struct {
	release chan struct{}

	mu    sync.Mutex
	saved []State
	err   error
}

func (s *slowPersistence) Load(context.Context) (State, error) {
	return NewState(DefaultFreeQuestionLimit), nil
}

func (s *slowPersistence) Save(_ context.Context, st State) error {
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, st)
	return s.err
}

func (s *slowPersistence) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func (s *slowPersistence) last() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[len(s.saved)-1]
}

func TestWriteBehind_SaveDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &slowPersistence{release: make(chan struct{})}
	wb := NewWriteBehind(next, time.Second, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 3; i++ {
			s := NewState(2)
			s.PapersViewed = []int64{int64(i)}
			assert.NoError(t, wb.Save(context.Background(), s))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Save blocked on the underlying persistence")
	}

	close(next.release)
	require.NoError(t, wb.Close())

	assert.GreaterOrEqual(t, next.count(), 1)
	assert.Equal(t, []int64{3}, next.last().PapersViewed)
}

func TestWriteBehind_FlushWritesLatest(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &slowPersistence{}
	wb := NewWriteBehind(next, time.Second, nil)
	defer wb.Close()

	s := NewState(2)
	s.LastDismissedAtCount = 4
	require.NoError(t, wb.Save(context.Background(), s))
	require.NoError(t, wb.Flush(context.Background()))

	assert.Equal(t, 4, next.last().LastDismissedAtCount)
}

func TestWriteBehind_ReportsErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &slowPersistence{err: errors.New("redis down")}
	var mu sync.Mutex
	var reported []error
	wb := NewWriteBehind(next, time.Second, func(err error) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, err)
	})

	require.NoError(t, wb.Save(context.Background(), NewState(2)))
	require.NoError(t, wb.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.EqualError(t, reported[0], "redis down")
}

func TestWriteBehind_SaveAfterCloseIsSynchronous(t *testing.T) {
	defer goleak.VerifyNone(t)

	next := &slowPersistence{}
	wb := NewWriteBehind(next, time.Second, nil)
	require.NoError(t, wb.Close())
	require.NoError(t, wb.Close())

	require.NoError(t, wb.Save(context.Background(), NewState(2)))
	assert.Equal(t, 1, next.count())
}

func TestTracker_CloseDrainsWriteBehind(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	kv := newMemKV()
	wb := NewWriteBehind(NewSnapshotStore(kv, "", "guest-1", 2), time.Second, nil)
	tr := NewTracker(ctx, "guest-1", wb)

	tr.RecordAnswer(ctx, answer(1))
	tr.AddPaperViewed(ctx, 8)
	require.NoError(t, tr.Close())

	reloaded := newTestTracker(t, kv)
	assert.Equal(t, 1, reloaded.AnswerCount())
	assert.Equal(t, []int64{8}, reloaded.PapersViewed())
}
