package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counter returns an invoker yielding 1, 2, 3, ... and the call count.
func counter() (func(context.Context) (int, error), *atomic.Int32) {
	var calls atomic.Int32
	return func(context.Context) (int, error) {
		return int(calls.Add(1)), nil
	}, &calls
}

func TestPoll_SucceedsOnThirdAttempt(t *testing.T) {
	invoke, calls := counter()

	start := time.Now()
	v, err := Poll(context.Background(), invoke, func(n int) bool { return n == 3 }, 10*time.Millisecond, 5)
	require.NoError(t, err)

	assert.Equal(t, 3, v)
	assert.Equal(t, int32(3), calls.Load())
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestPoll_ExhaustsAttempts(t *testing.T) {
	invoke, calls := counter()

	_, err := Poll(context.Background(), invoke, func(int) bool { return false }, time.Millisecond, 3)
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrTimeoutExceeded)
	var te *TimeoutError[int]
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
	assert.Equal(t, 3, te.Last)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoll_SingleAttemptNoWait(t *testing.T) {
	invoke, calls := counter()

	start := time.Now()
	_, err := Poll(context.Background(), invoke, func(int) bool { return false }, time.Hour, 1)
	assert.ErrorIs(t, err, ErrTimeoutExceeded)
	assert.Equal(t, int32(1), calls.Load())
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoll_InvocationErrorStopsImmediately(t *testing.T) {
	boom := errors.New("boom")
	var calls atomic.Int32
	invoke := func(context.Context) (int, error) {
		if calls.Add(1) == 2 {
			return 0, boom
		}
		return 0, nil
	}

	_, err := Poll(context.Background(), invoke, func(int) bool { return false }, time.Millisecond, 10)
	require.Error(t, err)

	var ie *InvocationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 2, ie.Attempt)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeoutExceeded)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPoll_RejectsInvalidAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		invoke, calls := counter()
		_, err := Poll(context.Background(), invoke, func(int) bool { return true }, time.Millisecond, n)
		assert.ErrorIs(t, err, ErrInvalidAttempts)
		assert.Zero(t, calls.Load())
	}
}

func TestPoll_ContextCancelledDuringWait(t *testing.T) {
	invoke, calls := counter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Poll(ctx, invoke, func(int) bool { return false }, time.Hour, 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGo_DeliversOnce(t *testing.T) {
	invoke, _ := counter()

	ch := Go(context.Background(), invoke, func(n int) bool { return n >= 2 }, time.Millisecond, 5)

	select {
	case res, ok := <-ch:
		require.True(t, ok)
		require.NoError(t, res.Err)
		assert.Equal(t, 2, res.Value)
	case <-time.After(time.Second):
		t.Fatal("poll did not complete")
	}

	_, ok := <-ch
	assert.False(t, ok, "channel closes after the single result")
}

func TestGo_ConcurrentPollsAreIndependent(t *testing.T) {
	a, callsA := counter()
	b, callsB := counter()

	chA := Go(context.Background(), a, func(n int) bool { return n == 4 }, time.Millisecond, 10)
	chB := Go(context.Background(), b, func(int) bool { return false }, time.Millisecond, 2)

	resA := <-chA
	resB := <-chB
	require.NoError(t, resA.Err)
	assert.Equal(t, 4, resA.Value)
	assert.ErrorIs(t, resB.Err, ErrTimeoutExceeded)
	assert.Equal(t, int32(4), callsA.Load())
	assert.Equal(t, int32(2), callsB.Load())
}
