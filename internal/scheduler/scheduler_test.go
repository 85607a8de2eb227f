package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCronSpecConvertsWallClockTime(t *testing.T) {
	spec, err := cronSpec("09:30")
	assert.NoError(t, err)
	assert.Equal(t, "30 9 * * *", spec)
}

func TestCronSpecRejectsMalformed(t *testing.T) {
	_, err := cronSpec("not-a-time")
	assert.Error(t, err)
}

func TestCronSpecRejectsOutOfRange(t *testing.T) {
	_, err := cronSpec("25:00")
	assert.Error(t, err)
}

func TestTriggerManualRunsPipelineOnce(t *testing.T) {
	var calls int32
	run := func(ctx context.Context, categoryHint string) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	s, err := New("09:00", "UTC", run, nil)
	assert.NoError(t, err)

	ok := s.TriggerManual(context.Background(), "")
	assert.True(t, ok)
	assert.Equal(t, int32(1), calls)
}

func TestTriggerManualSuppressedWhileRunInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32

	run := func(ctx context.Context, categoryHint string) error {
		atomic.AddInt32(&calls, 1)
		close(started)
		<-release
		return nil
	}
	s, err := New("09:00", "UTC", run, nil)
	assert.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.TriggerManual(context.Background(), "")
	}()

	<-started
	ok := s.TriggerManual(context.Background(), "")
	assert.False(t, ok)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), calls)
}

func TestTriggerInvokesFailureHandlerOnError(t *testing.T) {
	var handledErr error
	run := func(ctx context.Context, categoryHint string) error {
		return errors.New("stage 1 failed")
	}
	onFailure := func(err error) { handledErr = err }

	s, err := New("09:00", "UTC", run, onFailure)
	assert.NoError(t, err)

	s.TriggerManual(context.Background(), "")
	assert.Error(t, handledErr)
}

func TestStateReflectsConfiguredPostingTimeAndTimezone(t *testing.T) {
	run := func(ctx context.Context, categoryHint string) error { return nil }
	s, err := New("09:00", "Asia/Bishkek", run, nil)
	assert.NoError(t, err)

	state := s.State()
	assert.Equal(t, "09:00", state.PostingTime)
	assert.Equal(t, "Asia/Bishkek", state.Timezone)
	assert.False(t, state.Running)
}

func TestNewRejectsInvalidTimezone(t *testing.T) {
	run := func(ctx context.Context, categoryHint string) error { return nil }
	_, err := New("09:00", "Not/A_Real_Zone", run, nil)
	assert.Error(t, err)
}
