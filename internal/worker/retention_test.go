package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type mockPruner struct {
	olderThan time.Duration
	calls     int
	err       error
}

func (m *mockPruner) PruneWindows(_ context.Context, olderThan time.Duration) (int64, error) {
	m.calls++
	m.olderThan = olderThan
	return 3, m.err
}

func TestRetentionSweeper_Sweep(t *testing.T) {
	pruner := &mockPruner{}
	s := NewRetentionSweeper(pruner, "@hourly", 48*time.Hour)

	s.Sweep(context.Background())
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, 48*time.Hour, pruner.olderThan)

	pruner.err = errors.New("statement timeout")
	assert.NotPanics(t, func() { s.Sweep(context.Background()) })
}

func TestRetentionSweeper_InvalidSchedule(t *testing.T) {
	s := NewRetentionSweeper(&mockPruner{}, "every tuesday-ish", time.Hour)

	err := s.Start(context.Background())
	assert.Error(t, err)
}

func TestRetentionSweeper_StartStop(t *testing.T) {
	s := NewRetentionSweeper(&mockPruner{}, "@every 1h", time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
	assert.NoError(t, s.Stop(context.Background()))
}
