package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pratik-mahalle/stackdrift/internal/domain/drift"
	"github.com/pratik-mahalle/stackdrift/internal/services"
	"github.com/pratik-mahalle/stackdrift/internal/testutil"
)

type stubDetector struct {
	mu    sync.Mutex
	errs  []error
	calls int
	hosts []string
}

func (d *stubDetector) Detect(ctx context.Context, hosts []string) (*services.Detection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.hosts = hosts
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &services.Detection{Result: &drift.Result{RunID: "run-" + string(rune('0'+d.calls)), EntitiesWithDrift: 1}}, nil
}

func TestNewDriftScanner_InvalidSchedule(t *testing.T) {
	_, err := NewDriftScanner(&stubDetector{}, nil, "every now and then", testutil.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron schedule")
}

func TestDriftScanner_Next(t *testing.T) {
	s, err := NewDriftScanner(&stubDetector{}, nil, "@every 30m", testutil.NewTestLogger())
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(30*time.Minute), s.Next(now))

	s, err = NewDriftScanner(&stubDetector{}, nil, "0 3 * * *", testutil.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC), s.Next(now))
}

func TestDriftScanner_Scan(t *testing.T) {
	det := &stubDetector{errs: []error{errors.New("ssh: handshake failed"), errors.New("ssh: handshake failed"), nil}}
	s, err := NewDriftScanner(det, []string{"nas"}, "@hourly", testutil.NewTestLogger())
	require.NoError(t, err)

	var handled []string
	s.OnResult(func(ctx context.Context, d *services.Detection) {
		handled = append(handled, d.Result.RunID)
	})

	s.Scan(context.Background())
	s.Scan(context.Background())
	st := s.Status()
	assert.Equal(t, 2, st.Scans)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Equal(t, "ssh: handshake failed", st.LastError)
	assert.Empty(t, handled)

	s.Scan(context.Background())
	st = s.Status()
	assert.Equal(t, 3, st.Scans)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
	assert.Equal(t, "run-3", st.LastRunID)
	assert.Equal(t, []string{"run-3"}, handled)
	assert.Equal(t, []string{"nas"}, det.hosts)
}

func TestDriftScanner_RunStopsOnCancel(t *testing.T) {
	det := &stubDetector{}
	s, err := NewDriftScanner(det, []string{"nas"}, "@hourly", testutil.NewTestLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.OnResult(func(context.Context, *services.Detection) { cancel() })

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scanner did not stop after cancellation")
	}
	assert.Equal(t, 1, det.calls)
}
