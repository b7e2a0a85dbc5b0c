package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/panosync/internal/cloud"
)

func newTestPoller(ns *noSleep) *Poller {
	p := NewPoller(testLogger(), nil)
	p.sleepFunc = ns.sleep

	return p
}

func TestAwaitCompletion_DrainsQueue(t *testing.T) {
	fc, client := newFake(t)
	fc.SetTaskCounts(3, 1, 0)

	ns := &noSleep{}
	calls := 0

	err := newTestPoller(ns).AwaitCompletion(context.Background(), login(t, client), func() { calls++ })
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 3, fc.Counts().TaskPolls)
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval}, ns.calls)
}

func TestAwaitCompletion_NilArguments(t *testing.T) {
	fc, client := newFake(t)
	p := newTestPoller(&noSleep{})

	require.NoError(t, p.AwaitCompletion(context.Background(), nil, func() { t.Fatal("called") }))
	require.NoError(t, p.AwaitCompletion(context.Background(), login(t, client), nil))
	assert.Zero(t, fc.Counts().TaskPolls)
}

func TestAwaitCompletion_RetriesAfterErrors(t *testing.T) {
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/login" {
			fmt.Fprint(w, `{"username":"camera"}`)
			return
		}

		if polls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}

		fmt.Fprint(w, `{"count":0}`)
	}))
	defer srv.Close()

	session, err := cloud.NewClient(srv.URL, nil, testLogger()).Login(context.Background(), fakeCreds())
	require.NoError(t, err)

	ns := &noSleep{}
	p := newTestPoller(ns)
	p.Interval = time.Second

	calls := 0
	require.NoError(t, p.AwaitCompletion(context.Background(), session, func() { calls++ }))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int32(2), polls.Load())
	assert.Equal(t, []time.Duration{time.Second}, ns.calls)
}

func TestAwaitCompletion_MaxAttempts(t *testing.T) {
	fc, client := newFake(t)
	fc.SetTaskCounts(5)

	ns := &noSleep{}
	p := newTestPoller(ns)
	p.MaxAttempts = 3

	err := p.AwaitCompletion(context.Background(), login(t, client), func() { t.Fatal("called") })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPollAttemptsExhausted)
	assert.Equal(t, 3, fc.Counts().TaskPolls)
	assert.Equal(t, 2, ns.count())
}

func TestAwaitCompletion_Canceled(t *testing.T) {
	fc, client := newFake(t)
	fc.SetTaskCounts(1)

	session := login(t, client)

	ctx, cancel := context.WithCancel(context.Background())

	p := NewPoller(testLogger(), nil)
	p.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := p.AwaitCompletion(ctx, session, func() { t.Fatal("called") })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
