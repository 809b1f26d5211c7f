package sleep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/tkgengine/pkg/types"
)

func TestNextFireDelayRollsToTomorrowWhenPassed(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	delay := nextFireDelay(now, 9, 0)
	assert.InDelta(t, (22*time.Hour+30*time.Minute).Seconds(), delay.Seconds(), 1)
}

func TestNextFireDelayUsesTodayWhenUpcoming(t *testing.T) {
	now := time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC)
	delay := nextFireDelay(now, 12, 0)
	assert.InDelta(t, (1*time.Hour+30*time.Minute).Seconds(), delay.Seconds(), 1)
}

func TestSchedulerStartStopRunning(t *testing.T) {
	g := newFakeGraph()
	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, testLogger())
	sched := NewScheduler(eng)

	assert.False(t, sched.Running())
	sched.Start(types.AutoSleepConfig{Hour: 23, Minute: 59, Target: types.SleepTarget{GroupID: "g1"}})
	assert.True(t, sched.Running())
	sched.Stop()
	assert.False(t, sched.Running())
}

func TestSchedulerFireInvokesSleepAndOnComplete(t *testing.T) {
	g := newFakeGraph()
	g.entities["e1"] = &types.EntityNode{Uuid: "e1", GroupID: "g1", Name: "Alice", CreatedAt: time.Now()}

	eng := New(g, fakeEmbedder{}, &fakeLLM{}, nil, testLogger())
	sched := NewScheduler(eng)

	done := make(chan types.SleepReport, 1)
	cfg := types.AutoSleepConfig{
		Target: types.SleepTarget{GroupID: "g1"},
		OnComplete: func(r types.SleepReport) {
			done <- r
		},
	}

	sched.fire(context.Background(), cfg)

	select {
	case r := <-done:
		require.Equal(t, "g1", r.GroupID)
	case <-time.After(time.Second):
		t.Fatal("fire did not invoke OnComplete in time")
	}
	sched.Stop()
}

func TestSchedulerFireRecoversPanicAndCallsOnError(t *testing.T) {
	sched := &Scheduler{engine: nil, running: true}
	errCh := make(chan error, 1)
	cfg := types.AutoSleepConfig{
		OnError: func(err error) {
			errCh <- err
		},
	}

	// engine is nil, so calling Sleep on it panics; fire must recover and
	// report via OnError instead of crashing the scheduler goroutine.
	sched.fire(context.Background(), cfg)

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("fire did not report the panic in time")
	}
}
