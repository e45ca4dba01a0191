package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapgate/snapgate/pkg/blob"
	"github.com/snapgate/snapgate/pkg/browser"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_ClassAssignment(t *testing.T) {
	s := NewSupervisor(SupervisorConfig{Screenshots: 2, PDFs: 1}, NewQueue(), nil, nil, nil, discardLogger())
	assert.Equal(t, ClassScreenshot, s.classOf(0))
	assert.Equal(t, ClassScreenshot, s.classOf(1))
	assert.Equal(t, ClassPDF, s.classOf(2))
}

func TestSupervisor_ReplacesCrashedPages(t *testing.T) {
	q := NewQueue()
	store := newMemStore()

	// First task hits a poisoned page, forcing one replacement.
	var opened atomic.Int32
	poison := true
	factory := PageFactoryFunc(func(context.Context) (Page, error) {
		opened.Add(1)
		if poison {
			poison = false
			return &fakePage{navErr: browser.ErrNavigationTimeout}, nil
		}
		return &fakePage{}, nil
	})

	s := NewSupervisor(SupervisorConfig{Screenshots: 1, PDFs: 0, NavigationTimeout: time.Second},
		q, factory,
		func(string) (blob.Store, bool) { return store, true },
		nil, discardLogger())
	require.NoError(t, s.Start())
	assert.Equal(t, 1, s.Live())

	first := NewTask("b", screenshotRequest("https://a.example"), "a.jpg", 0)
	require.NoError(t, q.Push(first))
	res := <-first.Done()
	assert.False(t, res.OK)

	// The replacement worker serves the next task.
	second := NewTask("b", screenshotRequest("https://b.example"), "b.jpg", 0)
	require.NoError(t, q.Push(second))
	res = <-second.Done()
	assert.True(t, res.OK)

	s.Stop()
	assert.Equal(t, 0, s.Live())
	assert.GreaterOrEqual(t, opened.Load(), int32(2))
}

// A dead worker whose replacement cannot be spawned (browser gone)
// must surface on Fatal instead of silently shrinking the pool.
func TestSupervisor_RespawnExhaustionIsFatal(t *testing.T) {
	q := NewQueue()
	store := newMemStore()

	browserUp := true
	factory := PageFactoryFunc(func(context.Context) (Page, error) {
		if browserUp {
			browserUp = false
			return &fakePage{navErr: browser.ErrNavigationTimeout}, nil
		}
		return nil, errors.New("browser process exited")
	})

	s := NewSupervisor(SupervisorConfig{Screenshots: 1, NavigationTimeout: time.Second},
		q, factory,
		func(string) (blob.Store, bool) { return store, true },
		nil, discardLogger())
	s.newBackOff = func() backoff.BackOff { return &backoff.StopBackOff{} }
	require.NoError(t, s.Start())

	task := NewTask("b", screenshotRequest("https://a.example"), "a.jpg", 0)
	require.NoError(t, q.Push(task))
	res := <-task.Done()
	assert.False(t, res.OK)

	select {
	case err := <-s.Fatal():
		assert.ErrorContains(t, err, "browser process exited")
	case <-time.After(2 * time.Second):
		t.Fatal("respawn exhaustion did not surface on Fatal")
	}

	s.Stop()
	assert.Equal(t, 0, s.Live())
}

func TestSupervisor_StopDrainsQueue(t *testing.T) {
	q := NewQueue()
	store := newMemStore()
	factory := PageFactoryFunc(func(context.Context) (Page, error) {
		return &fakePage{}, nil
	})
	s := NewSupervisor(SupervisorConfig{Screenshots: 2, NavigationTimeout: time.Second},
		q, factory,
		func(string) (blob.Store, bool) { return store, true },
		nil, discardLogger())
	require.NoError(t, s.Start())

	tasks := make([]*Task, 5)
	for i := range tasks {
		tasks[i] = NewTask("b", screenshotRequest("https://example.com"), "same.jpg", 0)
		require.NoError(t, q.Push(tasks[i]))
	}
	s.Stop()

	for _, task := range tasks {
		res := <-task.Done()
		assert.True(t, res.OK)
	}
	assert.ErrorIs(t, q.Push(NewTask("b", Request{}, "", 0)), ErrQueueClosed)
}
