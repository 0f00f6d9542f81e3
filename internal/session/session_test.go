package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/screenshot-api/internal/pipeline"
	"github.com/maauso/screenshot-api/internal/session/id"
	"github.com/maauso/screenshot-api/internal/video"
)

type fakeTemp struct {
	mu      sync.Mutex
	cleaned []string
	err     error
}

func (f *fakeTemp) SaveTemp(_ context.Context, name string, _ io.Reader) (string, error) {
	return "/tmp/" + name, nil
}

func (f *fakeTemp) CleanupTemp(_ context.Context, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, paths...)
	return f.err
}

type countingHooks struct {
	opened, closed int
}

func (h *countingHooks) SessionOpened() { h.opened++ }
func (h *countingHooks) SessionClosed() { h.closed++ }

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newTestManager(t *testing.T, ttl time.Duration) (*Manager, *fakeTemp, *countingHooks, *clock) {
	t.Helper()
	temp := &fakeTemp{}
	hooks := &countingHooks{}
	clk := &clock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	factory := func(string) *pipeline.Controller {
		return pipeline.NewController(nil, nil, nil, nil)
	}
	m := NewManager(factory, temp, ttl, nil, WithHooks(hooks), WithClock(clk.Now))
	return m, temp, hooks, clk
}

func TestManager_CreateAndGet(t *testing.T) {
	m, _, hooks, _ := newTestManager(t, time.Minute)

	s := m.Create()
	require.NotNil(t, s.Controller)
	assert.True(t, id.Valid(s.ID))
	assert.Equal(t, pipeline.PhaseIdle, s.Controller.State().Phase)
	assert.Equal(t, 1, hooks.opened)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = m.Get("sess-0-000000000000")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_List(t *testing.T) {
	m, _, _, clk := newTestManager(t, time.Minute)

	first := m.Create()
	clk.now = clk.now.Add(time.Second)
	second := m.Create()

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)
}

func TestManager_Delete(t *testing.T) {
	m, temp, hooks, _ := newTestManager(t, time.Minute)

	s := m.Create()
	s.Track("/tmp/a.mp4")
	s.Track("/tmp/b.mp4")

	require.NoError(t, m.Delete(context.Background(), s.ID))
	assert.Equal(t, []string{"/tmp/a.mp4", "/tmp/b.mp4"}, temp.cleaned)
	assert.Equal(t, 1, hooks.closed)

	_, err := s.Controller.SelectFile(clip())
	require.ErrorIs(t, err, pipeline.ErrClosed)

	_, err = m.Get(s.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(context.Background(), s.ID), ErrSessionNotFound)
}

func TestManager_Delete_CleanupError(t *testing.T) {
	m, temp, _, _ := newTestManager(t, time.Minute)
	temp.err = errors.New("permission denied")

	s := m.Create()
	s.Track("/tmp/a.mp4")

	err := m.Delete(context.Background(), s.ID)
	require.Error(t, err)
	_, err = m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManager_Reap(t *testing.T) {
	m, temp, hooks, clk := newTestManager(t, time.Minute)

	stale := m.Create()
	stale.Track("/tmp/stale.mp4")
	clk.now = clk.now.Add(45 * time.Second)
	fresh := m.Create()

	clk.now = clk.now.Add(30 * time.Second)
	assert.Equal(t, 1, m.Reap(context.Background()))

	_, err := m.Get(stale.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/stale.mp4"}, temp.cleaned)
	assert.Equal(t, 1, hooks.closed)
}

func TestManager_Reap_GetKeepsAlive(t *testing.T) {
	m, _, _, clk := newTestManager(t, time.Minute)

	s := m.Create()
	clk.now = clk.now.Add(50 * time.Second)
	_, err := m.Get(s.ID)
	require.NoError(t, err)

	clk.now = clk.now.Add(50 * time.Second)
	assert.Equal(t, 0, m.Reap(context.Background()))
	assert.Len(t, m.List(), 1)
}

func TestManager_Reap_Disabled(t *testing.T) {
	m, _, _, clk := newTestManager(t, 0)

	m.Create()
	clk.now = clk.now.Add(24 * time.Hour)
	assert.Equal(t, 0, m.Reap(context.Background()))
	assert.Len(t, m.List(), 1)
}

func TestManager_Run_StopsOnCancel(t *testing.T) {
	m, _, _, _ := newTestManager(t, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestManager_Close(t *testing.T) {
	m, temp, hooks, _ := newTestManager(t, time.Minute)

	a := m.Create()
	a.Track("/tmp/a.mp4")
	m.Create()

	m.Close(context.Background())
	assert.Empty(t, m.List())
	assert.Equal(t, 2, hooks.closed)
	assert.Equal(t, []string{"/tmp/a.mp4"}, temp.cleaned)
}

func clip() video.Source {
	return video.Source{Name: "clip.mp4", Size: 1024, MIMEType: "video/mp4", Path: "/tmp/clip.mp4"}
}
