package reload_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"dynmodels/internal/reload"
	"dynmodels/internal/store"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNamespace struct {
	mu      sync.Mutex
	name    string
	events  *[]string
	loadErr error
}

func (f *fakeNamespace) Name() string { return f.name }

func (f *fakeNamespace) Unload() {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.events = append(*f.events, "unload "+f.name)
}

func (f *fakeNamespace) Load(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*f.events = append(*f.events, "load "+f.name)
	return f.loadErr
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestMarkUpdated(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))

	_, ok, err := sig.LastUpdated(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, sig.MarkUpdated(ctx))
	got, ok, err := sig.LastUpdated(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c.t, got)

	c.t = c.t.Add(time.Hour)
	require.NoError(t, sig.MarkUpdated(ctx))
	got, _, _ = sig.LastUpdated(ctx)
	assert.Equal(t, c.t, got)
}

func TestCheckAndReload(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	models := &fakeNamespace{name: "models", events: &events}
	api := &fakeNamespace{name: "api", events: &events}

	// отметки нет — перезагружать нечего
	reloaded, err := sig.CheckAndReload(ctx, c.t, models, api)
	require.NoError(t, err)
	assert.False(t, reloaded)

	require.NoError(t, sig.MarkUpdated(ctx))
	reloaded, err = sig.CheckAndReload(ctx, c.t, models, api)
	require.NoError(t, err)
	assert.False(t, reloaded, "stamp equal to since is not stale")

	reloaded, err = sig.CheckAndReload(ctx, c.t.Add(-time.Second), models, api)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, []string{"unload models", "unload api", "load models", "load api"}, events)
}

func TestStateReloadIfStale(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	ns := &fakeNamespace{name: "models", events: &events}

	state := reload.NewState(sig, ns)
	assert.Equal(t, c.t, state.Since())

	reloaded, err := state.ReloadIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)

	c.t = c.t.Add(time.Minute)
	require.NoError(t, sig.MarkUpdated(ctx))

	reloaded, err = state.ReloadIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, c.t, state.Since())
	assert.Equal(t, int64(1), state.Reloads())

	// второй раз та же отметка уже не устаревшая
	reloaded, err = state.ReloadIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)
	assert.Equal(t, []string{"unload models", "load models"}, events)
}

func TestStateReportsLoadErrors(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	boom := errors.New("store down")
	state := reload.NewState(sig, &fakeNamespace{name: "models", events: &events, loadErr: boom})

	c.t = c.t.Add(time.Second)
	require.NoError(t, sig.MarkUpdated(ctx))

	reloaded, err := state.ReloadIfStale(ctx)
	assert.True(t, reloaded)
	assert.True(t, errors.Is(err, boom))
}

func TestStateRetriesAfterFailedLoad(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	ns := &fakeNamespace{name: "models", events: &events, loadErr: errors.New("store unavailable")}
	state := reload.NewState(sig, ns)
	start := state.Since()

	c.t = c.t.Add(time.Second)
	require.NoError(t, sig.MarkUpdated(ctx))

	reloaded, err := state.ReloadIfStale(ctx)
	assert.True(t, reloaded)
	assert.Error(t, err)
	assert.Equal(t, start, state.Since())

	// хранилище ожило: та же отметка всё ещё считается устаревшей
	ns.mu.Lock()
	ns.loadErr = nil
	ns.mu.Unlock()
	reloaded, err = state.ReloadIfStale(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, c.t, state.Since())
	assert.Equal(t, []string{"unload models", "load models", "unload models", "load models"}, events)

	reloaded, err = state.ReloadIfStale(ctx)
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestForceReloadKeepsSinceOnFailure(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	ns := &fakeNamespace{name: "models", events: &events, loadErr: errors.New("store unavailable")}
	state := reload.NewState(sig, ns)
	start := state.Since()

	c.t = c.t.Add(time.Second)
	require.NoError(t, sig.MarkUpdated(ctx))

	assert.Error(t, state.ForceReload(ctx))
	assert.Equal(t, start, state.Since())

	reloaded, err := state.ReloadIfStale(ctx)
	assert.True(t, reloaded)
	assert.Error(t, err)
}

func TestStateDispose(t *testing.T) {
	c := &clock{t: time.Now()}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	state := reload.NewState(sig, &fakeNamespace{name: "models", events: &events})

	state.Dispose()
	state.Dispose()
	assert.Equal(t, []string{"unload models"}, events)

	_, err := state.ReloadIfStale(context.Background())
	assert.True(t, errors.Is(err, reload.ErrDisposed))
	assert.True(t, errors.Is(state.ForceReload(context.Background()), reload.ErrDisposed))
}

func TestStateConcurrentReloadsOnce(t *testing.T) {
	ctx := context.Background()
	c := &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	sig := reload.NewSignal(store.NewMemory().Stamps(), reload.WithClock(c.now))
	var events []string
	state := reload.NewState(sig, &fakeNamespace{name: "models", events: &events})

	c.t = c.t.Add(time.Second)
	require.NoError(t, sig.MarkUpdated(ctx))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = state.ReloadIfStale(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), state.Reloads())
}
