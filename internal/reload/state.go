package reload

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// ErrDisposed — состояние уже освобождено.
var ErrDisposed = errors.New("reload state disposed")

// State — время, на которое процесс видел спецификации, и его пространства имён.
type State struct {
	signal     *Signal
	namespaces []Reloader

	mu    sync.Mutex
	since time.Time

	disposed atomic.Bool
	reloads  atomic.Int64
}

// NewState запоминает момент старта процесса.
func NewState(signal *Signal, namespaces ...Reloader) *State {
	return &State{
		signal:     signal,
		namespaces: namespaces,
		since:      signal.now().UTC(),
	}
}

// Since — отметка, с которой сравнивается хранилище.
func (s *State) Since() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.since
}

// Reloads — сколько раз состояние перезагружало пространства имён.
func (s *State) Reloads() int64 { return s.reloads.Load() }

// ReloadIfStale перезагружает пространства имён, если хранилище новее.
// Параллельные вызовы сериализуются: второй увидит уже свежую отметку.
// Отметка сдвигается только после успешной загрузки всех пространств.
func (s *State) ReloadIfStale(ctx context.Context) (bool, error) {
	if s.disposed.Load() {
		return false, ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp, stale, err := s.signal.Stale(ctx, s.since)
	if err != nil || !stale {
		return false, err
	}
	log.WithFields(log.Fields{"since": s.since, "updated_at": stamp}).Info("Specs changed, reloading")
	s.reloads.Inc()
	if err := reloadAll(ctx, s.namespaces); err != nil {
		// отметку не двигаем: следующая проверка повторит перезагрузку
		return true, err
	}
	s.since = stamp
	return true, nil
}

// ForceReload перезагружает без проверки отметки.
func (s *State) ForceReload(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrDisposed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok, stampErr := s.signal.LastUpdated(ctx)
	s.reloads.Inc()
	if err := reloadAll(ctx, s.namespaces); err != nil {
		return err
	}
	if stampErr == nil && ok && t.After(s.since) {
		s.since = t
	}
	return nil
}

// Dispose выгружает пространства имён; дальнейшие перезагрузки запрещены.
func (s *State) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ns := range s.namespaces {
		ns.Unload()
	}
}
