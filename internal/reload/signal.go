// Package reload — отметка "спецификации изменились" в хранилище и
// перезагрузка пространств имён, если процесс видел более старые данные.
//
// Проверка best-effort: два процесса могут одновременно увидеть устаревание
// и оба перезагрузиться, это безопасно.
package reload

import (
	"context"
	"time"

	"dynmodels/internal/store"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// StampID — ключ единственной записи "last updated".
const StampID = store.UpdatedCollection

// Reloader — то, что умеет выгрузиться и загрузиться заново.
type Reloader interface {
	Name() string
	Unload()
	Load(ctx context.Context) error
}

// Signal читает и пишет отметку обновления.
type Signal struct {
	stamps store.Stamps
	now    func() time.Time
}

type Option func(*Signal)

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(s *Signal) { s.now = now }
}

func NewSignal(stamps store.Stamps, opts ...Option) *Signal {
	s := &Signal{stamps: stamps, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MarkUpdated записывает текущее время (создаёт запись, если её нет).
func (s *Signal) MarkUpdated(ctx context.Context) error {
	now := s.now().UTC()
	if err := s.stamps.Set(ctx, StampID, now); err != nil {
		return errors.Wrap(err, "mark updated")
	}
	log.WithField("updated_at", now).Debug("Specs marked updated")
	return nil
}

// LastUpdated возвращает отметку; ok == false, если её ещё не было.
func (s *Signal) LastUpdated(ctx context.Context) (t time.Time, ok bool, err error) {
	t, err = s.stamps.Get(ctx, StampID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// Stale сообщает, обновлялись ли спецификации после since.
func (s *Signal) Stale(ctx context.Context, since time.Time) (time.Time, bool, error) {
	t, ok, err := s.LastUpdated(ctx)
	if err != nil || !ok {
		return t, false, err
	}
	return t, t.After(since), nil
}

// CheckAndReload перезагружает пространства имён по порядку, если данные
// устарели относительно since.
func (s *Signal) CheckAndReload(ctx context.Context, since time.Time, namespaces ...Reloader) (bool, error) {
	_, stale, err := s.Stale(ctx, since)
	if err != nil || !stale {
		return false, err
	}
	return true, reloadAll(ctx, namespaces)
}

func reloadAll(ctx context.Context, namespaces []Reloader) error {
	for _, ns := range namespaces {
		ns.Unload()
	}
	var errs *multierror.Error
	for _, ns := range namespaces {
		if err := ns.Load(ctx); err != nil {
			log.WithFields(log.Fields{"namespace": ns.Name(), "error": err}).Error("Reload failed")
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}
