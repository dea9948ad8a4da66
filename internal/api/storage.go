package api

import (
	"io"
	"math/rand"
	"sync"
	"time"

	"dynmodels/internal/orm"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrVersionMismatch = errors.New("version mismatch")
)

type Record struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Deleted   bool           `json:"-"`
	Data      map[string]any `json:"data"`
}

// Get делает запись строкой для queryset: служебные колонки и данные.
func (r *Record) Get(field string) (any, bool) {
	switch field {
	case "id":
		return r.ID, true
	case "version":
		return r.Version, true
	case "created_at":
		return r.CreatedAt, true
	case "updated_at":
		return r.UpdatedAt, true
	}
	v, ok := r.Data[field]
	return v, ok
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		cp.Data[k] = v
	}
	return &cp
}

// Storage — записи моделей в памяти, по таблице модели.
type Storage struct {
	mu      sync.RWMutex
	Data    map[string]map[string]*Record // таблица -> id -> запись
	entropy io.Reader
	now     func() time.Time
}

func NewStorage() *Storage {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Storage{
		Data:    make(map[string]map[string]*Record),
		entropy: ulid.Monotonic(src, 0),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Storage) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *Storage) Exists(table, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.Data[table][id]
	return rec != nil && !rec.Deleted
}

// Get возвращает копию живой записи.
func (s *Storage) Get(table, id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := s.Data[table][id]
	if rec == nil || rec.Deleted {
		return nil, false
	}
	return rec.clone(), true
}

// Rows — копии живых записей таблицы.
func (s *Storage) Rows(table string) []orm.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]orm.Row, 0, len(s.Data[table]))
	for _, rec := range s.Data[table] {
		if !rec.Deleted {
			out = append(out, rec.clone())
		}
	}
	return out
}

func (s *Storage) Count(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.Data[table] {
		if !rec.Deleted {
			n++
		}
	}
	return n
}

func (s *Storage) Insert(table string, data map[string]any) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Data[table] == nil {
		s.Data[table] = make(map[string]*Record)
	}
	now := s.now()
	rec := &Record{ID: s.newID(), Version: 1, CreatedAt: now, UpdatedAt: now, Data: data}
	s.Data[table][rec.ID] = rec
	return rec.clone()
}

// Update заменяет (replace) или дополняет данные записи. expected > 0 —
// ожидаемая версия для optimistic lock.
func (s *Storage) Update(table, id string, data map[string]any, replace bool, expected int64) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.Data[table][id]
	if rec == nil || rec.Deleted {
		return nil, ErrRecordNotFound
	}
	if expected > 0 && rec.Version != expected {
		return nil, errors.Wrapf(ErrVersionMismatch, "expected version %d, current %d", expected, rec.Version)
	}
	if replace {
		rec.Data = make(map[string]any, len(data))
	}
	for k, v := range data {
		rec.Data[k] = v
	}
	rec.Version++
	rec.UpdatedAt = s.now()
	return rec.clone(), nil
}

// Delete — мягкое удаление.
func (s *Storage) Delete(table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.Data[table][id]
	if rec == nil || rec.Deleted {
		return ErrRecordNotFound
	}
	rec.Deleted = true
	rec.Version++
	rec.UpdatedAt = s.now()
	return nil
}

// Truncate удаляет все записи таблицы и возвращает их число.
func (s *Storage) Truncate(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.Data[table])
	delete(s.Data, table)
	return n
}

// uniqueOK — простая проверка уникальности по полю.
func (s *Storage) uniqueOK(table, field string, value any, exceptID string) bool {
	if value == nil {
		return true
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.Data[table] {
		if rec.Deleted || id == exceptID {
			continue
		}
		if v, ok := rec.Data[field]; ok && stringify(v) == stringify(value) {
			return false
		}
	}
	return true
}
