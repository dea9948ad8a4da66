package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Memory — хранилище в памяти. Документы хранятся сериализованными, поэтому
// чтение возвращает копию с теми же типами, что отдал бы Postgres (числа — float64).
type Memory struct {
	mu     sync.RWMutex
	docs   map[string]map[string][]byte
	stamps map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{
		docs:   map[string]map[string][]byte{},
		stamps: map[string]time.Time{},
	}
}

func (m *Memory) Collection(name string) Collection { return &memCollection{m: m, name: name} }
func (m *Memory) Stamps() Stamps { return memStamps{m} }
func (m *Memory) Close() error { return nil }

type memCollection struct {
	m    *Memory
	name string
}

func (c *memCollection) FindOne(_ context.Context, id string) (Document, error) {
	c.m.mu.RLock()
	raw, ok := c.m.docs[c.name][id]
	c.m.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "%s/%s", c.name, id)
	}
	return decodeDoc(raw)
}

func (c *memCollection) Find(_ context.Context) ([]Document, error) {
	c.m.mu.RLock()
	defer c.m.mu.RUnlock()

	ids := make([]string, 0, len(c.m.docs[c.name]))
	for id := range c.m.docs[c.name] {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		d, err := decodeDoc(c.m.docs[c.name][id])
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *memCollection) Insert(_ context.Context, doc Document) error {
	return c.put(doc, false)
}

func (c *memCollection) Save(_ context.Context, doc Document) error {
	return c.put(doc, true)
}

func (c *memCollection) put(doc Document, replace bool) error {
	id, err := docID(doc)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", c.name, id)
	}

	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	coll, ok := c.m.docs[c.name]
	if !ok {
		coll = map[string][]byte{}
		c.m.docs[c.name] = coll
	}
	if _, exists := coll[id]; exists && !replace {
		return errors.Wrapf(ErrDuplicate, "%s/%s", c.name, id)
	}
	coll[id] = raw
	return nil
}

func (c *memCollection) Remove(_ context.Context, id string) error {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	if _, ok := c.m.docs[c.name][id]; !ok {
		return errors.Wrapf(ErrNotFound, "%s/%s", c.name, id)
	}
	delete(c.m.docs[c.name], id)
	return nil
}

type memStamps struct{ m *Memory }

func (s memStamps) Get(_ context.Context, id string) (time.Time, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	t, ok := s.m.stamps[id]
	if !ok {
		return time.Time{}, errors.Wrapf(ErrNotFound, "stamp %s", id)
	}
	return t, nil
}

func (s memStamps) Set(_ context.Context, id string, t time.Time) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.stamps[id] = t.UTC()
	return nil
}

func decodeDoc(raw []byte) (Document, error) {
	var d Document
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, errors.Wrap(err, "decode document")
	}
	return d, nil
}
