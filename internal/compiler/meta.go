package compiler

import (
	"fmt"
	"sort"
)

// Meta — вложенный объект конфигурации: имена атрибутов совпадают с
// ключами "meta" спецификации, значения уже вычислены.
type Meta struct {
	values map[string]any
}

// NewMeta нужен хукам и тестам, которые собирают Members вручную.
func NewMeta(values map[string]any) *Meta {
	m := &Meta{values: make(map[string]any, len(values))}
	for k, v := range values {
		m.values[k] = v
	}
	return m
}

func (m *Meta) Get(name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[name]
	return v, ok
}

// Attr — чтобы мета была доступна из attribs-цепочек.
func (m *Meta) Attr(name string) (any, bool) { return m.Get(name) }

func (m *Meta) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.values))
	for k := range m.values {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Meta) Len() int {
	if m == nil {
		return 0
	}
	return len(m.values)
}

func (m *Meta) String(name, def string) string {
	v, ok := m.Get(name)
	if !ok || v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func (m *Meta) Bool(name string, def bool) bool {
	v, ok := m.Get(name)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case int:
		return b != 0
	case string:
		switch b {
		case "true", "True", "yes", "1":
			return true
		case "false", "False", "no", "0", "":
			return false
		}
	}
	return def
}

func (m *Meta) Int(name string, def int) int {
	v, ok := m.Get(name)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}

// Strings читает список строк (например, ordering или allowed_methods).
func (m *Meta) Strings(name string) []string {
	v, ok := m.Get(name)
	if !ok || v == nil {
		return nil
	}
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...)
	case []any:
		out := make([]string, 0, len(l))
		for _, it := range l {
			out = append(out, fmt.Sprint(it))
		}
		return out
	case string:
		return []string{l}
	}
	return nil
}
