package dsl

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"dynmodels/internal/expr"

	"github.com/pkg/errors"
)

// ReservedPrefix — ключи верхнего уровня с этим префиксом не становятся
// атрибутами скомпилированного типа.
const ReservedPrefix = "_"

// Kind спецификации (ключ "_kind"): модель или API-ресурс.
const (
	KindModel    = "model"
	KindResource = "resource"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Spec — документ спецификации модели или ресурса.
type Spec struct {
	Name   string
	Bases  []expr.Expr
	Fields map[string]expr.Expr
	Meta   map[string]expr.Expr
	// Extra — прочие ключи верхнего уровня, применяются как атрибуты типа
	Extra map[string]expr.Expr

	ID    string // "_id", совпадает с Name
	Owner string // "_owner", "" — без владельца
}

// Validate проверяет форму документа (но не резолвит выражения).
func (s *Spec) Validate() error {
	if !identRe.MatchString(s.Name) {
		return errors.Errorf("spec name %q is not a valid identifier", s.Name)
	}
	if len(s.Bases) == 0 {
		return errors.Errorf("spec %s: bases must not be empty", s.Name)
	}
	for name := range s.Fields {
		if !identRe.MatchString(name) {
			return errors.Errorf("spec %s: field name %q is not a valid identifier", s.Name, name)
		}
	}
	return nil
}

// Kind возвращает "_kind" документа; по умолчанию — модель.
func (s *Spec) Kind() string {
	if l, ok := s.Extra["_kind"].(*expr.Literal); ok {
		if k, ok := l.Value.(string); ok && k != "" {
			return k
		}
	}
	return KindModel
}

// FieldNames — имена полей в стабильном порядке.
func (s *Spec) FieldNames() []string {
	out := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone — глубокая копия через сериализацию. Ошибка означает, что
// спецификация не представима в JSON (NaN, Inf и т.п.).
func (s *Spec) Clone() (*Spec, error) {
	doc, err := roundTrip(s.Document())
	if err != nil {
		return nil, errors.Wrapf(err, "spec %s", s.Name)
	}
	return FromDocument(doc)
}

// Document возвращает JSON-совместимое представление (как в хранилище).
func (s *Spec) Document() map[string]any {
	doc := make(map[string]any, len(s.Extra)+6)
	for k, v := range s.Extra {
		doc[k] = expr.Encode(v)
	}
	bases := make([]any, 0, len(s.Bases))
	for _, b := range s.Bases {
		bases = append(bases, expr.Encode(b))
	}
	fields := make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = expr.Encode(v)
	}
	meta := make(map[string]any, len(s.Meta))
	for k, v := range s.Meta {
		meta[k] = expr.Encode(v)
	}
	doc["name"] = s.Name
	doc["bases"] = bases
	doc["fields"] = fields
	doc["meta"] = meta
	if s.ID != "" {
		doc["_id"] = s.ID
	}
	if s.Owner != "" {
		doc["_owner"] = s.Owner
	} else {
		doc["_owner"] = nil
	}
	return doc
}

func (s *Spec) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Document())
}

func (s *Spec) UnmarshalJSON(b []byte) error {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	parsed, err := FromDocument(doc)
	if err != nil {
		return err
	}
	*s = *parsed
	return nil
}

// FromDocument разбирает документ, прочитанный из JSON или YAML.
func FromDocument(doc map[string]any) (*Spec, error) {
	s := &Spec{
		Fields: map[string]expr.Expr{},
		Meta:   map[string]expr.Expr{},
		Extra:  map[string]expr.Expr{},
	}
	name, ok := doc["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, errors.New("spec document has no name")
	}
	s.Name = name

	switch b := doc["bases"].(type) {
	case nil:
	case []any:
		for i, it := range b {
			e, err := expr.Decode(it)
			if err != nil {
				return nil, errors.Wrapf(err, "%s: bases[%d]", name, i)
			}
			s.Bases = append(s.Bases, e)
		}
	default:
		// одиночная база
		e, err := expr.Decode(b)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: bases", name)
		}
		s.Bases = []expr.Expr{e}
	}

	if err := decodeMap(doc["fields"], s.Fields); err != nil {
		return nil, errors.Wrapf(err, "%s: fields", name)
	}
	if err := decodeMap(doc["meta"], s.Meta); err != nil {
		return nil, errors.Wrapf(err, "%s: meta", name)
	}

	if id, ok := doc["_id"].(string); ok {
		s.ID = id
	}
	if owner, ok := doc["_owner"]; ok && owner != nil {
		s.Owner = fmt.Sprint(owner)
	}

	for k, v := range doc {
		switch k {
		case "name", "bases", "fields", "meta", "_id", "_owner":
			continue
		}
		e, err := expr.Decode(v)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: %s", name, k)
		}
		s.Extra[k] = e
	}
	return s, nil
}

func decodeMap(raw any, into map[string]expr.Expr) error {
	if raw == nil {
		return nil
	}
	var m map[string]any
	switch t := raw.(type) {
	case map[string]any:
		m = t
	case map[any]any:
		m = make(map[string]any, len(t))
		for k, v := range t {
			m[fmt.Sprint(k)] = v
		}
	default:
		return errors.Errorf("expected a map, got %T", raw)
	}
	for k, v := range m {
		e, err := expr.Decode(v)
		if err != nil {
			return errors.Wrap(err, k)
		}
		into[k] = e
	}
	return nil
}

func roundTrip(doc map[string]any) (map[string]any, error) {
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
