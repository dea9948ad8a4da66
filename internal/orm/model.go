// Package orm — хостовый ORM: дескрипторы полей, типы моделей, менеджеры и
// цепочки запросов. Скомпилированные спецификации моделей становятся
// *ModelType через Hook.
package orm

import (
	"fmt"
	"sort"
	"strings"

	"dynmodels/internal/compiler"

	"github.com/pkg/errors"
)

// Options — разобранные мета-опции модели.
type Options struct {
	Abstract           bool
	AppLabel           string
	DBTable            string
	DBTablespace       string
	GetLatestBy        string
	Managed            bool
	OrderWithRespectTo string
	VerboseName        string
	VerboseNamePlural  string
	Ordering           []string
	UniqueTogether     [][]string
}

// ModelType — скомпилированная модель.
type ModelType struct {
	name     string
	module   string
	bases    []*ModelType
	fields   []*Field
	byName   map[string]*Field
	opts     Options
	meta     *compiler.Meta
	attrs    map[string]any
	managers map[string]*Manager
	geo      bool
	root     bool
}

// Корневые базы, которые модули store.models и store.geo.models отдают как Model и GeoModel.
var (
	BaseModel    = newRoot("Model", false)
	BaseGeoModel = newRoot("GeoModel", true)
)

func newRoot(name string, geo bool) *ModelType {
	return &ModelType{
		name:     name,
		module:   "store",
		byName:   map[string]*Field{},
		opts:     Options{Abstract: true},
		meta:     compiler.NewMeta(nil),
		attrs:    map[string]any{},
		managers: map[string]*Manager{},
		geo:      geo,
		root:     true,
	}
}

func (m *ModelType) TypeName() string { return m.name }
func (m *ModelType) Name() string { return m.name }
func (m *ModelType) Module() string { return m.module }
func (m *ModelType) Bases() []*ModelType { return append([]*ModelType(nil), m.bases...) }
func (m *ModelType) Options() Options { return m.opts }
func (m *ModelType) Meta() *compiler.Meta { return m.meta }
func (m *ModelType) IsGeo() bool { return m.geo }
func (m *ModelType) Field(name string) *Field { return m.byName[name] }

// Fields — поля в порядке объявления: сначала унаследованные.
func (m *ModelType) Fields() []*Field {
	return append([]*Field(nil), m.fields...)
}

// FieldNames — имена полей в том же порядке, что и Fields.
func (m *ModelType) FieldNames() []string {
	out := make([]string, 0, len(m.fields))
	for _, f := range m.fields {
		out = append(out, f.Name)
	}
	return out
}

// GeoField — первое геометрическое поле модели или nil.
func (m *ModelType) GeoField() *Field {
	for _, f := range m.fields {
		if f.IsGeo() {
			return f
		}
	}
	return nil
}

// Table — имя таблицы: db_table или app_label + "_" + имя модели в нижнем регистре.
func (m *ModelType) Table() string {
	if m.opts.DBTable != "" {
		return m.opts.DBTable
	}
	label := m.opts.AppLabel
	if label == "" {
		label = strings.ReplaceAll(m.module, ".", "_")
	}
	return strings.ToLower(label + "_" + m.name)
}

// Objects — менеджер по умолчанию.
func (m *ModelType) Objects() *Manager {
	if mgr, ok := m.managers["objects"]; ok {
		return mgr
	}
	names := make([]string, 0, len(m.managers))
	for n := range m.managers {
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return m.managers[names[0]]
}

// AllRecords — начало queryset-выражения.
func (m *ModelType) AllRecords() (any, error) {
	if m.opts.Abstract {
		return nil, errors.Errorf("%s is abstract and cannot be queried", m.name)
	}
	mgr := m.Objects()
	if mgr == nil {
		return nil, errors.Errorf("%s has no manager", m.name)
	}
	return mgr.All(), nil
}

// Attr: менеджеры, поля, дополнительные атрибуты, Meta.
func (m *ModelType) Attr(name string) (any, bool) {
	if mgr, ok := m.managers[name]; ok {
		return mgr, true
	}
	if name == "objects" {
		if mgr := m.Objects(); mgr != nil {
			return mgr, true
		}
	}
	if f, ok := m.byName[name]; ok {
		return f, true
	}
	if v, ok := m.attrs[name]; ok {
		return v, true
	}
	if name == "Meta" {
		return m.meta, true
	}
	return nil, false
}

// SetAttr ставит атрибут класса; поля и менеджеры перекрывать нельзя.
func (m *ModelType) SetAttr(name string, value any) error {
	if m.root {
		return errors.Errorf("%s is read-only", m.name)
	}
	if _, ok := m.byName[name]; ok {
		return errors.Errorf("attribute %s would shadow a field of %s", name, m.name)
	}
	if _, ok := m.managers[name]; ok {
		return errors.Errorf("attribute %s would shadow a manager of %s", name, m.name)
	}
	m.attrs[name] = value
	return nil
}

func (m *ModelType) String() string { return fmt.Sprintf("<model %s.%s>", m.module, m.name) }

// Hook — конструктор моделей для компилятора.
type Hook struct{}

var _ compiler.Hook = Hook{}

func (Hook) Build(name string, bases []any, members compiler.Members) (compiler.Type, error) {
	if len(bases) == 0 {
		return nil, errors.Errorf("model %s has no bases", name)
	}
	m := &ModelType{
		name:     name,
		module:   members.Module,
		byName:   map[string]*Field{},
		meta:     members.Meta,
		attrs:    map[string]any{},
		managers: map[string]*Manager{},
	}
	if m.meta == nil {
		m.meta = compiler.NewMeta(nil)
	}

	// 1. базы и унаследованные поля
	for i, b := range bases {
		base, ok := b.(*ModelType)
		if !ok {
			return nil, errors.Errorf("bases[%d] of %s is %T, not a model", i, name, b)
		}
		m.bases = append(m.bases, base)
		m.geo = m.geo || base.geo
		for _, f := range base.fields {
			if err := m.addField(f.bind(f.Name)); err != nil {
				return nil, err
			}
		}
	}

	// 2. собственные поля и менеджеры
	for _, fname := range members.FieldOrder {
		switch v := members.Fields[fname].(type) {
		case *Field:
			if err := m.addField(v.bind(fname)); err != nil {
				return nil, err
			}
		case *Manager:
			m.managers[fname] = v.bind(fname, m)
		default:
			return nil, errors.Errorf("%s.%s is %T, not a field descriptor", name, fname, v)
		}
	}

	// 3. мета
	opts, err := parseOptions(m, members.Meta)
	if err != nil {
		return nil, errors.Wrapf(err, "model %s", name)
	}
	m.opts = opts

	if len(m.managers) == 0 && !m.opts.Abstract {
		m.managers["objects"] = &Manager{name: "objects", geo: m.geo, model: m}
	}
	return m, nil
}

func (m *ModelType) addField(f *Field) error {
	if _, dup := m.byName[f.Name]; dup {
		return errors.Errorf("field %s clashes with an existing field of %s", f.Name, m.name)
	}
	m.byName[f.Name] = f
	m.fields = append(m.fields, f)
	return nil
}

var optionKeys = map[string]bool{
	"abstract":              true,
	"app_label":             true,
	"db_table":              true,
	"db_tablespace":         true,
	"get_latest_by":         true,
	"managed":               true,
	"order_with_respect_to": true,
	"verbose_name":          true,
	"verbose_name_plural":   true,
	"ordering":              true,
	"unique_together":       true,
}

func parseOptions(m *ModelType, meta *compiler.Meta) (Options, error) {
	var invalid []string
	for _, k := range meta.Keys() {
		if !optionKeys[k] {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		return Options{}, errors.Errorf("'Meta' got invalid attribute(s): %s", strings.Join(invalid, ","))
	}

	o := Options{
		Abstract:           meta.Bool("abstract", false),
		AppLabel:           meta.String("app_label", ""),
		DBTable:            meta.String("db_table", ""),
		DBTablespace:       meta.String("db_tablespace", ""),
		GetLatestBy:        meta.String("get_latest_by", ""),
		Managed:            meta.Bool("managed", true),
		OrderWithRespectTo: meta.String("order_with_respect_to", ""),
		VerboseName:        meta.String("verbose_name", m.name),
		Ordering:           meta.Strings("ordering"),
	}
	o.VerboseNamePlural = meta.String("verbose_name_plural", o.VerboseName+"s")
	if o.AppLabel == "" {
		for _, b := range m.bases {
			if b.opts.AppLabel != "" {
				o.AppLabel = b.opts.AppLabel
				break
			}
		}
	}

	for _, ref := range []string{o.GetLatestBy, o.OrderWithRespectTo} {
		if ref != "" && m.byName[ref] == nil {
			return o, errors.Errorf("unknown field %q in Meta", ref)
		}
	}
	for _, ord := range o.Ordering {
		if name := strings.TrimPrefix(ord, "-"); name != "id" && m.byName[name] == nil {
			return o, errors.Errorf("ordering refers to the nonexistent field %q", name)
		}
	}

	if v, ok := meta.Get("unique_together"); ok && v != nil {
		groups, err := uniqueGroups(v)
		if err != nil {
			return o, err
		}
		for _, g := range groups {
			for _, name := range g {
				if m.byName[name] == nil {
					return o, errors.Errorf("unique_together refers to the nonexistent field %q", name)
				}
			}
		}
		o.UniqueTogether = groups
	}
	return o, nil
}

// uniqueGroups принимает и ["a","b"], и [["a","b"],["c","d"]].
func uniqueGroups(v any) ([][]string, error) {
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return [][]string{append([]string(nil), ss...)}, nil
		}
		return nil, errors.Errorf("unique_together must be a list, got %T", v)
	}
	if len(list) == 0 {
		return nil, nil
	}
	if _, flat := list[0].(string); flat {
		g := make([]string, 0, len(list))
		for _, it := range list {
			g = append(g, fmt.Sprint(it))
		}
		return [][]string{g}, nil
	}
	var out [][]string
	for _, it := range list {
		sub, ok := it.([]any)
		if !ok {
			return nil, errors.Errorf("unique_together entry must be a list, got %T", it)
		}
		g := make([]string, 0, len(sub))
		for _, s := range sub {
			g = append(g, fmt.Sprint(s))
		}
		out = append(out, g)
	}
	return out, nil
}
