package api

import (
	"fmt"
	"sort"
	"strings"

	"dynmodels/internal/compiler"
	"dynmodels/internal/orm"

	"github.com/pkg/errors"
)

// All — значение filtering, разрешающее любые операторы поиска по полю.
const All = "ALL"

// Методы, которые ресурс открывает по умолчанию.
var defaultMethods = []string{"get", "post", "put", "patch", "delete"}

// ResourceType — скомпилированный API-ресурс поверх queryset модели.
type ResourceType struct {
	name         string
	module       string
	bases        []*ResourceType
	geo          bool
	root         bool
	meta         *compiler.Meta
	resourceName string
	queryset     *orm.QuerySet
	filtering    map[string][]string
	ordering     []string
	allowed      map[string]bool
	excludes     []string
	only         []string
	limit        int
	maxLimit     int
	fields       map[string]*ResourceField
	fieldOrder   []string
	attrs        map[string]any
}

// Корневые базы: api.resources.ModelResource и api.geo.GeoResource.
var (
	BaseModelResource = newRootResource("ModelResource", false)
	BaseGeoResource   = newRootResource("GeoResource", true)
)

func newRootResource(name string, geo bool) *ResourceType {
	return &ResourceType{
		name:   name,
		module: "api",
		geo:    geo,
		root:   true,
		meta:   compiler.NewMeta(nil),
		fields: map[string]*ResourceField{},
		attrs:  map[string]any{},
	}
}

func (r *ResourceType) TypeName() string { return r.name }
func (r *ResourceType) Name() string { return r.name }
func (r *ResourceType) Module() string { return r.module }
func (r *ResourceType) ResourceName() string { return r.resourceName }
func (r *ResourceType) QuerySet() *orm.QuerySet { return r.queryset }
func (r *ResourceType) Model() *orm.ModelType { return r.queryset.Model() }
func (r *ResourceType) IsGeo() bool { return r.geo }
func (r *ResourceType) Meta() *compiler.Meta { return r.meta }
func (r *ResourceType) Bases() []*ResourceType { return append([]*ResourceType(nil), r.bases...) }
func (r *ResourceType) Ordering() []string { return append([]string(nil), r.ordering...) }
func (r *ResourceType) DefaultLimit() int { return r.limit }
func (r *ResourceType) MaxLimit() int { return r.maxLimit }
func (r *ResourceType) Field(n string) *ResourceField { return r.fields[n] }

// Allows — разрешён ли HTTP-метод.
func (r *ResourceType) Allows(method string) bool {
	return r.allowed[strings.ToLower(method)]
}

// AllowedMethods в стабильном порядке.
func (r *ResourceType) AllowedMethods() []string {
	out := make([]string, 0, len(r.allowed))
	for _, m := range defaultMethods {
		if r.allowed[m] {
			out = append(out, m)
		}
	}
	return out
}

// CanFilter — разрешён ли поиск field__op.
func (r *ResourceType) CanFilter(field, op string) bool {
	ops, ok := r.filtering[field]
	if !ok {
		return false
	}
	if ops == nil {
		return true
	}
	for _, o := range ops {
		if o == op {
			return true
		}
	}
	return false
}

// Filtering — копия правил фильтрации; nil в значении означает ALL.
func (r *ResourceType) Filtering() map[string][]string {
	out := make(map[string][]string, len(r.filtering))
	for k, v := range r.filtering {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Visible — поля модели, которые ресурс отдаёт и принимает.
func (r *ResourceType) Visible() []*orm.Field {
	var out []*orm.Field
	for _, f := range r.Model().Fields() {
		if contains(r.excludes, f.Name) {
			continue
		}
		if len(r.only) > 0 && !contains(r.only, f.Name) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ResourceFields — объявленные поля ресурса в порядке имён.
func (r *ResourceType) ResourceFields() []*ResourceField {
	out := make([]*ResourceField, 0, len(r.fieldOrder))
	for _, n := range r.fieldOrder {
		out = append(out, r.fields[n])
	}
	return out
}

// Attr: поля ресурса, дополнительные атрибуты, queryset, resource_name, Meta.
func (r *ResourceType) Attr(name string) (any, bool) {
	if f, ok := r.fields[name]; ok {
		return f, true
	}
	if v, ok := r.attrs[name]; ok {
		return v, true
	}
	switch name {
	case "Meta":
		return r.meta, true
	case "queryset":
		return r.queryset, r.queryset != nil
	case "resource_name":
		return r.resourceName, r.resourceName != ""
	}
	return nil, false
}

func (r *ResourceType) SetAttr(name string, value any) error {
	if r.root {
		return errors.Errorf("%s is read-only", r.name)
	}
	if _, ok := r.fields[name]; ok {
		return errors.Errorf("attribute %s would shadow a field of %s", name, r.name)
	}
	r.attrs[name] = value
	return nil
}

func (r *ResourceType) String() string {
	return fmt.Sprintf("<resource %s.%s /%s>", r.module, r.name, r.resourceName)
}

// Hook — конструктор ресурсов для компилятора.
type Hook struct{}

var _ compiler.Hook = Hook{}

var resourceOptions = map[string]bool{
	"queryset": true, "resource_name": true, "filtering": true, "ordering": true,
	"allowed_methods": true, "excludes": true, "fields": true, "limit": true, "max_limit": true,
}

func (Hook) Build(name string, bases []any, members compiler.Members) (compiler.Type, error) {
	if len(bases) == 0 {
		return nil, errors.Errorf("resource %s has no bases", name)
	}
	r := &ResourceType{
		name:   name,
		module: members.Module,
		meta:   members.Meta,
		fields: map[string]*ResourceField{},
		attrs:  map[string]any{},
	}
	if r.meta == nil {
		r.meta = compiler.NewMeta(nil)
	}
	for i, b := range bases {
		base, ok := b.(*ResourceType)
		if !ok {
			return nil, errors.Errorf("bases[%d] of %s is %T, not a resource", i, name, b)
		}
		r.bases = append(r.bases, base)
		r.geo = r.geo || base.geo
		for _, n := range base.fieldOrder {
			r.addField(base.fields[n])
		}
	}
	for _, fname := range members.FieldOrder {
		f, ok := members.Fields[fname].(*ResourceField)
		if !ok {
			return nil, errors.Errorf("%s.%s is %T, not a resource field", name, fname, members.Fields[fname])
		}
		r.addField(f.bind(fname))
	}
	if err := r.parseMeta(); err != nil {
		return nil, errors.Wrapf(err, "resource %s", name)
	}
	return r, nil
}

func (r *ResourceType) addField(f *ResourceField) {
	if _, ok := r.fields[f.Name]; !ok {
		r.fieldOrder = append(r.fieldOrder, f.Name)
	}
	r.fields[f.Name] = f
	sort.Strings(r.fieldOrder)
}

func (r *ResourceType) parseMeta() error {
	var invalid []string
	for _, k := range r.meta.Keys() {
		if !resourceOptions[k] {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		return errors.Errorf("'Meta' got invalid attribute(s): %s", strings.Join(invalid, ","))
	}

	raw, ok := r.meta.Get("queryset")
	if !ok || raw == nil {
		return errors.New("Meta.queryset is required")
	}
	qs, ok := raw.(*orm.QuerySet)
	if !ok {
		return errors.Errorf("Meta.queryset is %T, not a queryset", raw)
	}
	r.queryset = qs
	model := qs.Model()
	if r.geo && model.GeoField() == nil {
		return errors.Errorf("geo resource over %s which has no geometry field", model.Name())
	}

	r.resourceName = r.meta.String("resource_name", strings.ToLower(r.name))
	if r.resourceName == "" || strings.ContainsAny(r.resourceName, "/ ") {
		return errors.Errorf("invalid resource_name %q", r.resourceName)
	}

	r.allowed = map[string]bool{}
	methods := r.meta.Strings("allowed_methods")
	if _, set := r.meta.Get("allowed_methods"); !set {
		methods = defaultMethods
	}
	for _, m := range methods {
		m = strings.ToLower(m)
		if !contains(defaultMethods, m) {
			return errors.Errorf("unknown method %q in allowed_methods", m)
		}
		r.allowed[m] = true
	}

	known := func(n string) bool { return n == "id" || model.Field(n) != nil }
	for _, key := range []string{"excludes", "fields", "ordering"} {
		list := r.meta.Strings(key)
		for _, n := range list {
			if !known(n) {
				return errors.Errorf("%s refers to the nonexistent field '%s'", key, n)
			}
		}
		switch key {
		case "excludes":
			r.excludes = list
		case "fields":
			r.only = list
		case "ordering":
			r.ordering = list
		}
	}

	if raw, ok := r.meta.Get("filtering"); ok && raw != nil {
		f, err := parseFiltering(raw, known)
		if err != nil {
			return err
		}
		r.filtering = f
	}

	r.limit = r.meta.Int("limit", 20)
	r.maxLimit = r.meta.Int("max_limit", 1000)
	if r.limit < 0 || r.maxLimit < 0 {
		return errors.New("limit and max_limit must not be negative")
	}
	for _, n := range r.fieldOrder {
		if f := r.fields[n]; !known(f.Source()) {
			return errors.Errorf("field %s refers to the nonexistent attribute '%s'", f.Name, f.Source())
		}
	}
	return nil
}

// parseFiltering принимает {"field": ALL} или {"field": ["exact", "gt"]}.
func parseFiltering(raw any, known func(string) bool) (map[string][]string, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.Errorf("filtering must be a mapping, got %T", raw)
	}
	out := make(map[string][]string, len(m))
	for field, v := range m {
		if !known(field) {
			return nil, errors.Errorf("filtering refers to the nonexistent field '%s'", field)
		}
		switch ops := v.(type) {
		case string:
			if ops != All {
				return nil, errors.Errorf("filtering for %s must be ALL or a list of lookups", field)
			}
			out[field] = nil
		case []any:
			list := make([]string, 0, len(ops))
			for _, o := range ops {
				s := fmt.Sprint(o)
				if !lookupOps[s] {
					return nil, errors.Errorf("unknown lookup %q in filtering for %s", s, field)
				}
				list = append(list, s)
			}
			out[field] = list
		case []string:
			out[field] = append([]string{}, ops...)
		default:
			return nil, errors.Errorf("filtering for %s must be ALL or a list of lookups, got %T", field, v)
		}
	}
	return out, nil
}

// UniversalFilter разрешает фильтрацию по всем полям модели.
func UniversalFilter(model *orm.ModelType) map[string]any {
	out := make(map[string]any, len(model.Fields()))
	for _, f := range model.Fields() {
		out[f.Name] = All
	}
	return out
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}
