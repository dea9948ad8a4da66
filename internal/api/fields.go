package api

import (
	"sort"

	"dynmodels/internal/expr"
	"dynmodels/internal/orm"

	"github.com/pkg/errors"
)

// ResourceField — явно объявленное поле ресурса. Источник значения —
// поле модели с именем Attribute (или именем самого поля).
type ResourceField struct {
	Kind       string
	Name       string
	Attribute  string
	Readonly   bool
	Null       bool
	HelpText   string
	Default    any
	HasDefault bool
}

var resourceFieldKinds = []string{
	"CharField", "IntegerField", "FloatField", "DecimalField", "BooleanField",
	"DateField", "DateTimeField", "DictField", "ListField",
}

// NewResourceField — конструктор api.fields.<Kind>(attribute=..., readonly=..., ...).
func NewResourceField(kind string, a expr.Args) (*ResourceField, error) {
	f := &ResourceField{Kind: kind}
	if v, ok := a.Arg(0); ok {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("%s: attribute must be a string, got %T", kind, v)
		}
		f.Attribute = s
	}
	if len(a.Positionals) > 1 {
		return nil, errors.Errorf("%s takes at most 1 positional argument", kind)
	}
	keys := make([]string, 0, len(a.Keywords))
	for k := range a.Keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := a.Keywords[k]
		var ok bool
		switch k {
		case "attribute":
			f.Attribute, ok = v.(string)
		case "readonly":
			f.Readonly, ok = v.(bool)
		case "null":
			f.Null, ok = v.(bool)
		case "help_text":
			f.HelpText, ok = v.(string)
		case "default":
			f.Default, f.HasDefault, ok = v, true, true
		default:
			return nil, errors.Errorf("%s got an unexpected keyword argument '%s'", kind, k)
		}
		if !ok {
			return nil, errors.Errorf("%s: invalid value %v for %s", kind, v, k)
		}
	}
	return f, nil
}

func (f *ResourceField) bind(name string) *ResourceField {
	cp := *f
	cp.Name = name
	return &cp
}

// Source — имя поля модели, из которого берётся значение.
func (f *ResourceField) Source() string {
	if f.Attribute != "" {
		return f.Attribute
	}
	return f.Name
}

// Dehydrate достаёт значение для ответа.
func (f *ResourceField) Dehydrate(r orm.Row) any {
	v, ok := r.Get(f.Source())
	if (!ok || v == nil) && f.HasDefault {
		return f.Default
	}
	return v
}

func (f *ResourceField) Attr(name string) (any, bool) {
	switch name {
	case "name":
		return f.Name, true
	case "kind":
		return f.Kind, true
	case "attribute":
		return f.Source(), true
	case "readonly":
		return f.Readonly, true
	case "null":
		return f.Null, true
	case "help_text":
		return f.HelpText, true
	case "default":
		return f.Default, f.HasDefault
	}
	return nil, false
}

func fieldCtor(kind string) expr.Func {
	return func(a expr.Args) (any, error) { return NewResourceField(kind, a) }
}
