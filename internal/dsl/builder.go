package dsl

import (
	"fmt"

	"dynmodels/internal/expr"
)

// Модули, на которые ссылаются простые билдеры.
const (
	ModelsModule       = "store.models"
	GeoModelsModule    = "store.geo.models"
	ResourcesModule    = "api.resources"
	GeoResourcesModule = "api.geo"
	DynamicModels      = "dynamic.models"
	DynamicResources   = "dynamic.api"

	// AppLabel — app_label, который ставят простые билдеры
	AppLabel = "dynamic_models"
)

// Kw — именованные аргументы или мета-опции. Значения — выражения или
// литералы; nil в мета-опциях означает "не задано".
type Kw map[string]any

// Fields — поля модели: имя -> callable-выражение.
type Fields map[string]expr.Expr

// Lit оборачивает значение в литерал; выражения возвращаются как есть.
func Lit(v any) expr.Expr {
	if e, ok := v.(expr.Expr); ok {
		return e
	}
	return &expr.Literal{Value: v}
}

// P собирает блок аргументов.
func P(kw Kw, positionals ...any) expr.Params {
	var p expr.Params
	for _, v := range positionals {
		p.Positionals = append(p.Positionals, Lit(v))
	}
	if len(kw) > 0 {
		p.Keywords = make(map[string]expr.Expr, len(kw))
		for k, v := range kw {
			p.Keywords[k] = Lit(v)
		}
	}
	return p
}

func Attribute(module, name string) *expr.Attribute {
	return &expr.Attribute{Module: module, Attribute: name}
}

func ClassAttribute(module, cls, attribute string) *expr.ClassAttribute {
	return &expr.ClassAttribute{Module: module, Class: cls, Attribute: attribute}
}

func ClassMethod(module, cls, method string, kw Kw, positionals ...any) *expr.ClassMethod {
	return &expr.ClassMethod{Module: module, Class: cls, Method: method, Params: P(kw, positionals...)}
}

func Callable(module, name string, kw Kw, positionals ...any) *expr.Callable {
	return &expr.Callable{Module: module, Callable: name, Params: P(kw, positionals...)}
}

// Call — шаг-вызов для Attribs.
func Call(kw Kw, positionals ...any) expr.Params {
	return P(kw, positionals...)
}

// Attribs собирает цепочку; шаг — строка (атрибут), expr.Params или Kw
// (вызов). Шаг другого типа — ошибка программиста, Attribs паникует.
func Attribs(module string, steps ...any) *expr.Attribs {
	out := &expr.Attribs{Module: module}
	for i, s := range steps {
		switch v := s.(type) {
		case string:
			out.Steps = append(out.Steps, expr.AttribStep{Name: v})
		case expr.Params:
			p := v
			out.Steps = append(out.Steps, expr.AttribStep{Call: &p})
		case *expr.Params:
			out.Steps = append(out.Steps, expr.AttribStep{Call: v})
		case Kw:
			p := P(v)
			out.Steps = append(out.Steps, expr.AttribStep{Call: &p})
		default:
			panic(fmt.Sprintf("dsl.Attribs(%s): step %d has unsupported type %T", module, i, s))
		}
	}
	return out
}

func Method(name string, kw Kw, positionals ...any) expr.Method {
	return expr.Method{Name: name, Params: P(kw, positionals...)}
}

func Queryset(module, model string, methods ...expr.Method) *expr.Queryset {
	return &expr.Queryset{Module: module, Model: model, Methods: methods}
}

func Datetime(value string) *expr.Datetime {
	return &expr.Datetime{Value: value}
}

// Model собирает документ модели. bases — одно выражение или срез;
// мета-опции со значением nil отбрасываются.
func Model(name string, bases any, fields Fields, meta Kw) *Spec {
	s := &Spec{
		Name:   name,
		Bases:  normalizeBases(bases),
		Fields: make(map[string]expr.Expr, len(fields)),
		Meta:   make(map[string]expr.Expr, len(meta)),
		Extra:  map[string]expr.Expr{},
	}
	for k, v := range fields {
		s.Fields[k] = v
	}
	for k, v := range meta {
		if isNone(v) {
			continue
		}
		s.Meta[k] = Lit(v)
	}
	return s
}

// Resource собирает документ API-ресурса.
func Resource(name string, bases any, fields Fields, meta Kw) *Spec {
	s := Model(name, bases, fields, meta)
	s.Extra["_kind"] = Lit(KindResource)
	return s
}

// SimpleModel — обычная модель с базой store.models.Model.
func SimpleModel(name string, managed bool, dbTable string, fields Fields) *Spec {
	return Model(name, Attribute(ModelsModule, "Model"), fields, Kw{
		"managed":   managed,
		"db_table":  noneIfEmpty(dbTable),
		"app_label": AppLabel,
	})
}

// SimpleGeoModel — модель с геометрией и менеджером GeoManager.
func SimpleGeoModel(name string, managed bool, dbTable string, fields Fields) *Spec {
	fs := make(Fields, len(fields)+1)
	for k, v := range fields {
		fs[k] = v
	}
	fs["objects"] = Callable(GeoModelsModule, "GeoManager", nil)
	return Model(name, Attribute(GeoModelsModule, "GeoModel"), fs, Kw{
		"managed":   managed,
		"db_table":  noneIfEmpty(dbTable),
		"app_label": AppLabel,
	})
}

// SimpleField — конструктор поля из store.models.
func SimpleField(kind string, kw Kw, positionals ...any) *expr.Callable {
	return Callable(ModelsModule, kind, kw, positionals...)
}

// SimpleGeoField — конструктор поля из store.geo.models.
func SimpleGeoField(kind string, kw Kw, positionals ...any) *expr.Callable {
	return Callable(GeoModelsModule, kind, kw, positionals...)
}

// SimpleModelResource — ModelResource поверх всех записей модели.
func SimpleModelResource(module, model, resourceName string, meta Kw) *Spec {
	return simpleResource(ResourcesModule, "ModelResource", module, model, resourceName, meta)
}

// SimpleGeoResource — то же, но ресурс отдаёт GeoJSON.
func SimpleGeoResource(module, model, resourceName string, meta Kw) *Spec {
	return simpleResource(GeoResourcesModule, "GeoResource", module, model, resourceName, meta)
}

func simpleResource(baseModule, base, module, model, resourceName string, meta Kw) *Spec {
	m := make(Kw, len(meta)+2)
	for k, v := range meta {
		m[k] = v
	}
	m["queryset"] = Queryset(module, model, Method("all", nil))
	m["resource_name"] = resourceName
	return Resource(model, Attribute(baseModule, base), nil, m)
}

func normalizeBases(bases any) []expr.Expr {
	switch b := bases.(type) {
	case nil:
		return nil
	case []expr.Expr:
		return append([]expr.Expr(nil), b...)
	case []*expr.Attribute:
		out := make([]expr.Expr, 0, len(b))
		for _, a := range b {
			out = append(out, a)
		}
		return out
	case expr.Expr:
		return []expr.Expr{b}
	}
	return []expr.Expr{Lit(bases)}
}

func isNone(v any) bool {
	if v == nil {
		return true
	}
	if l, ok := v.(*expr.Literal); ok {
		return l == nil || l.Value == nil
	}
	return false
}

func noneIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
