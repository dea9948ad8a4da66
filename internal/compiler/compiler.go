// Package compiler превращает документ спецификации в живой тип.
//
// Компилятор не знает, какой именно тип строит: базы, поля и мета-опции он
// вычисляет сам, а сборку делегирует Hook — конструктору моделей ORM или
// конструктору API-ресурсов.
package compiler

import (
	"sort"
	"strings"

	"dynmodels/internal/dsl"
	"dynmodels/internal/expr"
)

// Type — скомпилированный тип.
type Type interface {
	TypeName() string
	SetAttr(name string, value any) error
}

// Members — всё, что компилятор вычислил для Hook.Build.
type Members struct {
	Fields     map[string]any
	FieldOrder []string
	Meta       *Meta
	// Module — пространство имён, которому принадлежит компилятор
	Module string
}

// Hook строит тип из вычисленных имени, баз и членов.
type Hook interface {
	Build(name string, bases []any, members Members) (Type, error)
}

// HookFunc адаптирует функцию к Hook.
type HookFunc func(name string, bases []any, members Members) (Type, error)

func (f HookFunc) Build(name string, bases []any, members Members) (Type, error) {
	return f(name, bases, members)
}

// Compiler компилирует спецификации одного пространства имён.
// Экземпляр рассчитан на один проход: его контекст вычисления держит кэш импортов.
type Compiler struct {
	module string
	hook   Hook
	ectx   *expr.Context
}

func New(module string, hook Hook, ectx *expr.Context) *Compiler {
	return &Compiler{module: module, hook: hook, ectx: ectx}
}

func (c *Compiler) Module() string { return c.module }

// Compile строит тип по спецификации.
func (c *Compiler) Compile(spec *dsl.Spec) (Type, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SpecError{Spec: spec.Name, Stage: StageValidate, Err: err}
	}

	// 1. базы
	bases := make([]any, 0, len(spec.Bases))
	for i, b := range spec.Bases {
		attr, ok := b.(*expr.Attribute)
		if !ok {
			return nil, specErrorf(spec.Name, StageBases, "bases[%d] must be an attribute expression, got %q", i, b.Tag())
		}
		v, err := c.ectx.Eval(attr)
		if err != nil {
			return nil, &SpecError{Spec: spec.Name, Stage: StageBases, Err: err}
		}
		bases = append(bases, v)
	}

	// 2. поля
	names := spec.FieldNames()
	fields := make(map[string]any, len(names))
	for _, name := range names {
		call, ok := spec.Fields[name].(*expr.Callable)
		if !ok {
			return nil, specErrorf(spec.Name, StageFields, "field %s must be a callable expression, got %q", name, spec.Fields[name].Tag())
		}
		v, err := c.ectx.Eval(call)
		if err != nil {
			return nil, &SpecError{Spec: spec.Name, Stage: StageFields, Field: name, Err: err}
		}
		fields[name] = v
	}

	// 3. мета
	meta := &Meta{values: make(map[string]any, len(spec.Meta))}
	for _, k := range sortedKeys(spec.Meta) {
		v, err := c.ectx.Eval(spec.Meta[k])
		if err != nil {
			return nil, &SpecError{Spec: spec.Name, Stage: StageMeta, Field: k, Err: err}
		}
		meta.values[k] = v
	}

	// 4. сборка
	t, err := c.hook.Build(spec.Name, bases, Members{
		Fields:     fields,
		FieldOrder: names,
		Meta:       meta,
		Module:     c.module,
	})
	if err != nil {
		return nil, &SpecError{Spec: spec.Name, Stage: StageBuild, Err: constructionErr(err)}
	}

	// 5. дополнительные атрибуты — все, кроме служебных
	for _, k := range sortedKeys(spec.Extra) {
		if strings.HasPrefix(k, dsl.ReservedPrefix) {
			continue
		}
		v, err := c.ectx.Eval(spec.Extra[k])
		if err != nil {
			return nil, &SpecError{Spec: spec.Name, Stage: StageAttrs, Field: k, Err: err}
		}
		if err := t.SetAttr(k, v); err != nil {
			return nil, &SpecError{Spec: spec.Name, Stage: StageAttrs, Field: k, Err: constructionErr(err)}
		}
	}
	return t, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
