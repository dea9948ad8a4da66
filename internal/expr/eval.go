package expr

import (
	"math"
	"strconv"
	"strings"
)

// Args — вычисленные аргументы вызова.
type Args struct {
	Positionals []any
	Keywords    map[string]any
}

// Arg возвращает i-й позиционный аргумент.
func (a Args) Arg(i int) (any, bool) {
	if i < 0 || i >= len(a.Positionals) {
		return nil, false
	}
	return a.Positionals[i], true
}

// Kw возвращает именованный аргумент.
func (a Args) Kw(name string) (any, bool) {
	v, ok := a.Keywords[name]
	return v, ok
}

// Func — именованный конструктор или метод, доступный из выражений.
type Func func(Args) (any, error)

// Attributer — объект, у которого можно взять атрибут по имени:
// модуль реестра, тип модели, менеджер, queryset.
type Attributer interface {
	Attr(name string) (any, bool)
}

// QuerySource — тип модели, умеющий отдать коллекцию "все записи".
type QuerySource interface {
	AllRecords() (any, error)
}

// Importer загружает модуль по имени. Реализация — registry.ImportCache.
type Importer interface {
	Import(module string) (Attributer, error)
}

// Context — состояние одного прохода вычисления: кэш импортов и трассировка.
type Context struct {
	imports Importer
	trace   func(Expr)
}

type Option func(*Context)

// WithTrace вызывает fn непосредственно перед каждым вызовом
// (callable, class_method, шаг queryset или attribs).
func WithTrace(fn func(Expr)) Option {
	return func(c *Context) { c.trace = fn }
}

func NewContext(imports Importer, opts ...Option) *Context {
	c := &Context{imports: imports}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Eval вычисляет выражение.
func (c *Context) Eval(e Expr) (any, error) {
	switch x := e.(type) {
	case nil:
		return nil, nil
	case *Literal:
		return coerceLiteral(x.Value), nil
	case *Attribute:
		return c.evalAttribute(x)
	case *ClassAttribute:
		return c.evalClassAttribute(x)
	case *ClassMethod:
		return c.evalClassMethod(x)
	case *Callable:
		return c.evalCallable(x)
	case *Attribs:
		return c.evalAttribs(x)
	case *Queryset:
		return c.evalQueryset(x)
	case *Datetime:
		t, err := ParseTime(x.Value)
		if err != nil {
			return nil, &Error{Kind: ErrResolution, Tag: TagDatetime, Ref: x.Value, Err: err}
		}
		return t, nil
	case *Unknown:
		return x.Raw, nil
	}
	return e, nil
}

// EvalParams вычисляет аргументы изнутри наружу: все вложенные вызовы
// выполняются до того, как вызовется владелец аргументов.
func (c *Context) EvalParams(p Params) (Args, error) {
	args := Args{Keywords: make(map[string]any, len(p.Keywords))}
	for _, pe := range p.Positionals {
		v, err := c.Eval(pe)
		if err != nil {
			return args, err
		}
		args.Positionals = append(args.Positionals, v)
	}
	for _, k := range sortedKeys(p.Keywords) {
		v, err := c.Eval(p.Keywords[k])
		if err != nil {
			return args, err
		}
		args.Keywords[k] = v
	}
	return args, nil
}

func (c *Context) module(e Expr, name string) (Attributer, error) {
	if c.imports == nil {
		return nil, unresolved(e, "no importer configured")
	}
	m, err := c.imports.Import(name)
	if err != nil {
		return nil, &Error{Kind: ErrResolution, Tag: e.Tag(), Ref: ref(e), Msg: "import " + name, Err: err}
	}
	return m, nil
}

func (c *Context) member(e Expr, module, name string) (any, error) {
	m, err := c.module(e, module)
	if err != nil {
		return nil, err
	}
	v, ok := m.Attr(name)
	if !ok {
		return nil, unresolved(e, "module %s has no attribute %s", module, name)
	}
	return v, nil
}

func (c *Context) evalAttribute(x *Attribute) (any, error) {
	return c.member(x, x.Module, x.Attribute)
}

func (c *Context) evalClassAttribute(x *ClassAttribute) (any, error) {
	cls, err := c.member(x, x.Module, x.Class)
	if err != nil {
		return nil, err
	}
	return attrOf(x, cls, x.Attribute)
}

func (c *Context) evalClassMethod(x *ClassMethod) (any, error) {
	cls, err := c.member(x, x.Module, x.Class)
	if err != nil {
		return nil, err
	}
	m, err := attrOf(x, cls, x.Method)
	if err != nil {
		return nil, err
	}
	return c.call(x, m, x.Params)
}

func (c *Context) evalCallable(x *Callable) (any, error) {
	fn, err := c.member(x, x.Module, x.Callable)
	if err != nil {
		return nil, err
	}
	return c.call(x, fn, x.Params)
}

func (c *Context) evalAttribs(x *Attribs) (any, error) {
	m, err := c.module(x, x.Module)
	if err != nil {
		return nil, err
	}
	var cur any = m
	for _, s := range x.Steps {
		if s.Call != nil {
			if cur, err = c.call(x, cur, *s.Call); err != nil {
				return nil, err
			}
			continue
		}
		if cur, err = attrOf(x, cur, s.Name); err != nil {
			return nil, err
		}
	}
	return cur, nil
}

func (c *Context) evalQueryset(x *Queryset) (any, error) {
	model, err := c.member(x, x.Module, x.Model)
	if err != nil {
		return nil, err
	}
	src, ok := model.(QuerySource)
	if !ok {
		return nil, unresolved(x, "%s.%s is not a model (%T)", x.Module, x.Model, model)
	}
	q, err := src.AllRecords()
	if err != nil {
		return nil, callFailed(x, err)
	}
	for _, m := range x.Methods {
		fn, err := attrOf(x, q, m.Name)
		if err != nil {
			return nil, err
		}
		if q, err = c.call(x, fn, m.Params); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (c *Context) call(e Expr, target any, p Params) (any, error) {
	fn, ok := asFunc(target)
	if !ok {
		return nil, unresolved(e, "%T is not callable", target)
	}
	args, err := c.EvalParams(p)
	if err != nil {
		return nil, err
	}
	if c.trace != nil {
		c.trace(e)
	}
	v, err := fn(args)
	if err != nil {
		return nil, callFailed(e, err)
	}
	return v, nil
}

func attrOf(e Expr, target any, name string) (any, error) {
	a, ok := target.(Attributer)
	if !ok {
		return nil, unresolved(e, "%T has no attributes (looking up %s)", target, name)
	}
	v, ok := a.Attr(name)
	if !ok {
		return nil, unresolved(e, "no attribute %s", name)
	}
	return v, nil
}

func asFunc(v any) (Func, bool) {
	switch f := v.(type) {
	case Func:
		return f, f != nil
	case func(Args) (any, error):
		return Func(f), f != nil
	}
	return nil, false
}

// coerceLiteral: строки, похожие на целое, становятся int; float64 без
// дробной части — тоже int (хранилище не различает int и float).
func coerceLiteral(v any) any {
	switch t := v.(type) {
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return int(n)
		}
		return t
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return int(t)
		}
		return t
	case int64:
		return int(t)
	}
	return v
}
