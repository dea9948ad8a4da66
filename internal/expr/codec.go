package expr

import (
	"fmt"
	"sort"

	"github.com/pkg/errors"
)

// Decode превращает разобранный JSON/YAML-документ в выражение.
// Словарь без "type" и списки считаются литералами.
func Decode(raw any) (Expr, error) {
	if e, ok := raw.(Expr); ok {
		return e, nil
	}
	m, ok := asMap(raw)
	if !ok {
		return &Literal{Value: raw}, nil
	}
	t, has := m["type"]
	if !has {
		return &Literal{Value: raw}, nil
	}
	tag, ok := t.(string)
	if !ok {
		return nil, decodeErr("type must be a string, got %T", t)
	}

	switch Tag(tag) {
	case TagAttribute:
		mod, err := str(m, "module")
		if err != nil {
			return nil, err
		}
		attr, err := str(m, "attribute")
		if err != nil {
			return nil, err
		}
		return &Attribute{Module: mod, Attribute: attr}, nil

	case TagClassAttribute:
		mod, err := str(m, "module")
		if err != nil {
			return nil, err
		}
		cls, err := str(m, "cls")
		if err != nil {
			return nil, err
		}
		attr, err := str(m, "attribute")
		if err != nil {
			return nil, err
		}
		return &ClassAttribute{Module: mod, Class: cls, Attribute: attr}, nil

	case TagClassMethod:
		mod, err := str(m, "module")
		if err != nil {
			return nil, err
		}
		cls, err := str(m, "cls")
		if err != nil {
			return nil, err
		}
		meth, err := str(m, "method")
		if err != nil {
			return nil, err
		}
		p, err := DecodeParams(m["parameters"])
		if err != nil {
			return nil, err
		}
		return &ClassMethod{Module: mod, Class: cls, Method: meth, Params: p}, nil

	case TagCallable:
		mod, err := str(m, "module")
		if err != nil {
			return nil, err
		}
		name, err := str(m, "callable")
		if err != nil {
			return nil, err
		}
		p, err := DecodeParams(m["parameters"])
		if err != nil {
			return nil, err
		}
		return &Callable{Module: mod, Callable: name, Params: p}, nil

	case TagAttribs:
		mod, err := str(m, "module")
		if err != nil {
			return nil, err
		}
		steps, err := decodeSteps(m["ls"])
		if err != nil {
			return nil, err
		}
		return &Attribs{Module: mod, Steps: steps}, nil

	case TagQueryset:
		mod, err := str(m, "module")
		if err != nil {
			return nil, err
		}
		model, err := str(m, "model")
		if err != nil {
			return nil, err
		}
		var methods []Method
		if ex, ok := m["extra"]; ok && ex != nil {
			list, ok := ex.([]any)
			if !ok {
				return nil, decodeErr("queryset extra must be a list, got %T", ex)
			}
			for i, it := range list {
				meth, err := DecodeMethod(it)
				if err != nil {
					return nil, errors.Wrapf(err, "queryset extra[%d]", i)
				}
				methods = append(methods, meth)
			}
		}
		return &Queryset{Module: mod, Model: model, Methods: methods}, nil

	case TagDatetime:
		v, err := str(m, "value")
		if err != nil {
			return nil, err
		}
		return &Datetime{Value: v}, nil
	}

	return &Unknown{Raw: m}, nil
}

// DecodeParams читает блок {positionals, keywords}. Голый список трактуется
// как одни позиционные аргументы.
func DecodeParams(raw any) (Params, error) {
	var p Params
	if raw == nil {
		return p, nil
	}
	if list, ok := raw.([]any); ok {
		return decodePositionals(list)
	}
	m, ok := asMap(raw)
	if !ok {
		return p, decodeErr("parameters must be a map, got %T", raw)
	}
	if pos, ok := m["positionals"]; ok && pos != nil {
		list, ok := pos.([]any)
		if !ok {
			return p, decodeErr("positionals must be a list, got %T", pos)
		}
		pp, err := decodePositionals(list)
		if err != nil {
			return p, err
		}
		p.Positionals = pp.Positionals
	}
	if kw, ok := m["keywords"]; ok && kw != nil {
		km, ok := asMap(kw)
		if !ok {
			return p, decodeErr("keywords must be a map, got %T", kw)
		}
		p.Keywords = make(map[string]Expr, len(km))
		for k, v := range km {
			e, err := Decode(v)
			if err != nil {
				return p, errors.Wrapf(err, "keyword %q", k)
			}
			p.Keywords[k] = e
		}
	}
	return p, nil
}

// DecodeMethod читает шаг queryset-цепочки {method, parameters}.
func DecodeMethod(raw any) (Method, error) {
	m, ok := asMap(raw)
	if !ok {
		return Method{}, decodeErr("method must be a map, got %T", raw)
	}
	name, err := str(m, "method")
	if err != nil {
		return Method{}, err
	}
	p, err := DecodeParams(m["parameters"])
	if err != nil {
		return Method{}, err
	}
	return Method{Name: name, Params: p}, nil
}

func decodePositionals(list []any) (Params, error) {
	var p Params
	for i, it := range list {
		e, err := Decode(it)
		if err != nil {
			return p, errors.Wrapf(err, "positional %d", i)
		}
		p.Positionals = append(p.Positionals, e)
	}
	return p, nil
}

func decodeSteps(raw any) ([]AttribStep, error) {
	switch v := raw.(type) {
	case string:
		return []AttribStep{{Name: v}}, nil
	case []any:
		steps := make([]AttribStep, 0, len(v))
		for i, it := range v {
			if s, ok := it.(string); ok {
				steps = append(steps, AttribStep{Name: s})
				continue
			}
			p, err := DecodeParams(it)
			if err != nil {
				return nil, errors.Wrapf(err, "ls[%d]", i)
			}
			steps = append(steps, AttribStep{Call: &p})
		}
		return steps, nil
	}
	return nil, decodeErr("attribs ls must be a string or list, got %T", raw)
}

// Encode возвращает JSON-совместимое представление выражения.
func Encode(e Expr) any {
	switch x := e.(type) {
	case nil:
		return nil
	case *Literal:
		return x.Value
	case *Attribute:
		return map[string]any{"type": string(TagAttribute), "module": x.Module, "attribute": x.Attribute}
	case *ClassAttribute:
		return map[string]any{"type": string(TagClassAttribute), "module": x.Module, "cls": x.Class, "attribute": x.Attribute}
	case *ClassMethod:
		return map[string]any{
			"type": string(TagClassMethod), "module": x.Module, "cls": x.Class, "method": x.Method,
			"parameters": EncodeParams(x.Params),
		}
	case *Callable:
		return map[string]any{
			"type": string(TagCallable), "module": x.Module, "callable": x.Callable,
			"parameters": EncodeParams(x.Params),
		}
	case *Attribs:
		ls := make([]any, 0, len(x.Steps))
		for _, s := range x.Steps {
			if s.Call != nil {
				ls = append(ls, EncodeParams(*s.Call))
			} else {
				ls = append(ls, s.Name)
			}
		}
		return map[string]any{"type": string(TagAttribs), "module": x.Module, "ls": ls}
	case *Queryset:
		extra := make([]any, 0, len(x.Methods))
		for _, m := range x.Methods {
			extra = append(extra, map[string]any{"method": m.Name, "parameters": EncodeParams(m.Params)})
		}
		return map[string]any{"type": string(TagQueryset), "module": x.Module, "model": x.Model, "extra": extra}
	case *Datetime:
		return map[string]any{"type": string(TagDatetime), "value": x.Value}
	case *Unknown:
		return x.Raw
	}
	return nil
}

func EncodeParams(p Params) map[string]any {
	pos := make([]any, 0, len(p.Positionals))
	for _, e := range p.Positionals {
		pos = append(pos, Encode(e))
	}
	kw := make(map[string]any, len(p.Keywords))
	for _, k := range sortedKeys(p.Keywords) {
		kw[k] = Encode(p.Keywords[k])
	}
	return map[string]any{"positionals": pos, "keywords": kw}
}

// asMap понимает и map[string]any (json, yaml.v3), и map[any]any.
func asMap(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func str(m map[string]any, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", decodeErr("missing %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", decodeErr("%q must be a string, got %T", key, v)
	}
	return s, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
