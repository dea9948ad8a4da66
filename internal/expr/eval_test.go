package expr_test

import (
	"encoding/json"
	"testing"
	"time"

	"dynmodels/internal/expr"
	"dynmodels/internal/registry"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chain — минимальный queryset-подобный объект, запоминающий вызовы.
type chain struct {
	calls []string
}

func (c *chain) Attr(name string) (any, bool) {
	return expr.Func(func(a expr.Args) (any, error) {
		next := &chain{calls: append(append([]string(nil), c.calls...), name)}
		return next, nil
	}), true
}

type stubModel struct{}

func (stubModel) Attr(string) (any, bool)  { return nil, false }
func (stubModel) AllRecords() (any, error) { return &chain{calls: []string{"all"}}, nil }

type klass struct {
	attrs map[string]any
}

func (k *klass) Attr(name string) (any, bool) {
	v, ok := k.attrs[name]
	return v, ok
}

func newContext(t *testing.T, opts ...expr.Option) (*expr.Context, *[]string) {
	t.Helper()
	var effects []string
	reg := registry.New()
	reg.RegisterModule(registry.NewModule("demo").
		Func("upper", func(a expr.Args) (any, error) {
			s, _ := a.Positionals[0].(string)
			return "<" + s + ">", nil
		}).
		Func("join", func(a expr.Args) (any, error) {
			out := ""
			for _, p := range a.Positionals {
				out += p.(string)
			}
			if sep, ok := a.Kw("suffix"); ok {
				out += sep.(string)
			}
			return out, nil
		}).
		Func("fail", func(expr.Args) (any, error) { return nil, errors.New("boom") }).
		Set("Answer", 42).
		Set("M", stubModel{}).
		Set("Cls", &klass{attrs: map[string]any{
			"limit": 7,
			"setup": expr.Func(func(a expr.Args) (any, error) {
				effects = append(effects, "setup")
				return "done", nil
			}),
			"inner": &klass{attrs: map[string]any{"depth": 2}},
		}}))
	return expr.NewContext(registry.NewImportCache(reg), opts...), &effects
}

func TestLiteralCoercion(t *testing.T) {
	c, _ := newContext(t)

	v, err := c.Eval(&expr.Literal{Value: "10"})
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	v, err = c.Eval(&expr.Literal{Value: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", v)

	v, err = c.Eval(&expr.Literal{Value: float64(255)})
	require.NoError(t, err)
	assert.Equal(t, 255, v)

	v, err = c.Eval(&expr.Literal{Value: 2.5})
	require.NoError(t, err)
	assert.Equal(t, 2.5, v)

	v, err = c.Eval(&expr.Literal{Value: true})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	// за пределами int64 строка остаётся строкой
	v, err = c.Eval(&expr.Literal{Value: "99999999999999999999"})
	require.NoError(t, err)
	assert.Equal(t, "99999999999999999999", v)
}

func TestAttributeAndClassAttribute(t *testing.T) {
	c, _ := newContext(t)

	v, err := c.Eval(&expr.Attribute{Module: "demo", Attribute: "Answer"})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.Eval(&expr.ClassAttribute{Module: "demo", Class: "Cls", Attribute: "limit"})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCallableInsideOut(t *testing.T) {
	var order []string
	c, _ := newContext(t, expr.WithTrace(func(e expr.Expr) {
		if cl, ok := e.(*expr.Callable); ok {
			order = append(order, cl.Callable)
		}
	}))

	e := &expr.Callable{Module: "demo", Callable: "join", Params: expr.Params{
		Positionals: []expr.Expr{
			&expr.Callable{Module: "demo", Callable: "upper", Params: expr.Params{
				Positionals: []expr.Expr{&expr.Literal{Value: "a"}},
			}},
			&expr.Literal{Value: "b"},
		},
		Keywords: map[string]expr.Expr{"suffix": &expr.Literal{Value: "!"}},
	}}
	v, err := c.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, "<a>b!", v)
	assert.Equal(t, []string{"upper", "join"}, order)
}

func TestClassMethodIsEagerEffect(t *testing.T) {
	c, effects := newContext(t)
	e := &expr.ClassMethod{Module: "demo", Class: "Cls", Method: "setup"}
	assert.True(t, expr.IsEffect(e))
	assert.False(t, expr.IsEffect(&expr.Callable{}))

	v, err := c.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, []string{"setup"}, *effects)
}

func TestQuerysetAppliesMethodsInOrder(t *testing.T) {
	c, _ := newContext(t)
	v, err := c.Eval(&expr.Queryset{Module: "demo", Model: "M", Methods: []expr.Method{
		{Name: "filter"}, {Name: "exclude"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"all", "filter", "exclude"}, v.(*chain).calls)
}

func TestAttribsChain(t *testing.T) {
	c, _ := newContext(t)
	v, err := c.Eval(&expr.Attribs{Module: "demo", Steps: []expr.AttribStep{
		{Name: "Cls"}, {Name: "inner"}, {Name: "depth"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = c.Eval(&expr.Attribs{Module: "demo", Steps: []expr.AttribStep{
		{Name: "upper"},
		{Call: &expr.Params{Positionals: []expr.Expr{&expr.Literal{Value: "x"}}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, "<x>", v)
}

func TestDatetime(t *testing.T) {
	c, _ := newContext(t)
	v, err := c.Eval(&expr.Datetime{Value: "2012-05-01T10:30:00"})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2012, 5, 1, 10, 30, 0, 0, time.UTC), v)

	_, err = c.Eval(&expr.Datetime{Value: "not a date"})
	assert.True(t, errors.Is(err, expr.ErrResolution))
}

func TestUnknownTagPassesThrough(t *testing.T) {
	c, _ := newContext(t)
	raw := map[string]any{"type": "lambda", "body": "x"}
	e, err := expr.Decode(raw)
	require.NoError(t, err)
	v, err := c.Eval(e)
	require.NoError(t, err)
	assert.Equal(t, raw, v)
}

func TestResolutionErrors(t *testing.T) {
	c, _ := newContext(t)

	_, err := c.Eval(&expr.Callable{Module: "nope.models", Callable: "CharField"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, expr.ErrResolution))
	assert.True(t, errors.Is(err, registry.ErrNoModule))

	_, err = c.Eval(&expr.Attribute{Module: "demo", Attribute: "Missing"})
	assert.True(t, errors.Is(err, expr.ErrResolution))

	_, err = c.Eval(&expr.Callable{Module: "demo", Callable: "Answer"})
	assert.True(t, errors.Is(err, expr.ErrResolution))

	_, err = c.Eval(&expr.Callable{Module: "demo", Callable: "fail"})
	assert.True(t, errors.Is(err, expr.ErrCall))
}

func TestDecodeEncodeWireFormat(t *testing.T) {
	doc := `{
	  "type": "queryset", "module": "dynamic.models", "model": "Widget",
	  "extra": [
	    {"method": "filter", "parameters": {"positionals": [], "keywords": {"age__gte": "18"}}},
	    {"method": "exclude", "parameters": [{"type": "datetime", "value": "2012-01-01"}]}
	  ]
	}`
	var raw any
	require.NoError(t, json.Unmarshal([]byte(doc), &raw))

	e, err := expr.Decode(raw)
	require.NoError(t, err)
	qs, ok := e.(*expr.Queryset)
	require.True(t, ok)
	require.Len(t, qs.Methods, 2)
	assert.Equal(t, "filter", qs.Methods[0].Name)
	assert.Equal(t, &expr.Literal{Value: "18"}, qs.Methods[0].Params.Keywords["age__gte"])
	assert.Equal(t, &expr.Datetime{Value: "2012-01-01"}, qs.Methods[1].Params.Positionals[0])

	enc := expr.Encode(e).(map[string]any)
	assert.Equal(t, "queryset", enc["type"])
	assert.Len(t, enc["extra"], 2)

	_, err = expr.Decode(map[string]any{"type": "callable", "module": "x"})
	assert.True(t, errors.Is(err, expr.ErrDecode))
}

func TestDecodeNestedErrorsKeepCause(t *testing.T) {
	_, err := expr.Decode(map[string]any{
		"type": "callable", "module": "m", "callable": "f",
		"parameters": map[string]any{
			"keywords": map[string]any{"size": map[string]any{"type": "attribute", "module": "m"}},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, expr.ErrDecode))
	assert.Contains(t, err.Error(), `keyword "size"`)

	_, err = expr.Decode(map[string]any{
		"type": "attribs", "module": "m",
		"ls": []any{"a", map[string]any{"positionals": "oops"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, expr.ErrDecode))
	assert.Contains(t, err.Error(), "ls[1]")
}

func TestDecodeAttribsSteps(t *testing.T) {
	e, err := expr.Decode(map[string]any{
		"type": "attribs", "module": "m",
		"ls": []any{"a", map[string]any{"positionals": []any{"1"}}, "b"},
	})
	require.NoError(t, err)
	a := e.(*expr.Attribs)
	require.Len(t, a.Steps, 3)
	assert.Equal(t, "a", a.Steps[0].Name)
	require.NotNil(t, a.Steps[1].Call)
	assert.Len(t, a.Steps[1].Call.Positionals, 1)
	assert.Equal(t, "b", a.Steps[2].Name)
}
