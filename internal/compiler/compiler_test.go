package compiler_test

import (
	"testing"

	"dynmodels/internal/compiler"
	"dynmodels/internal/dsl"
	"dynmodels/internal/expr"
	"dynmodels/internal/registry"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type base struct{ name string }

type builtType struct {
	name    string
	bases   []any
	members compiler.Members
	attrs   map[string]any
}

func (t *builtType) TypeName() string { return t.name }

func (t *builtType) SetAttr(name string, v any) error {
	if name == "forbidden" {
		return errors.New("attribute is read-only")
	}
	t.attrs[name] = v
	return nil
}

type field struct{ kw map[string]any }

var stubHook = compiler.HookFunc(func(name string, bases []any, m compiler.Members) (compiler.Type, error) {
	for _, b := range bases {
		if _, ok := b.(*base); !ok {
			return nil, errors.Errorf("bad base %T", b)
		}
	}
	return &builtType{name: name, bases: bases, members: m, attrs: map[string]any{}}, nil
})

func newRegistry() *registry.Registry {
	reg := registry.New()
	reg.RegisterModule(registry.NewModule("app.models").
		Set("Model", &base{name: "Model"}).
		Set("Plain", 7).
		Func("CharField", func(a expr.Args) (any, error) { return &field{kw: a.Keywords}, nil }).
		Func("IntegerField", func(a expr.Args) (any, error) { return &field{kw: a.Keywords}, nil }).
		Func("Broken", func(a expr.Args) (any, error) { return nil, errors.New("boom") }))
	return reg
}

func newCompiler(reg *registry.Registry) *compiler.Compiler {
	ectx := expr.NewContext(registry.NewImportCache(reg))
	return compiler.New("test", stubHook, ectx)
}

func widget() *dsl.Spec {
	return dsl.Model("Widget", dsl.Attribute("app.models", "Model"), dsl.Fields{
		"name": dsl.Callable("app.models", "CharField", dsl.Kw{"max_length": 40}),
		"size": dsl.Callable("app.models", "IntegerField", nil),
	}, dsl.Kw{"app_label": "dynamic_models"})
}

func TestCompileWidget(t *testing.T) {
	c := newCompiler(newRegistry())

	typ, err := c.Compile(widget())
	require.NoError(t, err)

	bt := typ.(*builtType)
	assert.Equal(t, "Widget", bt.TypeName())
	require.Len(t, bt.bases, 1)
	assert.Equal(t, "Model", bt.bases[0].(*base).name)
	assert.Equal(t, []string{"name", "size"}, bt.members.FieldOrder)
	assert.Equal(t, 40, bt.members.Fields["name"].(*field).kw["max_length"])
	assert.Equal(t, "dynamic_models", bt.members.Meta.String("app_label", ""))
	assert.Equal(t, "test", bt.members.Module)
}

func TestCompileIsIdempotent(t *testing.T) {
	c := newCompiler(newRegistry())
	spec := widget()

	a, err := c.Compile(spec)
	require.NoError(t, err)
	b, err := c.Compile(spec)
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, a.(*builtType).members.FieldOrder, b.(*builtType).members.FieldOrder)
}

func TestCompileAppliesEveryExtraAttribute(t *testing.T) {
	spec := widget()
	spec.Extra = map[string]expr.Expr{
		"label":  dsl.Lit("widgets"),
		"answer": dsl.Attribute("app.models", "Plain"),
		"_kind":  dsl.Lit("model"),
	}

	typ, err := newCompiler(newRegistry()).Compile(spec)
	require.NoError(t, err)

	attrs := typ.(*builtType).attrs
	assert.Equal(t, "widgets", attrs["label"])
	assert.Equal(t, 7, attrs["answer"])
	assert.NotContains(t, attrs, "_kind")
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name  string
		spec  func() *dsl.Spec
		stage compiler.Stage
		kind  error
	}{
		{
			name:  "missing module",
			spec:  func() *dsl.Spec { return dsl.Model("X", dsl.Attribute("nope", "Model"), nil, nil) },
			stage: compiler.StageBases,
			kind:  expr.ErrResolution,
		},
		{
			name: "base is not an attribute",
			spec: func() *dsl.Spec {
				s := widget()
				s.Bases = []expr.Expr{dsl.Lit("app.models.Model")}
				return s
			},
			stage: compiler.StageBases,
			kind:  compiler.ErrConstruction,
		},
		{
			name: "field is not a callable",
			spec: func() *dsl.Spec {
				s := widget()
				s.Fields["size"] = dsl.Lit(3)
				return s
			},
			stage: compiler.StageFields,
			kind:  compiler.ErrConstruction,
		},
		{
			name: "field constructor fails",
			spec: func() *dsl.Spec {
				s := widget()
				s.Fields["size"] = dsl.Callable("app.models", "Broken", nil)
				return s
			},
			stage: compiler.StageFields,
			kind:  expr.ErrCall,
		},
		{
			name:  "hook rejects bases",
			spec:  func() *dsl.Spec { return dsl.Model("X", dsl.Attribute("app.models", "Plain"), nil, nil) },
			stage: compiler.StageBuild,
			kind:  compiler.ErrConstruction,
		},
		{
			name: "read-only extra attribute",
			spec: func() *dsl.Spec {
				s := widget()
				s.Extra = map[string]expr.Expr{"forbidden": dsl.Lit(1)}
				return s
			},
			stage: compiler.StageAttrs,
			kind:  compiler.ErrConstruction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newCompiler(newRegistry()).Compile(tt.spec())
			require.Error(t, err)

			var se *compiler.SpecError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.stage, se.Stage)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestCompileAllIsolatesFailures(t *testing.T) {
	c := newCompiler(newRegistry())
	specs := []*dsl.Spec{
		widget(),
		dsl.Model("Ghost", dsl.Attribute("missing.module", "Model"), nil, nil),
		dsl.Model("Empty", dsl.Attribute("app.models", "Model"), nil, nil),
	}

	res, err := c.CompileAll(specs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrNoModule))

	require.Len(t, res.Types, 2)
	assert.Equal(t, "Widget", res.Types[0].TypeName())
	assert.Equal(t, "Empty", res.Types[1].TypeName())
	assert.Contains(t, res.Failed, "Ghost")
}
