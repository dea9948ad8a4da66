package namespace_test

import (
	"context"
	"testing"

	"dynmodels/internal/dsl"
	"dynmodels/internal/expr"
	"dynmodels/internal/namespace"
	"dynmodels/internal/orm"
	"dynmodels/internal/registry"
	"dynmodels/internal/store"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
)

func save(t *testing.T, coll store.Collection, spec *dsl.Spec) {
	t.Helper()
	spec.ID = spec.Name
	require.NoError(t, coll.Save(context.Background(), spec.Document()))
}

func TestLoadIsolatesBadSpecs(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemory()
	coll := conn.Collection(store.ModelsCollection)
	reg := registry.New()
	orm.Register(reg)

	save(t, coll, dsl.SimpleModel("Widget", true, "", dsl.Fields{"label": dsl.SimpleField("TextField", nil)}))
	save(t, coll, dsl.Model("Ghost", dsl.Attribute("store.models", "Model"), dsl.Fields{
		"x": dsl.Callable("no.such.module", "TextField", nil),
	}, nil))
	require.NoError(t, coll.Save(ctx, store.Document{"_id": "Broken", "name": ""}))

	scope := tally.NewTestScope("", nil)
	ns := namespace.New(dsl.DynamicModels, coll, reg, orm.Hook{}, namespace.WithScope(scope))
	require.NoError(t, ns.Load(ctx))

	w, err := ns.Get("Widget")
	require.NoError(t, err)
	assert.Equal(t, "Widget", w.TypeName())
	assert.Equal(t, []string{"Broken", "Ghost"}, ns.FailedNames())
	assert.True(t, errors.Is(ns.Failed()["Ghost"], registry.ErrNoModule))
	assert.True(t, errors.Is(ns.Failed()["Ghost"], expr.ErrResolution))

	_, err = ns.Get("Ghost")
	assert.True(t, errors.Is(err, namespace.ErrLookup))

	counters := scope.Snapshot().Counters()
	require.Contains(t, counters, "namespace.specs_compiled+result=success")
	assert.Equal(t, int64(1), counters["namespace.specs_compiled+result=success"].Value())
	assert.Equal(t, int64(2), counters["namespace.specs_compiled+result=fail"].Value())
}

func TestReloadBuildsFreshTypes(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemory()
	coll := conn.Collection(store.ModelsCollection)
	reg := registry.New()
	orm.Register(reg)
	save(t, coll, dsl.SimpleModel("Widget", true, "", dsl.Fields{"label": dsl.SimpleField("TextField", nil)}))

	ns := namespace.New(dsl.DynamicModels, coll, reg, orm.Hook{})
	require.NoError(t, ns.Load(ctx))
	first, err := ns.Get("Widget")
	require.NoError(t, err)

	ns.Unload()
	assert.False(t, ns.Loaded())
	assert.Empty(t, ns.Types())

	save(t, coll, dsl.SimpleModel("Gadget", true, "", dsl.Fields{"n": dsl.SimpleField("IntegerField", nil)}))
	require.NoError(t, ns.Reload(ctx))

	second, err := ns.Get("Widget")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Len(t, ns.Types(), 2)
}

func TestResourcesResolveCompiledModels(t *testing.T) {
	ctx := context.Background()
	conn := store.NewMemory()
	models := conn.Collection(store.ModelsCollection)
	reg := registry.New()
	orm.Register(reg)
	save(t, models, dsl.SimpleModel("Widget", true, "", dsl.Fields{"label": dsl.SimpleField("TextField", nil)}))

	ns := namespace.New(dsl.DynamicModels, models, reg, orm.Hook{})
	ns.Register()

	// первое обращение через реестр загружает пространство имён
	var order []string
	ectx := expr.NewContext(registry.NewImportCache(reg), expr.WithTrace(func(e expr.Expr) {
		order = append(order, string(e.Tag()))
	}))
	v, err := ectx.Eval(dsl.Queryset(dsl.DynamicModels, "Widget",
		dsl.Method("filter", dsl.Kw{"label__icontains": "a"})))
	require.NoError(t, err)
	assert.True(t, ns.Loaded())
	assert.Equal(t, []orm.Op{orm.OpAll, orm.OpFilter}, v.(*orm.QuerySet).Ops())
	assert.Equal(t, []string{"queryset"}, order)

	ns.Unload()
	_, err = ns.Get("Widget")
	assert.True(t, errors.Is(err, namespace.ErrLookup))
	require.NoError(t, ns.Load(ctx))
	_, err = ns.Get("Widget")
	assert.NoError(t, err)
}

func TestLoadFailsOnStoreError(t *testing.T) {
	ns := namespace.New("x", failingCollection{}, registry.New(), orm.Hook{})
	assert.Error(t, ns.Load(context.Background()))
	assert.False(t, ns.Loaded())
}

type failingCollection struct{ store.Collection }

func (failingCollection) Find(context.Context) ([]store.Document, error) {
	return nil, errors.New("connection refused")
}
