package orm_test

import (
	"testing"
	"time"

	"dynmodels/internal/compiler"
	"dynmodels/internal/dsl"
	"dynmodels/internal/expr"
	"dynmodels/internal/orm"
	"dynmodels/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry() *registry.Registry {
	reg := registry.New()
	orm.Register(reg)
	return reg
}

func compile(t *testing.T, reg *registry.Registry, spec *dsl.Spec) *orm.ModelType {
	t.Helper()
	c := compiler.New("demo", orm.Hook{}, expr.NewContext(registry.NewImportCache(reg)))
	typ, err := c.Compile(spec)
	require.NoError(t, err)
	return typ.(*orm.ModelType)
}

func widgetSpec() *dsl.Spec {
	return dsl.Model("Widget", dsl.Attribute("store.models", "Model"), dsl.Fields{
		"label": dsl.Callable("store.models", "TextField", nil),
		"size":  dsl.SimpleField("IntegerField", dsl.Kw{"null": true, "db_index": true}),
	}, dsl.Kw{"app_label": "demo"})
}

func TestWidgetScenario(t *testing.T) {
	reg := newRegistry()
	spec := dsl.Model("Widget", dsl.Attribute("store.models", "Model"), dsl.Fields{
		"label": dsl.Callable("store.models", "TextField", nil),
	}, dsl.Kw{"app_label": "demo"})

	m := compile(t, reg, spec)

	assert.Equal(t, "Widget", m.TypeName())
	assert.Equal(t, []*orm.ModelType{orm.BaseModel}, m.Bases())
	assert.Equal(t, []string{"label"}, m.FieldNames())
	assert.Equal(t, orm.TextField, m.Field("label").Kind)
	assert.Equal(t, "demo", m.Options().AppLabel)
	assert.Equal(t, "demo", m.Meta().String("app_label", ""))
	assert.Equal(t, "demo_widget", m.Table())
	assert.True(t, m.Options().Managed)
	require.NotNil(t, m.Objects())
	assert.Same(t, m, m.Objects().Model())
}

func TestCompileTwiceGivesDistinctEquivalentTypes(t *testing.T) {
	reg := newRegistry()
	a := compile(t, reg, widgetSpec())
	b := compile(t, reg, widgetSpec())

	assert.NotSame(t, a, b)
	assert.Equal(t, a.FieldNames(), b.FieldNames())
	assert.Equal(t, a.Field("size"), b.Field("size"))
	assert.Equal(t, a.Options(), b.Options())
}

func TestSimpleGeoModel(t *testing.T) {
	spec := dsl.SimpleGeoModel("Parcel", false, "parcels", dsl.Fields{
		"name": dsl.SimpleGeoField("CharField", dsl.Kw{"max_length": 100}),
		"geom": dsl.SimpleGeoField("MultiPolygonField", dsl.Kw{"srid": 3857}),
	})

	m := compile(t, newRegistry(), spec)

	assert.True(t, m.IsGeo())
	assert.Equal(t, "parcels", m.Table())
	assert.False(t, m.Options().Managed)
	assert.Equal(t, []string{"geom", "name"}, m.FieldNames())
	assert.Equal(t, "geometry(MultiPolygon, 3857)", m.GeoField().SQLType())
	assert.True(t, m.Objects().IsGeo())
	assert.Equal(t, "objects", m.Objects().Name())
}

func TestAbstractBaseContributesFields(t *testing.T) {
	reg := newRegistry()
	base := compile(t, reg, dsl.Model("Stamped", dsl.Attribute("store.models", "Model"), dsl.Fields{
		"stamp": dsl.SimpleField("DateTimeField", dsl.Kw{"null": true}),
	}, dsl.Kw{"abstract": true, "app_label": "demo"}))

	_, err := base.AllRecords()
	assert.Error(t, err)

	reg.RegisterModule(registry.NewModule("demo.bases").Set("Stamped", base))
	child := compile(t, reg, dsl.Model("Event", dsl.Attribute("demo.bases", "Stamped"), dsl.Fields{
		"title": dsl.SimpleField("CharField", dsl.Kw{"max_length": 20}),
	}, nil))

	assert.Equal(t, []string{"stamp", "title"}, child.FieldNames())
	assert.Equal(t, "demo", child.Options().AppLabel)
	assert.Equal(t, "demo_event", child.Table())
}

func TestHookErrors(t *testing.T) {
	reg := newRegistry()
	c := compiler.New("demo", orm.Hook{}, expr.NewContext(registry.NewImportCache(reg)))

	tests := []struct {
		name string
		spec *dsl.Spec
	}{
		{"invalid meta", dsl.Model("A", dsl.Attribute("store.models", "Model"), nil, dsl.Kw{"colour": "red"})},
		{"char field without max_length", dsl.Model("B", dsl.Attribute("store.models", "Model"), dsl.Fields{
			"name": dsl.SimpleField("CharField", nil),
		}, nil)},
		{"unknown field keyword", dsl.Model("C", dsl.Attribute("store.models", "Model"), dsl.Fields{
			"name": dsl.SimpleField("TextField", dsl.Kw{"colour": "red"}),
		}, nil)},
		{"ordering by unknown field", dsl.Model("D", dsl.Attribute("store.models", "Model"), dsl.Fields{
			"name": dsl.SimpleField("TextField", nil),
		}, dsl.Kw{"ordering": []any{"-age"}})},
		{"base is not a model", dsl.Model("E", dsl.Attribute("store.models", "Manager"), nil, nil)},
		{"geo field from plain module", dsl.Model("F", dsl.Attribute("store.models", "Model"), dsl.Fields{
			"geom": dsl.SimpleField("PointField", nil),
		}, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Compile(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestExtraAttributes(t *testing.T) {
	spec := widgetSpec()
	spec.Extra["description"] = dsl.Lit("small things")

	m := compile(t, newRegistry(), spec)
	v, ok := m.Attr("description")
	require.True(t, ok)
	assert.Equal(t, "small things", v)

	assert.Error(t, m.SetAttr("label", "shadow"))
}

func TestFieldCoerce(t *testing.T) {
	char, err := orm.NewField(orm.CharField, expr.Args{Keywords: map[string]any{
		"max_length": 3, "choices": []any{"a", "bb"},
	}})
	require.NoError(t, err)
	v, err := char.Coerce("bb")
	require.NoError(t, err)
	assert.Equal(t, "bb", v)
	_, err = char.Coerce("ccc")
	assert.Error(t, err)

	num, err := orm.NewField(orm.IntegerField, expr.Args{})
	require.NoError(t, err)
	v, err = num.Coerce(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	v, err = num.Coerce(float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)
	_, err = num.Coerce(1.5)
	assert.Error(t, err)

	dec, err := orm.NewField(orm.DecimalField, expr.Args{Keywords: map[string]any{"max_digits": 6, "decimal_places": 2}})
	require.NoError(t, err)
	v, err = dec.Coerce("3.14159")
	require.NoError(t, err)
	assert.Equal(t, 3.14, v)
	assert.Equal(t, "numeric(6,2)", dec.SQLType())

	day, err := orm.NewField(orm.DateField, expr.Args{})
	require.NoError(t, err)
	v, err = day.Coerce("2024-03-05T10:11:12Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), v)

	pt, err := orm.NewField(orm.PointField, expr.Args{})
	require.NoError(t, err)
	assert.Equal(t, 4326, pt.SRID)
	_, err = pt.Coerce(map[string]any{"type": "Point", "coordinates": []any{1.0, 2.0}})
	assert.NoError(t, err)
	_, err = pt.Coerce(map[string]any{"type": "Polygon", "coordinates": []any{}})
	assert.Error(t, err)

	email, err := orm.NewField(orm.EmailField, expr.Args{Positionals: []any{"E-mail"}})
	require.NoError(t, err)
	assert.Equal(t, "E-mail", email.VerboseName)
	_, err = email.Coerce("nobody")
	assert.Error(t, err)
}

func TestQuerysetExpression(t *testing.T) {
	reg := newRegistry()
	widget := compile(t, reg, widgetSpec())
	reg.RegisterModule(registry.NewModule("demo.models").Set("Widget", widget))

	ectx := expr.NewContext(registry.NewImportCache(reg))
	v, err := ectx.Eval(dsl.Queryset("demo.models", "Widget",
		dsl.Method("filter", dsl.Kw{"size__gte": 2}),
		dsl.Method("exclude", dsl.Kw{"label": "b"}),
		dsl.Method("order_by", nil, "-size"),
		dsl.Method("limit", nil, 10),
	))
	require.NoError(t, err)

	qs := v.(*orm.QuerySet)
	assert.Equal(t, []orm.Op{orm.OpAll, orm.OpFilter, orm.OpExclude, orm.OpOrderBy, orm.OpLimit}, qs.Ops())

	sql, args := qs.SQL()
	assert.Equal(t, `SELECT * FROM "demo_widget" WHERE ("size" >= $1) AND NOT ("label" = $2) ORDER BY "size" DESC LIMIT 10`, sql)
	assert.Equal(t, []any{int64(2), "b"}, args)

	rows := []orm.Row{
		orm.MapRow{"label": "a", "size": 1},
		orm.MapRow{"label": "b", "size": 3},
		orm.MapRow{"label": "c", "size": 5},
		orm.MapRow{"label": "d", "size": 2},
	}
	got := qs.Apply(rows)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].(orm.MapRow)["label"])
	assert.Equal(t, "d", got[1].(orm.MapRow)["label"])
}

func TestQuerysetLookups(t *testing.T) {
	m := compile(t, newRegistry(), widgetSpec())
	all := m.Objects().All()

	rows := []orm.Row{
		orm.MapRow{"label": "Alpha", "size": 1},
		orm.MapRow{"label": "beta", "size": nil},
		orm.MapRow{"label": "gamma", "size": 9},
	}

	tests := []struct {
		conds map[string]any
		want  int
	}{
		{map[string]any{"label__iexact": "alpha"}, 1},
		{map[string]any{"label__icontains": "A"}, 3},
		{map[string]any{"label__contains": "a", "size__lt": 5}, 1},
		{map[string]any{"label__startswith": "g"}, 1},
		{map[string]any{"size__isnull": true}, 1},
		{map[string]any{"size__in": []any{1, 9}}, 2},
		{map[string]any{"size": nil}, 1},
	}
	for _, tt := range tests {
		qs, err := all.Filter(tt.conds)
		require.NoError(t, err)
		assert.Len(t, qs.Apply(rows), tt.want, "%v", tt.conds)
	}

	_, err := all.Filter(map[string]any{"colour": "red"})
	assert.Error(t, err)
	_, err = all.OrderBy("-colour")
	assert.Error(t, err)

	// исходная цепочка не меняется
	assert.Equal(t, []orm.Op{orm.OpAll}, all.Ops())
}

func TestCharLookupsCompareAsStrings(t *testing.T) {
	spec := dsl.Model("Parcel", dsl.Attribute("store.models", "Model"), dsl.Fields{
		"code": dsl.SimpleField("CharField", dsl.Kw{"max_length": 16}),
	}, dsl.Kw{"app_label": "demo"})
	m := compile(t, newRegistry(), spec)
	all := m.Objects().All()

	rows := []orm.Row{
		orm.MapRow{"code": "02134"},
		orm.MapRow{"code": "2134"},
		orm.MapRow{"code": "2.134e3"},
		orm.MapRow{"code": "900"},
	}

	qs, err := all.Filter(map[string]any{"code": "2134"})
	require.NoError(t, err)
	assert.Equal(t, []orm.Row{orm.MapRow{"code": "2134"}}, qs.Apply(rows))

	qs, err = all.Filter(map[string]any{"code__in": []any{"02134", 2134}})
	require.NoError(t, err)
	assert.Len(t, qs.Apply(rows), 2)

	// "900" > "2134" лексикографически, "2.134e3" < "2134"
	qs, err = all.Filter(map[string]any{"code__gt": "2134"})
	require.NoError(t, err)
	assert.Equal(t, []orm.Row{orm.MapRow{"code": "900"}}, qs.Apply(rows))

	qs, err = all.OrderBy("code")
	require.NoError(t, err)
	var codes []any
	for _, r := range qs.Apply(rows) {
		v, _ := r.Get("code")
		codes = append(codes, v)
	}
	assert.Equal(t, []any{"02134", "2.134e3", "2134", "900"}, codes)
}

func TestInLookupCoercesItems(t *testing.T) {
	m := compile(t, newRegistry(), widgetSpec())
	rows := []orm.Row{
		orm.MapRow{"label": "a", "size": int64(1)},
		orm.MapRow{"label": "b", "size": int64(5)},
		orm.MapRow{"label": "c", "size": int64(7)},
	}
	qs, err := m.Objects().All().Filter(map[string]any{"size__in": []any{"1", "5"}})
	require.NoError(t, err)
	assert.Len(t, qs.Apply(rows), 2)
}
