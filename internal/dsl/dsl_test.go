package dsl

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dynmodels/internal/expr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelDropsNoneMetaAndNormalizesBases(t *testing.T) {
	s := Model("Widget", Attribute(ModelsModule, "Model"), Fields{
		"label": SimpleField("TextField", nil),
	}, Kw{"app_label": "demo", "db_table": nil})

	require.Len(t, s.Bases, 1)
	assert.Equal(t, &expr.Attribute{Module: "store.models", Attribute: "Model"}, s.Bases[0])
	assert.Contains(t, s.Meta, "app_label")
	assert.NotContains(t, s.Meta, "db_table")
	assert.NoError(t, s.Validate())
}

func TestSimpleBuilders(t *testing.T) {
	m := SimpleModel("Plain", true, "", Fields{"n": SimpleField("IntegerField", Kw{"default": 10})})
	assert.NotContains(t, m.Meta, "db_table")
	assert.Equal(t, &expr.Literal{Value: AppLabel}, m.Meta["app_label"])
	assert.Equal(t, KindModel, m.Kind())

	g := SimpleGeoModel("Sites", false, "sites", Fields{"geom": SimpleGeoField("PointField", nil)})
	assert.Equal(t, &expr.Attribute{Module: GeoModelsModule, Attribute: "GeoModel"}, g.Bases[0])
	require.Contains(t, g.Fields, "objects")
	assert.Equal(t, "GeoManager", g.Fields["objects"].(*expr.Callable).Callable)
	assert.Equal(t, &expr.Literal{Value: "sites"}, g.Meta["db_table"])

	r := SimpleGeoResource(DynamicModels, "Sites", "sites", Kw{"filtering": nil})
	assert.Equal(t, KindResource, r.Kind())
	assert.Equal(t, "Sites", r.Name)
	qs := r.Meta["queryset"].(*expr.Queryset)
	assert.Equal(t, "Sites", qs.Model)
	require.Len(t, qs.Methods, 1)
	assert.Equal(t, "all", qs.Methods[0].Name)
	assert.NotContains(t, r.Meta, "filtering")
}

func TestSpecJSONRoundTrip(t *testing.T) {
	s := SimpleModel("Widget", true, "", Fields{
		"label": SimpleField("CharField", Kw{"max_length": 80}),
	})
	s.Extra["verbose"] = Lit("Widgets")
	s.ID, s.Owner = "Widget", "u1"

	b, err := json.Marshal(s)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Equal(t, "Widget", doc["_id"])
	assert.Equal(t, "Widgets", doc["verbose"])

	var back Spec
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, "u1", back.Owner)
	assert.Equal(t, []string{"label"}, back.FieldNames())
	assert.Contains(t, back.Extra, "verbose")
}

func TestFromDocumentSingleBase(t *testing.T) {
	s, err := FromDocument(map[string]any{
		"name":  "X",
		"bases": map[string]any{"type": "attribute", "module": "m", "attribute": "B"},
	})
	require.NoError(t, err)
	require.Len(t, s.Bases, 1)

	_, err = FromDocument(map[string]any{"bases": []any{}})
	assert.Error(t, err)

	bad := &Spec{Name: "9lives", Bases: s.Bases}
	assert.Error(t, bad.Validate())
}

func TestParseSpecs(t *testing.T) {
	src := `
module inventory
# комментарий
entity Widget:
  label: string required max_length=80
  weight: float index
  state: enum[new, used]
  constraints:
    unique(label, state)

entity Site:
  name: string unique
  geom: point srid=4326
`
	specs, err := ParseSpecs(strings.NewReader(src), "inline.dsl")
	require.NoError(t, err)
	require.Len(t, specs, 2)

	w := specs[0]
	assert.Equal(t, "Widget", w.Name)
	assert.Equal(t, &expr.Literal{Value: "inventory"}, w.Meta["app_label"])
	label := w.Fields["label"].(*expr.Callable)
	assert.Equal(t, "CharField", label.Callable)
	assert.Equal(t, &expr.Literal{Value: 80}, label.Params.Keywords["max_length"])
	assert.Equal(t, &expr.Literal{Value: false}, label.Params.Keywords["null"])
	assert.Equal(t, &expr.Literal{Value: true}, w.Fields["weight"].(*expr.Callable).Params.Keywords["db_index"])
	assert.Contains(t, w.Fields["state"].(*expr.Callable).Params.Keywords, "choices")
	assert.Equal(t, &expr.Literal{Value: []any{[]any{"label", "state"}}}, w.Meta["unique_together"])

	site := specs[1]
	assert.Equal(t, "GeoModel", site.Bases[0].(*expr.Attribute).Attribute)
	assert.Equal(t, GeoModelsModule, site.Fields["geom"].(*expr.Callable).Module)
}

func TestParseSpecsUnknownType(t *testing.T) {
	_, err := ParseSpecs(strings.NewReader("entity A:\n  x: blob\n"), "bad.dsl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.dsl:2")
}

func TestLoadAllSpecsAndDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.dsl"), []byte("entity A:\n  x: int\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.dsl"), []byte("entity A:\n  y: int\n"), 0o644))
	_, err := LoadAllSpecs(dir)
	assert.ErrorContains(t, err, "duplicate entity")

	docs := t.TempDir()
	yml := `
- name: Road
  bases:
    - {type: attribute, module: store.models, attribute: Model}
  fields:
    lanes: {type: callable, module: store.models, callable: IntegerField, parameters: {keywords: {default: 2}}}
  meta: {app_label: roads}
- name: RoadResource
  _kind: resource
  bases: [{type: attribute, module: api.resources, attribute: ModelResource}]
  meta:
    queryset: {type: queryset, module: dynamic.models, model: Road, extra: [{method: all}]}
`
	require.NoError(t, os.WriteFile(filepath.Join(docs, "roads.yaml"), []byte(yml), 0o644))
	specs, err := LoadDocuments(docs)
	require.NoError(t, err)
	require.Len(t, specs, 2)
	assert.Equal(t, KindModel, specs[0].Kind())
	assert.Equal(t, KindResource, specs[1].Kind())
	assert.IsType(t, &expr.Queryset{}, specs[1].Meta["queryset"])
}

func TestAttribsSteps(t *testing.T) {
	a := Attribs("m", "objects", Kw{"size": 3}, Call(nil, "x"), "first")
	require.Len(t, a.Steps, 4)
	assert.Equal(t, "objects", a.Steps[0].Name)
	require.NotNil(t, a.Steps[1].Call)
	assert.Equal(t, &expr.Literal{Value: 3}, a.Steps[1].Call.Keywords["size"])
	require.NotNil(t, a.Steps[2].Call)
	assert.Equal(t, []expr.Expr{&expr.Literal{Value: "x"}}, a.Steps[2].Call.Positionals)
	assert.Equal(t, "first", a.Steps[3].Name)

	assert.Panics(t, func() { Attribs("m", "objects", 42) })
}

func TestCloneReportsUnencodableValues(t *testing.T) {
	s := SimpleModel("Gauge", true, "", Fields{
		"level": SimpleField("FloatField", Kw{"default": math.NaN()}),
	})
	_, err := s.Clone()
	assert.Error(t, err)

	ok := SimpleModel("Gauge", true, "", Fields{
		"level": SimpleField("FloatField", Kw{"default": 1.5}),
	})
	c, err := ok.Clone()
	require.NoError(t, err)
	assert.NotSame(t, ok, c)
	assert.Equal(t, ok.Name, c.Name)
	assert.Equal(t, ok.FieldNames(), c.FieldNames())
}
