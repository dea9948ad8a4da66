package csvspec_test

import (
	"strings"
	"testing"
	"time"

	"dynmodels/internal/compiler"
	"dynmodels/internal/csvspec"
	"dynmodels/internal/expr"
	"dynmodels/internal/orm"
	"dynmodels/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMungeColumn(t *testing.T) {
	tests := map[string]string{
		"Name":        "name",
		"Growth %":    "growth_pct",
		"2010 Pop.":   "x2010_pop",
		"__a__b__":    "x_a_b",
		"Avg. (mm)":   "avg_mm",
		"Déjà vu":     "d_j_vu",
		"already_ok1": "already_ok1",
	}
	for in, want := range tests {
		assert.Equal(t, want, csvspec.MungeColumn(in), in)
	}
}

func TestCasify(t *testing.T) {
	assert.Equal(t, "water_wells", csvspec.Casify("WaterWells"))
	assert.Equal(t, "wells", csvspec.Casify("wells"))
	assert.Equal(t, "a_b_c", csvspec.Casify("ABC"))
}

func TestModelFromCSV(t *testing.T) {
	data := "Name, *Age\r\nCharField, IntegerField\r\nAnn, 31\r\nBob, n/a\r\n"
	table, err := csvspec.ModelFromCSV("People", "People of the town", strings.NewReader(data))
	require.NoError(t, err)

	require.Len(t, table.Columns, 2)
	assert.Equal(t, csvspec.Column{Name: "name", Verbose: "Name", Kind: orm.CharField}, withoutField(table.Columns[0]))
	assert.Equal(t, csvspec.Column{Name: "age", Verbose: "Age", Kind: orm.IntegerField, Indexed: true}, withoutField(table.Columns[1]))

	// спецификация компилируется в модель с индексом на age
	reg := registry.New()
	orm.Register(reg)
	typ, err := compiler.New("dynamic.models", orm.Hook{}, expr.NewContext(registry.NewImportCache(reg))).Compile(table.Spec)
	require.NoError(t, err)
	m := typ.(*orm.ModelType)
	assert.Equal(t, []string{"age", "name"}, m.FieldNames())
	assert.True(t, m.Field("age").DBIndex)
	assert.False(t, m.Field("name").DBIndex)
	assert.Equal(t, 255, m.Field("name").MaxLength)
	assert.True(t, m.Field("name").Null)
	assert.Equal(t, "Age", m.Field("age").VerboseName)
	assert.Equal(t, "People of the town", m.Options().VerboseName)

	var rows []map[string]any
	require.NoError(t, table.Rows(func(rec map[string]any) error {
		rows = append(rows, rec)
		return nil
	}))
	require.Len(t, rows, 2)
	assert.Equal(t, map[string]any{"name": "Ann", "age": int64(31)}, rows[0])
	// неконвертируемое значение -> nil
	assert.Equal(t, map[string]any{"name": "Bob", "age": nil}, rows[1])
}

func TestIndexMarkerOnTypeRow(t *testing.T) {
	data := "Station,Reading,When,Ok\nCharField,*FloatField,DateField,BooleanField\nA,1.5,2024-02-03,yes\n"
	table, err := csvspec.ModelFromCSV("Readings", "Readings", strings.NewReader(data))
	require.NoError(t, err)
	assert.True(t, table.Columns[1].Indexed)
	assert.Equal(t, orm.FloatField, table.Columns[1].Kind)

	var got map[string]any
	require.NoError(t, table.Rows(func(rec map[string]any) error { got = rec; return nil }))
	assert.Equal(t, 1.5, got["reading"])
	assert.Equal(t, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), got["when"])
	assert.Equal(t, true, got["ok"])
}

func TestModelFromCSVErrors(t *testing.T) {
	tests := map[string]string{
		"missing type row": "Name\n",
		"unknown type":     "Name\nBlobField\n",
		"empty type":       "Name,Age\nCharField,\n",
		"short type row":   "Name,Age\nCharField\n",
		"name collision":   "A b,A-b\nCharField,CharField\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := csvspec.ModelFromCSV("X", "X", strings.NewReader(data))
			assert.Error(t, err)
		})
	}
}

func withoutField(c csvspec.Column) csvspec.Column {
	return csvspec.Column{Name: c.Name, Verbose: c.Verbose, Kind: c.Kind, Indexed: c.Indexed}
}
