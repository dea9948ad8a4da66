// Package csvspec строит спецификацию модели по CSV-файлу: первая строка —
// подписи колонок, вторая — типы полей. Звёздочка перед подписью или типом
// помечает индексируемую колонку. Остальные строки — данные.
package csvspec

import (
	"bytes"
	"encoding/csv"
	"io"
	"regexp"
	"strings"

	"dynmodels/internal/dsl"
	"dynmodels/internal/expr"
	"dynmodels/internal/orm"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// IndexMarker — префикс индексируемой колонки.
const IndexMarker = "*"

// Типы, которые можно указать во второй строке.
var allowedKinds = map[orm.Kind]bool{
	orm.CharField:       true,
	orm.TextField:       true,
	orm.IntegerField:    true,
	orm.BigIntegerField: true,
	orm.FloatField:      true,
	orm.BooleanField:    true,
	orm.DateField:       true,
	orm.DateTimeField:   true,
}

var (
	unsafeRe     = regexp.MustCompile(`[^A-Za-z0-9_]`)
	underscoreRe = regexp.MustCompile(`_+`)
	upperRe      = regexp.MustCompile(`([A-Z])`)
)

// MungeColumn делает из подписи колонки имя поля.
func MungeColumn(name string) string {
	name = strings.ReplaceAll(name, "%", "pct")
	name = strings.ToLower(unsafeRe.ReplaceAllString(name, "_"))
	if name == "" || strings.ContainsRune("0123456789_", rune(name[0])) {
		name = "x" + name
	}
	name = underscoreRe.ReplaceAllString(name, "_")
	return strings.TrimRight(name, "_")
}

// Casify: WaterWells -> water_wells.
func Casify(name string) string {
	if name == "" {
		return name
	}
	name = strings.ToLower(name[:1]) + name[1:]
	return strings.ToLower(upperRe.ReplaceAllString(name, "_$1"))
}

// Column — одна колонка файла.
type Column struct {
	Name    string
	Verbose string
	Kind    orm.Kind
	Indexed bool
	field   *orm.Field
}

// Table — разобранный заголовок и непрочитанные строки данных.
type Table struct {
	Columns []Column
	Spec    *dsl.Spec
	reader  *csv.Reader
	line    int
}

// ModelFromCSV читает две строки заголовка и строит спецификацию модели.
func ModelFromCSV(short, verbose string, r io.Reader) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read csv")
	}
	raw = bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	raw = bytes.ReplaceAll(raw, []byte("\r"), []byte("\n"))

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "csv header row")
	}
	types, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "csv type row")
	}
	if len(types) < len(header) {
		return nil, errors.Errorf("type row has %d columns, header has %d", len(types), len(header))
	}

	t := &Table{reader: reader, line: 2}
	fields := dsl.Fields{}
	for i, h := range header {
		verbose := strings.TrimSpace(h)
		typ := strings.TrimSpace(types[i])
		indexed := false
		if strings.HasPrefix(verbose, IndexMarker) {
			verbose, indexed = strings.TrimSpace(strings.TrimPrefix(verbose, IndexMarker)), true
		}
		if strings.HasPrefix(typ, IndexMarker) {
			typ, indexed = strings.TrimSpace(strings.TrimPrefix(typ, IndexMarker)), true
		}
		if typ == "" {
			return nil, errors.Errorf("column %q has no data type", verbose)
		}
		kind := orm.Kind(typ)
		if !allowedKinds[kind] {
			return nil, errors.Errorf("data type for column %q is %q, must be one of %s", verbose, typ, kindList())
		}

		name := MungeColumn(verbose)
		if _, dup := fields[name]; dup {
			return nil, errors.Errorf("columns collide on field name %q", name)
		}
		kw := dsl.Kw{"verbose_name": verbose, "help_text": verbose, "null": true, "db_index": indexed}
		if kind == orm.CharField {
			kw["max_length"] = 255
		}
		fields[name] = dsl.SimpleField(typ, kw)

		f, err := orm.NewField(kind, expr.Args{Keywords: map[string]any(kw)})
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", verbose)
		}
		t.Columns = append(t.Columns, Column{Name: name, Verbose: verbose, Kind: kind, Indexed: indexed, field: f})
	}

	t.Spec = dsl.Model(short, dsl.Attribute(dsl.ModelsModule, "Model"), fields, dsl.Kw{
		"verbose_name": verbose,
		"managed":      true,
		"app_label":    dsl.AppLabel,
	})
	return t, nil
}

func kindList() string {
	out := make([]string, 0, len(allowedKinds))
	for _, k := range orm.Kinds() {
		if allowedKinds[k] {
			out = append(out, string(k))
		}
	}
	return strings.Join(out, ", ")
}

// Rows отдаёт оставшиеся строки как записи. Значение, которое не удалось
// привести к типу колонки, становится nil с предупреждением в логе.
func (t *Table) Rows(yield func(rec map[string]any) error) error {
	for {
		row, err := t.reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "csv line %d", t.line+1)
		}
		t.line++

		rec := make(map[string]any, len(t.Columns))
		for i, col := range t.Columns {
			if i >= len(row) {
				rec[col.Name] = nil
				continue
			}
			rec[col.Name] = t.convert(col, row[i])
		}
		if err := yield(rec); err != nil {
			return err
		}
	}
}

func (t *Table) convert(col Column, value string) any {
	if col.Kind != orm.CharField && col.Kind != orm.TextField && strings.TrimSpace(value) == "" {
		return nil
	}
	v, err := col.field.Coerce(value)
	if err != nil {
		log.WithFields(log.Fields{"line": t.line, "field": col.Name, "value": value, "error": err}).
			Warn("Trouble converting csv value")
		return nil
	}
	return v
}
