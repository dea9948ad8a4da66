package orm

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"dynmodels/internal/expr"

	"github.com/pkg/errors"
)

// Kind — вид поля.
type Kind string

const (
	CharField         Kind = "CharField"
	TextField         Kind = "TextField"
	IntegerField      Kind = "IntegerField"
	BigIntegerField   Kind = "BigIntegerField"
	FloatField        Kind = "FloatField"
	DecimalField      Kind = "DecimalField"
	BooleanField      Kind = "BooleanField"
	DateField         Kind = "DateField"
	DateTimeField     Kind = "DateTimeField"
	EmailField        Kind = "EmailField"
	URLField          Kind = "URLField"
	PointField        Kind = "PointField"
	LineStringField   Kind = "LineStringField"
	PolygonField      Kind = "PolygonField"
	MultiPolygonField Kind = "MultiPolygonField"
)

type kindInfo struct {
	sqlType  string
	geometry string // GeoJSON-тип для geo-полей
}

var kinds = map[Kind]kindInfo{
	CharField:         {sqlType: "varchar"},
	TextField:         {sqlType: "text"},
	IntegerField:      {sqlType: "integer"},
	BigIntegerField:   {sqlType: "bigint"},
	FloatField:        {sqlType: "double precision"},
	DecimalField:      {sqlType: "numeric"},
	BooleanField:      {sqlType: "boolean"},
	DateField:         {sqlType: "date"},
	DateTimeField:     {sqlType: "timestamp with time zone"},
	EmailField:        {sqlType: "varchar"},
	URLField:          {sqlType: "varchar"},
	PointField:        {sqlType: "geometry", geometry: "Point"},
	LineStringField:   {sqlType: "geometry", geometry: "LineString"},
	PolygonField:      {sqlType: "geometry", geometry: "Polygon"},
	MultiPolygonField: {sqlType: "geometry", geometry: "MultiPolygon"},
}

// Kinds возвращает все известные виды полей.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Field — дескриптор колонки.
type Field struct {
	Kind          Kind
	Name          string
	Column        string
	MaxLength     int
	MaxDigits     int
	DecimalPlaces int
	Null          bool
	Blank         bool
	Default       any
	HasDefault    bool
	DBIndex       bool
	Unique        bool
	PrimaryKey    bool
	VerboseName   string
	HelpText      string
	SRID          int
	Choices       []string
}

// NewField — конструктор поля, как его вызывает callable-выражение.
// Первый позиционный аргумент — verbose_name.
func NewField(kind Kind, args expr.Args) (*Field, error) {
	info, ok := kinds[kind]
	if !ok {
		return nil, errors.Errorf("unknown field kind %s", kind)
	}
	f := &Field{Kind: kind}
	if info.geometry != "" {
		f.SRID = 4326
	}
	switch kind {
	case EmailField:
		f.MaxLength = 254
	case URLField:
		f.MaxLength = 200
	}

	if len(args.Positionals) > 1 {
		return nil, errors.Errorf("%s takes at most 1 positional argument, got %d", kind, len(args.Positionals))
	}
	if v, ok := args.Arg(0); ok {
		f.VerboseName = fmt.Sprint(v)
	}

	keys := make([]string, 0, len(args.Keywords))
	for k := range args.Keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := args.Keywords[k]
		var err error
		switch k {
		case "max_length":
			f.MaxLength, err = asInt(v)
		case "max_digits":
			f.MaxDigits, err = asInt(v)
		case "decimal_places":
			f.DecimalPlaces, err = asInt(v)
		case "null":
			f.Null, err = asBool(v)
		case "blank":
			f.Blank, err = asBool(v)
		case "db_index":
			f.DBIndex, err = asBool(v)
		case "unique":
			f.Unique, err = asBool(v)
		case "primary_key":
			f.PrimaryKey, err = asBool(v)
		case "srid":
			f.SRID, err = asInt(v)
		case "default":
			f.Default, f.HasDefault = v, true
		case "verbose_name":
			f.VerboseName = fmt.Sprint(v)
		case "help_text":
			f.HelpText = fmt.Sprint(v)
		case "db_column":
			f.Column = fmt.Sprint(v)
		case "choices":
			f.Choices, err = asChoices(v)
		default:
			return nil, errors.Errorf("%s got an unexpected keyword argument '%s'", kind, k)
		}
		if err != nil {
			return nil, errors.Wrapf(err, "%s: %s", kind, k)
		}
	}

	if kind == CharField && f.MaxLength <= 0 {
		return nil, errors.New("CharField requires max_length")
	}
	if kind == DecimalField && (f.MaxDigits <= 0 || f.DecimalPlaces < 0 || f.DecimalPlaces > f.MaxDigits) {
		return nil, errors.New("DecimalField requires max_digits >= decimal_places >= 0")
	}
	if info.geometry == "" && f.SRID != 0 {
		return nil, errors.Errorf("%s got an unexpected keyword argument 'srid'", kind)
	}
	if f.HasDefault && f.Default != nil {
		d, err := f.Coerce(f.Default)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: default", kind)
		}
		f.Default = d
	}
	return f, nil
}

func (f *Field) bind(name string) *Field {
	cp := *f
	cp.Name = name
	cp.Choices = append([]string(nil), f.Choices...)
	return &cp
}

// ColumnName — имя колонки в таблице.
func (f *Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// IsGeo — поле хранит геометрию.
func (f *Field) IsGeo() bool { return kinds[f.Kind].geometry != "" }

// Geometry — GeoJSON-тип геометрии или "".
func (f *Field) Geometry() string { return kinds[f.Kind].geometry }

// SQLType — тип колонки в Postgres.
func (f *Field) SQLType() string {
	info := kinds[f.Kind]
	switch {
	case info.geometry != "":
		return fmt.Sprintf("geometry(%s, %d)", info.geometry, f.SRID)
	case f.MaxLength > 0 && info.sqlType == "varchar":
		return fmt.Sprintf("varchar(%d)", f.MaxLength)
	case f.Kind == DecimalField:
		return fmt.Sprintf("numeric(%d,%d)", f.MaxDigits, f.DecimalPlaces)
	}
	return info.sqlType
}

// Required — значение обязано прийти при создании записи.
func (f *Field) Required() bool {
	return !f.Null && !f.HasDefault && !f.Blank
}

// Attr открывает опции поля для class_attribute/attribs.
func (f *Field) Attr(name string) (any, bool) {
	switch name {
	case "name":
		return f.Name, true
	case "kind":
		return string(f.Kind), true
	case "column":
		return f.ColumnName(), true
	case "max_length":
		return f.MaxLength, true
	case "null":
		return f.Null, true
	case "blank":
		return f.Blank, true
	case "default":
		return f.Default, f.HasDefault
	case "db_index":
		return f.DBIndex, true
	case "unique":
		return f.Unique, true
	case "verbose_name":
		return f.VerboseName, true
	case "help_text":
		return f.HelpText, true
	case "srid":
		return f.SRID, f.IsGeo()
	case "choices":
		return f.Choices, true
	}
	return nil, false
}

// Coerce приводит входное значение к Go-типу поля. nil остаётся nil.
func (f *Field) Coerce(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.Kind {
	case CharField, TextField, EmailField, URLField:
		s, ok := v.(string)
		if !ok {
			switch v.(type) {
			case int, int64, float64, bool:
				s = fmt.Sprint(v)
			default:
				return nil, errors.Errorf("expected string, got %T", v)
			}
		}
		if f.MaxLength > 0 && len([]rune(s)) > f.MaxLength {
			return nil, errors.Errorf("ensure this value has at most %d characters (it has %d)", f.MaxLength, len([]rune(s)))
		}
		if len(f.Choices) > 0 && !contains(f.Choices, s) {
			return nil, errors.Errorf("value %q is not a valid choice", s)
		}
		if f.Kind == EmailField && s != "" && !strings.Contains(s, "@") {
			return nil, errors.Errorf("enter a valid email address")
		}
		if f.Kind == URLField && s != "" {
			u, err := url.Parse(s)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return nil, errors.Errorf("enter a valid URL")
			}
		}
		return s, nil

	case IntegerField, BigIntegerField:
		n, err := asInt64(v)
		if err != nil {
			return nil, err
		}
		if f.Kind == IntegerField && (n > math.MaxInt32 || n < math.MinInt32) {
			return nil, errors.Errorf("value %d out of range for %s", n, f.Kind)
		}
		return n, nil

	case FloatField, DecimalField:
		x, err := asFloat(v)
		if err != nil {
			return nil, err
		}
		if f.Kind == DecimalField {
			p := math.Pow(10, float64(f.DecimalPlaces))
			x = math.Round(x*p) / p
		}
		return x, nil

	case BooleanField:
		return asBool(v)

	case DateField, DateTimeField:
		var t time.Time
		switch tv := v.(type) {
		case time.Time:
			t = tv
		case string:
			parsed, err := expr.ParseTime(tv)
			if err != nil {
				return nil, err
			}
			t = parsed
		default:
			return nil, errors.Errorf("expected date, got %T", v)
		}
		if f.Kind == DateField {
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		}
		return t.UTC(), nil
	}

	if f.IsGeo() {
		g, ok := v.(map[string]any)
		if !ok {
			return nil, errors.Errorf("expected GeoJSON geometry, got %T", v)
		}
		if t, _ := g["type"].(string); t != f.Geometry() {
			return nil, errors.Errorf("expected %s geometry, got %v", f.Geometry(), g["type"])
		}
		if _, ok := g["coordinates"]; !ok {
			return nil, errors.New("geometry has no coordinates")
		}
		return g, nil
	}
	return v, nil
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}

func asInt(v any) (int, error) {
	n, err := asInt64(v)
	return int(n), err
}

func asInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, errors.Errorf("expected integer, got %v", n)
		}
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, errors.Errorf("expected integer, got %q", n)
		}
		return i, nil
	}
	return 0, errors.Errorf("expected integer, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, errors.Errorf("expected number, got %q", n)
		}
		return x, nil
	}
	return 0, errors.Errorf("expected number, got %T", v)
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case int:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "t", "yes", "y", "1":
			return true, nil
		case "false", "f", "no", "n", "0", "":
			return false, nil
		}
		return false, errors.Errorf("expected boolean, got %q", b)
	}
	return false, errors.Errorf("expected boolean, got %T", v)
}

func asChoices(v any) ([]string, error) {
	switch l := v.(type) {
	case []string:
		return append([]string(nil), l...), nil
	case []any:
		out := make([]string, 0, len(l))
		for _, it := range l {
			// пары [значение, подпись] — берём значение
			if pair, ok := it.([]any); ok && len(pair) > 0 {
				out = append(out, fmt.Sprint(pair[0]))
				continue
			}
			out = append(out, fmt.Sprint(it))
		}
		return out, nil
	}
	return nil, errors.Errorf("expected a list, got %T", v)
}
