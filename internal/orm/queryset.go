package orm

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"dynmodels/internal/expr"

	"github.com/pkg/errors"
)

// Manager — точка входа в запросы модели (model.objects).
type Manager struct {
	name  string
	geo   bool
	model *ModelType
}

// NewManager — несвязанный менеджер; модель привяжет его при сборке.
func NewManager(geo bool) *Manager { return &Manager{geo: geo} }

func (mg *Manager) bind(name string, m *ModelType) *Manager {
	return &Manager{name: name, geo: mg.geo, model: m}
}

func (mg *Manager) Name() string { return mg.name }
func (mg *Manager) IsGeo() bool { return mg.geo }
func (mg *Manager) Model() *ModelType { return mg.model }

// All — queryset по всем записям.
func (mg *Manager) All() *QuerySet {
	return &QuerySet{model: mg.model, steps: []Step{{Op: OpAll}}}
}

// Attr: методы менеджера совпадают с методами queryset.
func (mg *Manager) Attr(name string) (any, bool) {
	if mg.model == nil {
		return nil, false
	}
	return mg.All().Attr(name)
}

// Op — шаг цепочки.
type Op string

const (
	OpAll     Op = "all"
	OpFilter  Op = "filter"
	OpExclude Op = "exclude"
	OpOrderBy Op = "order_by"
	OpLimit   Op = "limit"
)

// Lookup — одно условие вида field__op=value.
type Lookup struct {
	Field string
	Op    string
	Value any
}

// Step — шаг цепочки запроса.
type Step struct {
	Op      Op
	Lookups []Lookup
	Order   []string
	Limit   int
	Offset  int
}

var lookupOps = map[string]bool{
	"exact": true, "iexact": true, "contains": true, "icontains": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "isnull": true, "startswith": true,
}

// Служебные колонки записи, по которым тоже можно фильтровать и сортировать.
var systemColumns = map[string]bool{"id": true, "created_at": true, "updated_at": true}

// QuerySet — неизменяемая цепочка шагов над коллекцией записей модели.
type QuerySet struct {
	model *ModelType
	steps []Step
}

func (q *QuerySet) Model() *ModelType { return q.model }

// Steps — копия шагов в порядке применения.
func (q *QuerySet) Steps() []Step { return append([]Step(nil), q.steps...) }

// Ops — только имена шагов.
func (q *QuerySet) Ops() []Op {
	out := make([]Op, 0, len(q.steps))
	for _, s := range q.steps {
		out = append(out, s.Op)
	}
	return out
}

func (q *QuerySet) with(s Step) *QuerySet {
	steps := make([]Step, len(q.steps), len(q.steps)+1)
	copy(steps, q.steps)
	return &QuerySet{model: q.model, steps: append(steps, s)}
}

func (q *QuerySet) All() *QuerySet { return q.with(Step{Op: OpAll}) }

func (q *QuerySet) Filter(conds map[string]any) (*QuerySet, error) {
	lk, err := q.lookups(conds)
	if err != nil {
		return nil, err
	}
	return q.with(Step{Op: OpFilter, Lookups: lk}), nil
}

func (q *QuerySet) Exclude(conds map[string]any) (*QuerySet, error) {
	lk, err := q.lookups(conds)
	if err != nil {
		return nil, err
	}
	return q.with(Step{Op: OpExclude, Lookups: lk}), nil
}

func (q *QuerySet) OrderBy(fields ...string) (*QuerySet, error) {
	for _, f := range fields {
		if !q.known(strings.TrimPrefix(f, "-")) {
			return nil, errors.Errorf("cannot resolve keyword %q into field", strings.TrimPrefix(f, "-"))
		}
	}
	return q.with(Step{Op: OpOrderBy, Order: append([]string(nil), fields...)}), nil
}

func (q *QuerySet) Limit(n, offset int) (*QuerySet, error) {
	if n < 0 || offset < 0 {
		return nil, errors.New("negative limit or offset")
	}
	return q.with(Step{Op: OpLimit, Limit: n, Offset: offset}), nil
}

func (q *QuerySet) known(name string) bool {
	return systemColumns[name] || q.model.Field(name) != nil
}

func (q *QuerySet) lookups(conds map[string]any) ([]Lookup, error) {
	keys := make([]string, 0, len(conds))
	for k := range conds {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Lookup, 0, len(keys))
	for _, k := range keys {
		field, op := k, "exact"
		if i := strings.LastIndex(k, "__"); i > 0 && lookupOps[k[i+2:]] {
			field, op = k[:i], k[i+2:]
		}
		if !q.known(field) {
			return nil, errors.Errorf("cannot resolve keyword %q into field", field)
		}
		v := conds[k]
		if f := q.model.Field(field); f != nil && op != "isnull" && op != "in" && v != nil {
			if cv, err := f.Coerce(v); err == nil {
				v = cv
			}
		}
		if op == "in" {
			items := toSlice(v)
			if items == nil {
				return nil, errors.Errorf("%s__in expects a list, got %T", field, v)
			}
			if f := q.model.Field(field); f != nil {
				coerced := make([]any, len(items))
				for i, it := range items {
					coerced[i] = it
					if cv, err := f.Coerce(it); err == nil {
						coerced[i] = cv
					}
				}
				v = coerced
			}
		}
		out = append(out, Lookup{Field: field, Op: op, Value: v})
	}
	return out, nil
}

// Attr открывает методы цепочки для queryset- и attribs-выражений.
func (q *QuerySet) Attr(name string) (any, bool) {
	switch Op(name) {
	case OpAll:
		return expr.Func(func(expr.Args) (any, error) { return q.All(), nil }), true
	case OpFilter:
		return expr.Func(func(a expr.Args) (any, error) {
			conds, err := condArgs(a)
			if err != nil {
				return nil, err
			}
			return q.Filter(conds)
		}), true
	case OpExclude:
		return expr.Func(func(a expr.Args) (any, error) {
			conds, err := condArgs(a)
			if err != nil {
				return nil, err
			}
			return q.Exclude(conds)
		}), true
	case OpOrderBy:
		return expr.Func(func(a expr.Args) (any, error) {
			fields := make([]string, 0, len(a.Positionals))
			for _, p := range a.Positionals {
				fields = append(fields, fmt.Sprint(p))
			}
			return q.OrderBy(fields...)
		}), true
	case OpLimit:
		return expr.Func(func(a expr.Args) (any, error) {
			n, _ := a.Arg(0)
			if v, ok := a.Kw("n"); ok {
				n = v
			}
			limit, err := asInt(n)
			if err != nil {
				return nil, errors.Wrap(err, "limit")
			}
			offset := 0
			if v, ok := a.Arg(1); ok {
				if offset, err = asInt(v); err != nil {
					return nil, errors.Wrap(err, "offset")
				}
			}
			if v, ok := a.Kw("offset"); ok {
				if offset, err = asInt(v); err != nil {
					return nil, errors.Wrap(err, "offset")
				}
			}
			return q.Limit(limit, offset)
		}), true
	}
	return nil, false
}

// condArgs: условия приходят именованными аргументами или словарём первым позиционным.
func condArgs(a expr.Args) (map[string]any, error) {
	conds := make(map[string]any, len(a.Keywords))
	for _, p := range a.Positionals {
		m, ok := p.(map[string]any)
		if !ok {
			return nil, errors.Errorf("filter takes keyword conditions, got positional %T", p)
		}
		for k, v := range m {
			conds[k] = v
		}
	}
	for k, v := range a.Keywords {
		conds[k] = v
	}
	return conds, nil
}

// Row — запись, по которой queryset умеет фильтровать в памяти.
type Row interface {
	Get(field string) (any, bool)
}

// MapRow — Row поверх обычного словаря.
type MapRow map[string]any

func (r MapRow) Get(field string) (any, bool) {
	v, ok := r[field]
	return v, ok
}

// Match проверяет фильтры цепочки для одной записи.
func (q *QuerySet) Match(r Row) bool {
	for _, s := range q.steps {
		switch s.Op {
		case OpFilter:
			if !matchAll(r, s.Lookups) {
				return false
			}
		case OpExclude:
			if len(s.Lookups) > 0 && matchAll(r, s.Lookups) {
				return false
			}
		}
	}
	return true
}

// Apply применяет цепочку к записям: фильтры, сортировку, срез.
func (q *QuerySet) Apply(rows []Row) []Row {
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	if order := q.ordering(); len(order) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range order {
				desc := strings.HasPrefix(o, "-")
				name := strings.TrimPrefix(o, "-")
				a, _ := out[i].Get(name)
				b, _ := out[j].Get(name)
				c := compare(a, b)
				if c == 0 {
					continue
				}
				if desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	if lim, ok := q.limit(); ok {
		if lim.Offset >= len(out) {
			return out[:0]
		}
		out = out[lim.Offset:]
		if lim.Limit < len(out) {
			out = out[:lim.Limit]
		}
	}
	return out
}

// ordering: последний order_by побеждает, иначе Meta.ordering модели.
func (q *QuerySet) ordering() []string {
	for i := len(q.steps) - 1; i >= 0; i-- {
		if q.steps[i].Op == OpOrderBy {
			return q.steps[i].Order
		}
	}
	if q.model != nil {
		return q.model.opts.Ordering
	}
	return nil
}

func (q *QuerySet) limit() (Step, bool) {
	for i := len(q.steps) - 1; i >= 0; i-- {
		if q.steps[i].Op == OpLimit {
			return q.steps[i], true
		}
	}
	return Step{}, false
}

func matchAll(r Row, lks []Lookup) bool {
	for _, lk := range lks {
		if !matchOne(r, lk) {
			return false
		}
	}
	return true
}

func matchOne(r Row, lk Lookup) bool {
	v, ok := r.Get(lk.Field)
	if !ok {
		v = nil
	}
	switch lk.Op {
	case "isnull":
		want, _ := asBool(lk.Value)
		return (v == nil) == want
	case "in":
		for _, it := range toSlice(lk.Value) {
			if compare(v, it) == 0 && v != nil {
				return true
			}
		}
		return false
	}
	if v == nil || lk.Value == nil {
		return lk.Op == "exact" && v == nil && lk.Value == nil
	}
	switch lk.Op {
	case "exact":
		return compare(v, lk.Value) == 0
	case "iexact":
		return strings.EqualFold(fmt.Sprint(v), fmt.Sprint(lk.Value))
	case "contains":
		return strings.Contains(fmt.Sprint(v), fmt.Sprint(lk.Value))
	case "icontains":
		return strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(fmt.Sprint(lk.Value)))
	case "startswith":
		return strings.HasPrefix(fmt.Sprint(v), fmt.Sprint(lk.Value))
	case "gt":
		return compare(v, lk.Value) > 0
	case "gte":
		return compare(v, lk.Value) >= 0
	case "lt":
		return compare(v, lk.Value) < 0
	case "lte":
		return compare(v, lk.Value) <= 0
	}
	return false
}

func toSlice(v any) []any {
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// compare упорядочивает числа, строки, время и bool; nil меньше всего.
// Строки сравниваются как строки, даже если похожи на числа.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if x, ok := number(a); ok {
		if y, ok := number(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	if x, ok := a.(time.Time); ok {
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
		if s, ok := b.(string); ok {
			if y, err := expr.ParseTime(s); err == nil {
				return x.Compare(y)
			}
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
