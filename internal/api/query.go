package api

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"dynmodels/internal/orm"
)

// ==== Параметры листинга ====

type ListParams struct {
	Limit   int
	Offset  int
	Sort    []string // "-field" — по убыванию
	Filters map[string][]string
	Q       string
}

var lookupOps = map[string]bool{
	"exact": true, "iexact": true, "contains": true, "icontains": true,
	"gt": true, "gte": true, "lt": true, "lte": true,
	"in": true, "isnull": true, "startswith": true,
}

// служебные ключи query-строки, которые не являются фильтрами
var reservedParams = map[string]bool{
	"q": true, "offset": true, "limit": true, "sort": true, "order_by": true, "format": true,
	"_offset": true, "_limit": true, "_sort": true,
}

func parseListParams(q url.Values, res *ResourceType) ListParams {
	limit := res.DefaultLimit()
	lv := q.Get("_limit")
	if lv == "" {
		lv = q.Get("limit")
	}
	if lv != "" {
		if n, err := strconv.Atoi(lv); err == nil && n >= 0 {
			limit = n
		}
	}
	// 0 — «без лимита», но не больше max_limit
	if maxLimit := res.MaxLimit(); maxLimit > 0 && (limit == 0 || limit > maxLimit) {
		limit = maxLimit
	}

	offset := 0
	ov := q.Get("_offset")
	if ov == "" {
		ov = q.Get("offset")
	}
	if ov != "" {
		if n, err := strconv.Atoi(ov); err == nil && n >= 0 {
			offset = n
		}
	}

	var sortKeys []string
	sv := strings.TrimSpace(q.Get("_sort"))
	if sv == "" {
		sv = strings.TrimSpace(q.Get("order_by"))
	}
	for _, p := range strings.Split(sv, ",") {
		p = strings.TrimPrefix(strings.TrimSpace(p), "+")
		if p != "" && p != "-" {
			sortKeys = append(sortKeys, p)
		}
	}

	filters := make(map[string][]string)
	for key, vals := range q {
		if reservedParams[key] {
			continue
		}
		clean := make([]string, 0, len(vals))
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				clean = append(clean, v)
			}
		}
		if len(clean) > 0 {
			filters[key] = clean
		}
	}

	return ListParams{
		Limit:   limit,
		Offset:  offset,
		Sort:    sortKeys,
		Filters: filters,
		Q:       strings.TrimSpace(q.Get("q")),
	}
}

// splitLookup("size__gte") -> ("size", "gte"); без оператора — exact.
func splitLookup(key string) (string, string) {
	if i := strings.LastIndex(key, "__"); i > 0 && lookupOps[key[i+2:]] {
		return key[:i], key[i+2:]
	}
	return key, "exact"
}

// buildQuery накладывает фильтры и сортировку запроса на queryset ресурса.
// Фильтровать можно только то, что разрешено в Meta.filtering.
func buildQuery(res *ResourceType, lp ListParams) (*orm.QuerySet, []FieldError) {
	var errs []FieldError
	conds := make(map[string]any, len(lp.Filters))
	for key, vals := range lp.Filters {
		field, op := splitLookup(key)
		if !res.CanFilter(field, op) {
			errs = append(errs, ferr(ErrFilterNotAllowed, key,
				fmt.Sprintf("The '%s' field does not allow filtering with '%s'.", field, op)))
			continue
		}
		switch op {
		case "in":
			var list []any
			for _, v := range vals {
				for _, it := range strings.Split(v, ",") {
					list = append(list, strings.TrimSpace(it))
				}
			}
			conds[key] = list
		case "isnull":
			b, err := strconv.ParseBool(strings.ToLower(vals[0]))
			if err != nil {
				errs = append(errs, ferr(ErrTypeMismatch, key, "isnull expects true or false"))
				continue
			}
			conds[key] = b
		default:
			conds[key] = vals[0]
		}
	}
	if len(errs) > 0 {
		return nil, sortErrors(errs)
	}

	qs := res.QuerySet()
	if len(conds) > 0 {
		next, err := qs.Filter(conds)
		if err != nil {
			return nil, []FieldError{ferr(ErrFilterNotAllowed, "", err.Error())}
		}
		qs = next
	}

	if len(lp.Sort) > 0 {
		allowed := res.Ordering()
		for _, s := range lp.Sort {
			name := strings.TrimPrefix(s, "-")
			if len(allowed) > 0 && !contains(allowed, name) {
				errs = append(errs, ferr(ErrOrderNotAllowed, name,
					fmt.Sprintf("No matching '%s' field for ordering on.", name)))
			}
		}
		if len(errs) > 0 {
			return nil, errs
		}
		next, err := qs.OrderBy(lp.Sort...)
		if err != nil {
			return nil, []FieldError{ferr(ErrOrderNotAllowed, "", err.Error())}
		}
		qs = next
	}
	return qs, nil
}

// matchesQ — простой полнотекстовый поиск по строковым видимым полям.
func matchesQ(res *ResourceType, rec orm.Row, q string) bool {
	if q == "" {
		return true
	}
	needle := strings.ToLower(q)
	for _, f := range res.Visible() {
		v, ok := rec.Get(f.Name)
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// page — срез [offset, offset+limit).
func page(rows []orm.Row, offset, limit int) []orm.Row {
	start := offset
	if start > len(rows) {
		start = len(rows)
	}
	end := len(rows)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	return rows[start:end]
}
