package api

import (
	"fmt"
	"sort"
	"strings"

	"dynmodels/internal/orm"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок, которыми будем пользоваться
const (
	ErrRequired         = "required"
	ErrTypeMismatch     = "type_mismatch"
	ErrUnknownField     = "unknown_field"
	ErrUniqueViolation  = "unique_violation"
	ErrNotFound         = "not_found"
	ErrReadOnly         = "readonly_field"
	ErrVersionConflict  = "version_conflict"
	ErrFilterNotAllowed = "filter_not_allowed"
	ErrOrderNotAllowed  = "ordering_not_allowed"
)

var systemFields = []string{"id", "created_at", "updated_at", "resource_uri"}

func ferr(code, field, msg string) FieldError {
	return FieldError{Code: code, Field: field, Message: msg}
}

// hydrate проверяет тело запроса против ресурса и приводит значения к
// типам полей модели. full — создание или PUT: отсутствующие поля получают
// default, обязательные должны прийти. exceptID — запись, которую не
// учитываем при проверке уникальности.
func hydrate(storage *Storage, res *ResourceType, body map[string]any, full bool, exceptID string) (map[string]any, []FieldError) {
	var errs []FieldError
	// "version" — только подсказка для optimistic lock
	delete(body, "version")

	visible := map[string]*orm.Field{}
	for _, f := range res.Visible() {
		visible[f.Name] = f
	}
	model := res.Model()

	out := make(map[string]any, len(body))
	for key, raw := range body {
		if contains(systemFields, key) {
			errs = append(errs, ferr(ErrReadOnly, key, "Field '"+key+"' is read-only"))
			continue
		}
		target := key
		if rf := res.Field(key); rf != nil {
			if rf.Readonly {
				errs = append(errs, ferr(ErrReadOnly, key, "Field '"+key+"' is read-only"))
				continue
			}
			target = rf.Source()
		} else if visible[key] == nil {
			errs = append(errs, ferr(ErrUnknownField, key, "Unknown field '"+key+"'"))
			continue
		}
		f := model.Field(target)
		if f == nil {
			errs = append(errs, ferr(ErrReadOnly, key, "Field '"+key+"' is read-only"))
			continue
		}
		if raw == nil && !f.Null {
			errs = append(errs, ferr(ErrRequired, key, "This field cannot be null"))
			continue
		}
		v, err := f.Coerce(raw)
		if err != nil {
			errs = append(errs, ferr(ErrTypeMismatch, key, err.Error()))
			continue
		}
		out[target] = v
	}

	if full {
		for _, f := range res.Visible() {
			if _, ok := out[f.Name]; ok {
				continue
			}
			if f.HasDefault {
				out[f.Name] = f.Default
				continue
			}
			if f.Required() && !providedVia(res, body, f.Name) {
				errs = append(errs, ferr(ErrRequired, f.Name, "This field is required"))
			}
		}
	}

	// уникальность
	table := model.Table()
	for name, v := range out {
		if f := model.Field(name); f != nil && f.Unique && !storage.uniqueOK(table, name, v, exceptID) {
			errs = append(errs, ferr(ErrUniqueViolation, name, fmt.Sprintf("%s with this value already exists", name)))
		}
	}
	for _, group := range model.Options().UniqueTogether {
		values := make([]any, len(group))
		complete := true
		for i, name := range group {
			v, ok := out[name]
			if !ok {
				complete = false
				break
			}
			values[i] = v
		}
		if complete && !storage.uniqueTogetherOK(table, group, values, exceptID) {
			errs = append(errs, ferr(ErrUniqueViolation, strings.Join(group, ","),
				fmt.Sprintf("%s must make a unique set", strings.Join(group, ", "))))
		}
	}
	return out, sortErrors(errs)
}

func providedVia(res *ResourceType, body map[string]any, source string) bool {
	for _, rf := range res.ResourceFields() {
		if rf.Source() == source {
			if _, ok := body[rf.Name]; ok {
				return true
			}
		}
	}
	return false
}

func sortErrors(errs []FieldError) []FieldError {
	sort.SliceStable(errs, func(i, j int) bool {
		if errs[i].Field != errs[j].Field {
			return errs[i].Field < errs[j].Field
		}
		return errs[i].Code < errs[j].Code
	})
	return errs
}
