package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dynmodels/internal/orm"

	"github.com/gin-gonic/gin"
)

// dehydrate собирает «плоский» ответ по записи: служебные поля, видимые
// поля модели и объявленные поля ресурса.
func dehydrate(res *ResourceType, rec *Record) map[string]any {
	out := map[string]any{
		"id":           rec.ID,
		"version":      rec.Version,
		"created_at":   rec.CreatedAt.Format(time.RFC3339),
		"updated_at":   rec.UpdatedAt.Format(time.RFC3339),
		"resource_uri": resourceURI(res, rec.ID),
	}
	for _, f := range res.Visible() {
		out[f.Name] = renderValue(f, rec.Data[f.Name])
	}
	for _, rf := range res.ResourceFields() {
		v := rf.Dehydrate(rec)
		if f := res.Model().Field(rf.Source()); f != nil {
			v = renderValue(f, v)
		}
		out[rf.Name] = v
	}
	return out
}

func renderValue(f *orm.Field, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if f.Kind == orm.DateField {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// feature — запись георесурса как GeoJSON Feature.
func feature(res *ResourceType, rec *Record) map[string]any {
	props := dehydrate(res, rec)
	geom := res.Model().GeoField()
	delete(props, geom.Name)
	delete(props, "id")
	return map[string]any{
		"type":       "Feature",
		"id":         rec.ID,
		"geometry":   rec.Data[geom.Name],
		"properties": props,
	}
}

func resourceURI(res *ResourceType, id string) string {
	return "/api/" + res.ResourceName() + "/" + id
}

// uniqueTogetherOK — уникальность набора полей.
func (s *Storage) uniqueTogetherOK(table string, fields []string, values []any, exceptID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, rec := range s.Data[table] {
		if rec.Deleted || id == exceptID {
			continue
		}
		same := true
		for i, f := range fields {
			if stringify(rec.Data[f]) != stringify(values[i]) {
				same = false
				break
			}
		}
		if same {
			return false
		}
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return "\x00"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

func statusForErrors(errs []FieldError) int {
	// 409, если есть конфликтные ошибки
	for _, e := range errs {
		if e.Code == ErrUniqueViolation || e.Code == ErrVersionConflict {
			return http.StatusConflict
		}
	}
	return http.StatusBadRequest
}

// readExpectedVersion читает ожидаемую версию из If-Match либо из payload["version"] (число).
func readExpectedVersion(c *gin.Context, payload map[string]any) (int64, bool) {
	ifMatch := strings.TrimSpace(c.GetHeader("If-Match"))
	if ifMatch != "" {
		// уберём кавычки/weak-префикс вида W/"3"
		ifMatch = strings.TrimPrefix(ifMatch, "W/")
		ifMatch = strings.Trim(ifMatch, `"'`)
		if v, err := strconv.ParseInt(ifMatch, 10, 64); err == nil {
			return v, true
		}
	}
	if payload != nil {
		switch t := payload["version"].(type) {
		case float64:
			// JSON number → float64
			return int64(t), true
		case string:
			if v, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
				return v, true
			}
		}
	}
	return 0, false
}
