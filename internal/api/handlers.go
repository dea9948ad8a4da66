package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"dynmodels/internal/orm"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
)

// resourceFor находит ресурс из пути и проверяет, что метод разрешён.
func (srv *Server) resourceFor(c *gin.Context, method string) (*ResourceType, bool) {
	res, ok := srv.lookupResource(c.Request.Context(), c.Param("resource"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
		return nil, false
	}
	if !res.Allows(method) {
		c.Header("Allow", strings.ToUpper(strings.Join(res.AllowedMethods(), ", ")))
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "Method not allowed"})
		return nil, false
	}
	return res, true
}

// record — живая запись, видимая через queryset ресурса.
func (srv *Server) record(c *gin.Context, res *ResourceType) (*Record, bool) {
	rec, ok := srv.Storage.Get(res.Model().Table(), c.Param("id"))
	if !ok || !res.QuerySet().Match(rec) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return nil, false
	}
	return rec, true
}

// GET /api/:resource
func ListHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := srv.resourceFor(c, "get")
		if !ok {
			return
		}
		lp := parseListParams(c.Request.URL.Query(), res)
		qs, errs := buildQuery(res, lp)
		if len(errs) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"errors": errs})
			return
		}

		rows := qs.Apply(srv.Storage.Rows(res.Model().Table()))
		if lp.Q != "" {
			kept := rows[:0]
			for _, r := range rows {
				if matchesQ(res, r, lp.Q) {
					kept = append(kept, r)
				}
			}
			rows = kept
		}
		total := len(rows)
		rows = page(rows, lp.Offset, lp.Limit)
		c.Header("X-Total-Count", strconv.Itoa(total))

		if res.IsGeo() {
			features := make([]map[string]any, 0, len(rows))
			for _, r := range rows {
				features = append(features, feature(res, r.(*Record)))
			}
			c.JSON(http.StatusOK, gin.H{"type": "FeatureCollection", "features": features})
			return
		}

		objects := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			objects = append(objects, dehydrate(res, r.(*Record)))
		}
		c.JSON(http.StatusOK, gin.H{
			"meta": gin.H{
				"limit":       lp.Limit,
				"offset":      lp.Offset,
				"total_count": total,
			},
			"objects": objects,
		})
	}
}

// GET /api/:resource/:id
func GetOneHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := srv.resourceFor(c, "get")
		if !ok {
			return
		}
		rec, ok := srv.record(c, res)
		if !ok {
			return
		}
		c.Header("ETag", fmt.Sprintf(`"%d"`, rec.Version))
		if res.IsGeo() {
			c.JSON(http.StatusOK, feature(res, rec))
			return
		}
		c.JSON(http.StatusOK, dehydrate(res, rec))
	}
}

// POST /api/:resource
func CreateHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := srv.resourceFor(c, "post")
		if !ok {
			return
		}
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		data, errs := hydrate(srv.Storage, res, obj, true, "")
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}
		rec := srv.Storage.Insert(res.Model().Table(), data)
		c.Header("Location", resourceURI(res, rec.ID))
		c.JSON(http.StatusCreated, dehydrate(res, rec))
	}
}

// PUT /api/:resource/:id — полная замена.
func UpdateHandler(srv *Server) gin.HandlerFunc {
	return srv.update("put", true)
}

// PATCH /api/:resource/:id — частичное обновление.
func PatchHandler(srv *Server) gin.HandlerFunc {
	return srv.update("patch", false)
}

func (srv *Server) update(method string, full bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := srv.resourceFor(c, method)
		if !ok {
			return
		}
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		rec, ok := srv.record(c, res)
		if !ok {
			return
		}

		// версию читаем до того, как hydrate уберёт её из тела
		expected, _ := readExpectedVersion(c, obj)
		data, errs := hydrate(srv.Storage, res, obj, full, rec.ID)
		if len(errs) > 0 {
			c.JSON(statusForErrors(errs), gin.H{"errors": errs})
			return
		}
		if full {
			// поля, скрытые ресурсом, PUT не трогает
			for k, v := range rec.Data {
				if _, ok := data[k]; !ok && !visibleThrough(res, k) {
					data[k] = v
				}
			}
		}

		updated, err := srv.Storage.Update(res.Model().Table(), rec.ID, data, full, expected)
		switch {
		case errors.Is(err, ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		case errors.Is(err, ErrVersionMismatch):
			c.JSON(http.StatusConflict, gin.H{
				"errors": []FieldError{ferr(ErrVersionConflict, "version", err.Error())},
			})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("ETag", fmt.Sprintf(`"%d"`, updated.Version))
		c.JSON(http.StatusOK, dehydrate(res, updated))
	}
}

// DELETE /api/:resource/:id (soft delete)
func DeleteHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := srv.resourceFor(c, "delete")
		if !ok {
			return
		}
		rec, ok := srv.record(c, res)
		if !ok {
			return
		}
		if err := srv.Storage.Delete(res.Model().Table(), rec.ID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func visibleThrough(res *ResourceType, name string) bool {
	for _, f := range res.Visible() {
		if f.Name == name {
			return true
		}
	}
	for _, rf := range res.ResourceFields() {
		if rf.Source() == name && !rf.Readonly {
			return true
		}
	}
	return false
}

var _ orm.Row = (*Record)(nil)
