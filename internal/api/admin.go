package api

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"dynmodels/internal/catalog"
	"dynmodels/internal/csvspec"
	"dynmodels/internal/dsl"
	"dynmodels/internal/orm"
	"dynmodels/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// OwnerHeader — заголовок с именем владельца спецификаций.
const OwnerHeader = "X-Owner"

var modelNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)

// adminStatus сопоставляет ошибки каталога с HTTP-кодами.
func adminStatus(err error) int {
	switch {
	case errors.Is(err, catalog.ErrOwnership):
		return http.StatusForbidden
	case errors.Is(err, catalog.ErrExists):
		return http.StatusConflict
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (srv *Server) reloadSummary() gin.H {
	failed := map[string]string{}
	for _, ns := range []interface {
		Failed() map[string]error
	}{srv.Models, srv.Resources} {
		for name, err := range ns.Failed() {
			failed[name] = err.Error()
		}
	}
	return gin.H{
		"ok":        true,
		"models":    len(srv.Models.Types()),
		"resources": len(srv.Resources.Types()),
		"failed":    failed,
		"reloads":   srv.State.Reloads(),
	}
}

// POST /api/_admin/reload
func AdminReloadHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := srv.State.ForceReload(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "reload failed", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, srv.reloadSummary())
	}
}

// POST /api/_admin/models/:name, POST /api/_admin/resources/:name
// Тело — документ спецификации; ?replace=true разрешает замену.
func AdminDeclareHandler(srv *Server, resource bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		name := c.Param("name")
		if _, ok := body["name"]; !ok {
			body["name"] = name
		}
		spec, err := dsl.FromDocument(body)
		if err == nil && spec.Name != name {
			err = errors.Errorf("spec name %q does not match path %q", spec.Name, name)
		}
		if err == nil && resource {
			spec.Extra["_kind"] = dsl.Lit(dsl.KindResource)
		}
		if err == nil && !resource && spec.Kind() == dsl.KindResource {
			err = errors.New("resource spec posted to the models endpoint")
		}
		if err == nil {
			err = spec.Validate()
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid spec", "details": err.Error()})
			return
		}

		replace, _ := strconv.ParseBool(c.DefaultQuery("replace", "false"))
		if err := srv.Catalog.Declare(ctx, spec, replace, c.GetHeader(OwnerHeader)); err != nil {
			c.JSON(adminStatus(err), gin.H{"error": err.Error()})
			return
		}
		if err := srv.State.ForceReload(ctx); err != nil {
			log.WithError(err).Warn("Reload after declare failed")
		}
		if !resource {
			if err := srv.Catalog.Sync(ctx); err != nil {
				log.WithError(err).WithField("model", name).Warn("Trouble syncing tables")
			}
		}

		out := gin.H{"name": spec.Name, "replace": replace}
		ns := srv.Models
		if resource {
			ns = srv.Resources
		}
		if cerr, ok := ns.Failed()[spec.Name]; ok {
			out["compile_error"] = cerr.Error()
		}
		c.JSON(http.StatusCreated, out)
	}
}

// DELETE /api/_admin/models/:name, DELETE /api/_admin/resources/:name
func AdminDropHandler(srv *Server, resource bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		name := c.Param("name")
		owner := c.GetHeader(OwnerHeader)

		var err error
		if resource {
			err = srv.Catalog.DropResource(ctx, name, owner)
		} else {
			// таблицу берём до удаления, пока модель ещё компилируется
			table := ""
			if t, gerr := srv.Models.Get(name); gerr == nil {
				if m, ok := t.(*orm.ModelType); ok {
					table = m.Table()
				}
			}
			err = srv.Catalog.DropModel(ctx, name, owner)
			if err == nil && table != "" {
				n := srv.Storage.Truncate(table)
				log.WithFields(log.Fields{"model": name, "records": n}).Info("Model records dropped")
			}
		}
		if err != nil {
			c.JSON(adminStatus(err), gin.H{"error": err.Error()})
			return
		}
		if err := srv.State.ForceReload(ctx); err != nil {
			log.WithError(err).Warn("Reload after drop failed")
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/_admin/csv (multipart): name, verbose_name, mode, file.
// mode: fail (по умолчанию) — ошибка, если модель уже есть; append —
// заменить спецификацию и дописать строки; overwrite — ещё и очистить записи.
func AdminCSVHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		owner := c.GetHeader(OwnerHeader)
		name := strings.TrimSpace(c.PostForm("name"))
		if !modelNameRe.MatchString(name) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name must be letters and digits, starting with a letter"})
			return
		}
		verbose := strings.TrimSpace(c.DefaultPostForm("verbose_name", name))
		mode := c.DefaultPostForm("mode", "fail")
		if mode != "fail" && mode != "append" && mode != "overwrite" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be fail, append or overwrite"})
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()

		table, err := csvspec.ModelFromCSV(name, verbose, f)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid csv", "details": err.Error()})
			return
		}

		replace := mode != "fail"
		if err := srv.Catalog.DeclareModel(ctx, table.Spec, replace, owner); err != nil {
			c.JSON(adminStatus(err), gin.H{"error": err.Error()})
			return
		}
		resourceName := csvspec.Casify(name)
		res := dsl.SimpleModelResource(dsl.DynamicModels, name, resourceName, dsl.Kw{
			"filtering": dsl.Callable(AuxModule, "universal_filter", nil, dsl.Attribute(dsl.DynamicModels, name)),
		})
		if err := srv.Catalog.DeclareResource(ctx, res, replace, owner); err != nil {
			c.JSON(adminStatus(err), gin.H{"error": err.Error()})
			return
		}
		if err := srv.State.ForceReload(ctx); err != nil {
			log.WithError(err).Warn("Reload after csv upload failed")
		}
		if err := srv.Catalog.Sync(ctx); err != nil {
			log.WithError(err).WithField("model", name).Warn("Trouble syncing tables")
		}

		t, err := srv.Models.Get(name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "model did not compile", "details": err.Error()})
			return
		}
		model := t.(*orm.ModelType)
		if mode == "overwrite" {
			srv.Storage.Truncate(model.Table())
		}
		rows := 0
		err = table.Rows(func(rec map[string]any) error {
			srv.Storage.Insert(model.Table(), rec)
			rows++
			return nil
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid csv", "details": err.Error(), "rows": rows})
			return
		}
		log.WithFields(log.Fields{"model": name, "resource": resourceName, "rows": rows}).Info("CSV loaded")
		c.JSON(http.StatusCreated, gin.H{"model": name, "resource": resourceName, "rows": rows})
	}
}
