// Package api отдаёт скомпилированные ресурсы по HTTP и принимает
// администрирование спецификаций.
package api

import (
	"net/http"

	"dynmodels/internal/catalog"
	"dynmodels/internal/namespace"
	"dynmodels/internal/reload"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Server — зависимости обработчиков.
type Server struct {
	Models    *namespace.Namespace
	Resources *namespace.Namespace
	Catalog   *catalog.Catalog
	State     *reload.State
	Storage   *Storage
}

func NewRouter(srv *Server) *gin.Engine {
	r := gin.Default()
	r.Use(ReloadMiddleware(srv.State))

	apiGroup := r.Group("/api")
	{
		// статические "служебные" маршруты — СНАЧАЛА
		apiGroup.GET("/meta", MetaListHandler(srv))
		apiGroup.GET("/meta/:resource", MetaResourceHandler(srv))

		admin := apiGroup.Group("/_admin")
		admin.POST("/reload", AdminReloadHandler(srv))
		admin.POST("/models/:name", AdminDeclareHandler(srv, false))
		admin.DELETE("/models/:name", AdminDropHandler(srv, false))
		admin.POST("/resources/:name", AdminDeclareHandler(srv, true))
		admin.DELETE("/resources/:name", AdminDropHandler(srv, true))
		admin.POST("/csv", AdminCSVHandler(srv))

		// обычные CRUD
		apiGroup.GET("/:resource", ListHandler(srv))
		apiGroup.POST("/:resource", CreateHandler(srv))
		apiGroup.GET("/:resource/:id", GetOneHandler(srv))
		apiGroup.PUT("/:resource/:id", UpdateHandler(srv))
		apiGroup.PATCH("/:resource/:id", PatchHandler(srv))
		apiGroup.DELETE("/:resource/:id", DeleteHandler(srv))
	}
	return r
}

func RunServer(addr string, srv *Server) error {
	return NewRouter(srv).Run(addr)
}

// ReloadMiddleware перед каждым запросом перезагружает пространства имён,
// если спецификации в хранилище поменялись. Ошибка загрузки не роняет
// запрос: обработчик работает с тем, что удалось скомпилировать.
func ReloadMiddleware(state *reload.State) gin.HandlerFunc {
	return func(c *gin.Context) {
		reloaded, err := state.ReloadIfStale(c.Request.Context())
		switch {
		case errors.Is(err, reload.ErrDisposed):
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down"})
			return
		case err != nil:
			log.WithError(err).WithField("path", c.Request.URL.Path).Warn("Reload before request failed")
		case reloaded:
			log.WithField("reloads", state.Reloads()).Debug("Reloaded specs before request")
		}
		c.Next()
	}
}
