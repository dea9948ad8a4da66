package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// ===== META HANDLERS =====

type metaResourceListItem struct {
	Resource string `json:"resource"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Geo      bool   `json:"geo,omitempty"`
	ListURI  string `json:"list_endpoint"`
	Schema   string `json:"schema"`
}

// GET /api/meta
func MetaListHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !srv.Resources.Loaded() {
			if err := srv.Resources.Load(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
				return
			}
		}
		list := srv.resources()
		out := make([]metaResourceListItem, 0, len(list))
		for _, r := range list {
			out = append(out, metaResourceListItem{
				Resource: r.ResourceName(),
				Name:     r.Name(),
				Model:    r.Model().Name(),
				Geo:      r.IsGeo(),
				ListURI:  "/api/" + r.ResourceName(),
				Schema:   "/api/meta/" + r.ResourceName(),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

type metaField struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Column    string   `json:"column,omitempty"`
	Attribute string   `json:"attribute,omitempty"`
	Nullable  bool     `json:"nullable"`
	Readonly  bool     `json:"readonly,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Required  bool     `json:"required,omitempty"`
	MaxLength int      `json:"max_length,omitempty"`
	Choices   []string `json:"choices,omitempty"`
	Default   any      `json:"default,omitempty"`
	HelpText  string   `json:"help_text,omitempty"`
	Verbose   string   `json:"verbose_name,omitempty"`
	SRID      int      `json:"srid,omitempty"`
}

type metaResource struct {
	Resource       string              `json:"resource"`
	Name           string              `json:"name"`
	Model          string              `json:"model"`
	Table          string              `json:"table"`
	Geo            bool                `json:"geo,omitempty"`
	AllowedMethods []string            `json:"allowed_methods"`
	Filtering      map[string][]string `json:"filtering"`
	Ordering       []string            `json:"ordering,omitempty"`
	DefaultLimit   int                 `json:"default_limit"`
	Fields         []metaField         `json:"fields"`
	Constraints    map[string]any      `json:"constraints,omitempty"`
}

// GET /api/meta/:resource
func MetaResourceHandler(srv *Server) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := srv.lookupResource(c.Request.Context(), c.Param("resource"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Resource not found"})
			return
		}
		model := res.Model()

		fields := make([]metaField, 0, len(res.Visible()))
		for _, f := range res.Visible() {
			mf := metaField{
				Name:      f.Name,
				Type:      string(f.Kind),
				Column:    f.ColumnName(),
				Nullable:  f.Null,
				Unique:    f.Unique,
				Required:  f.Required(),
				MaxLength: f.MaxLength,
				Choices:   append([]string(nil), f.Choices...),
				HelpText:  f.HelpText,
				Verbose:   f.VerboseName,
			}
			if f.HasDefault {
				mf.Default = f.Default
			}
			if f.IsGeo() {
				mf.SRID = f.SRID
			}
			fields = append(fields, mf)
		}
		for _, rf := range res.ResourceFields() {
			mf := metaField{
				Name:      rf.Name,
				Type:      rf.Kind,
				Attribute: rf.Source(),
				Nullable:  rf.Null,
				Readonly:  rf.Readonly,
				HelpText:  rf.HelpText,
			}
			if rf.HasDefault {
				mf.Default = rf.Default
			}
			fields = append(fields, mf)
		}

		filtering := map[string][]string{}
		for k, ops := range res.Filtering() {
			if len(ops) == 0 {
				ops = []string{All}
			}
			filtering[k] = ops
		}

		var constraints map[string]any
		if uq := model.Options().UniqueTogether; len(uq) > 0 {
			constraints = map[string]any{"unique": uq}
		}

		c.JSON(http.StatusOK, metaResource{
			Resource:       res.ResourceName(),
			Name:           res.Name(),
			Model:          model.Name(),
			Table:          model.Table(),
			Geo:            res.IsGeo(),
			AllowedMethods: res.AllowedMethods(),
			Filtering:      filtering,
			Ordering:       res.Ordering(),
			DefaultLimit:   res.DefaultLimit(),
			Fields:         fields,
			Constraints:    constraints,
		})
	}
}

func sortResources(list []*ResourceType) {
	sort.Slice(list, func(i, j int) bool { return list[i].ResourceName() < list[j].ResourceName() })
}
