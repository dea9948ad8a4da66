package api

import (
	"context"
	"strings"
)

// lookupResource находит скомпилированный ресурс по resource_name.
// Сначала точное совпадение, затем регистронезависимое, если оно единственное.
func (srv *Server) lookupResource(ctx context.Context, name string) (*ResourceType, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if !srv.Resources.Loaded() {
		if err := srv.Resources.Load(ctx); err != nil {
			return nil, false
		}
	}

	var found *ResourceType
	unique := true
	for _, t := range srv.Resources.Types() {
		r, ok := t.(*ResourceType)
		if !ok {
			continue
		}
		if r.ResourceName() == name {
			return r, true
		}
		if strings.EqualFold(r.ResourceName(), name) {
			if found != nil {
				unique = false
			}
			found = r
		}
	}
	if found != nil && unique {
		return found, true
	}
	return nil, false
}

// resources — все скомпилированные ресурсы в порядке resource_name.
func (srv *Server) resources() []*ResourceType {
	types := srv.Resources.Types()
	out := make([]*ResourceType, 0, len(types))
	for _, t := range types {
		if r, ok := t.(*ResourceType); ok {
			out = append(out, r)
		}
	}
	sortResources(out)
	return out
}
