package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultRoute — маршрут, на который падает выбор, если нужного нет.
const DefaultRoute = "default"

// ErrNoRoute — ни запрошенного маршрута, ни маршрута по умолчанию.
var ErrNoRoute = errors.New("no store route")

// Open открывает хранилище по DSN: "memory" (или "memory://имя") либо URL Postgres.
func Open(ctx context.Context, dsn string) (Conn, error) {
	switch {
	case dsn == "memory" || strings.HasPrefix(dsn, "memory://"):
		return NewMemory(), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		p, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, errors.Errorf("unsupported store dsn %q", dsn)
}

// Router выбирает соединение по имени маршрута и держит открытые соединения.
type Router struct {
	mu     sync.Mutex
	routes map[string]string
	conns  map[string]Conn
	open   func(context.Context, string) (Conn, error)
}

func NewRouter(routes map[string]string) *Router {
	r := &Router{routes: map[string]string{}, conns: map[string]Conn{}, open: Open}
	for k, v := range routes {
		r.routes[k] = v
	}
	return r
}

// GetConnection возвращает соединение маршрута route, иначе маршрута default.
// Соединения с одинаковым DSN разделяются.
func (r *Router) GetConnection(ctx context.Context, route string) (Conn, error) {
	dsn, ok := r.routes[route]
	if !ok {
		dsn, ok = r.routes[DefaultRoute]
	}
	if !ok {
		return nil, errors.Wrapf(ErrNoRoute, "%q", route)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[dsn]; ok {
		return c, nil
	}
	c, err := r.open(ctx, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "route %q", route)
	}
	log.WithField("route", route).Info("Spec store connected")
	r.conns[dsn] = c
	return c, nil
}

// Routes — имена настроенных маршрутов.
func (r *Router) Routes() []string {
	out := make([]string, 0, len(r.routes))
	for k := range r.routes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Close закрывает все открытые соединения.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs *multierror.Error
	for dsn, c := range r.conns {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		delete(r.conns, dsn)
	}
	return errs.ErrorOrNil()
}
