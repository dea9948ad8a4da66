// Package namespace держит набор типов, скомпилированных из одной коллекции
// спецификаций: "dynamic.models" или "dynamic.api".
//
// Каждая загрузка строит свежий кэш импортов и свежий компилятор, поэтому
// после Reload все типы — новые объекты. Namespace регистрируется в реестре
// как модуль, и спецификации ресурсов ссылаются на скомпилированные модели
// обычными attribute/queryset-выражениями.
package namespace

import (
	"context"
	"sort"
	"sync"
	"time"

	"dynmodels/internal/compiler"
	"dynmodels/internal/dsl"
	"dynmodels/internal/expr"
	"dynmodels/internal/registry"
	"dynmodels/internal/store"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
)

// ErrLookup — типа с таким именем нет в загруженном пространстве имён.
var ErrLookup = errors.New("type not found")

// Namespace — загруженные типы одной коллекции.
type Namespace struct {
	name    string
	coll    store.Collection
	reg     *registry.Registry
	hook    compiler.Hook
	metrics *Metrics
	trace   func(expr.Expr)

	mu     sync.RWMutex
	types  map[string]compiler.Type
	order  []string
	failed map[string]error
	loaded bool

	loading atomic.Bool
}

type Option func(*Namespace)

// WithScope включает метрики в переданном scope.
func WithScope(scope tally.Scope) Option {
	return func(n *Namespace) { n.metrics = NewMetrics(scope.SubScope("namespace")) }
}

// WithTrace передаёт трассировку вызовов в контекст вычисления.
func WithTrace(fn func(expr.Expr)) Option {
	return func(n *Namespace) { n.trace = fn }
}

func New(name string, coll store.Collection, reg *registry.Registry, hook compiler.Hook, opts ...Option) *Namespace {
	n := &Namespace{
		name:    name,
		coll:    coll,
		reg:     reg,
		hook:    hook,
		metrics: NewMetrics(tally.NoopScope),
		types:   map[string]compiler.Type{},
		failed:  map[string]error{},
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Namespace) Name() string { return n.name }

// Register делает пространство имён модулем реестра. Первое обращение к
// незагруженному модулю загружает его.
func (n *Namespace) Register() {
	n.reg.Register(n.name, func() (expr.Attributer, error) {
		if !n.Loaded() && !n.loading.Load() {
			if err := n.Load(context.Background()); err != nil {
				return nil, err
			}
		}
		return n, nil
	})
}

// Load компилирует все спецификации коллекции. Ошибка возвращается только
// при сбое чтения хранилища; сбой отдельной спецификации логируется и
// попадает в Failed.
func (n *Namespace) Load(ctx context.Context) error {
	n.loading.Store(true)
	defer n.loading.Store(false)
	start := time.Now()

	docs, err := n.coll.Find(ctx)
	if err != nil {
		return errors.Wrapf(err, "load %s", n.name)
	}

	failed := map[string]error{}
	specs := make([]*dsl.Spec, 0, len(docs))
	for _, d := range docs {
		spec, err := dsl.FromDocument(d)
		if err != nil {
			log.WithFields(log.Fields{"namespace": n.name, "spec": d.ID(), "error": err}).
				Error("Trouble decoding spec, skipping")
			failed[d.ID()] = err
			continue
		}
		specs = append(specs, spec)
	}

	var eopts []expr.Option
	if n.trace != nil {
		eopts = append(eopts, expr.WithTrace(n.trace))
	}
	c := compiler.New(n.name, n.hook, expr.NewContext(registry.NewImportCache(n.reg), eopts...))
	res, _ := c.CompileAll(specs)
	for k, v := range res.Failed {
		failed[k] = v
	}

	types := make(map[string]compiler.Type, len(res.Types))
	order := make([]string, 0, len(res.Types))
	for _, t := range res.Types {
		types[t.TypeName()] = t
		order = append(order, t.TypeName())
	}

	n.mu.Lock()
	n.types, n.order, n.failed, n.loaded = types, order, failed, true
	n.mu.Unlock()

	n.metrics.Compiled.Inc(int64(len(types)))
	n.metrics.Failed.Inc(int64(len(failed)))
	n.metrics.Types.Update(float64(len(types)))
	n.metrics.LoadDuration.Record(time.Since(start))
	log.WithFields(log.Fields{
		"namespace": n.name,
		"types":     len(types),
		"failed":    len(failed),
	}).Info("Namespace loaded")
	return nil
}

// Unload забывает все типы; следующий доступ через реестр загрузит их заново.
func (n *Namespace) Unload() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.types = map[string]compiler.Type{}
	n.order = nil
	n.failed = map[string]error{}
	n.loaded = false
}

// Reload — Unload и Load.
func (n *Namespace) Reload(ctx context.Context) error {
	n.Unload()
	n.metrics.Reloads.Inc(1)
	return n.Load(ctx)
}

func (n *Namespace) Loaded() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loaded
}

// Get возвращает тип по имени.
func (n *Namespace) Get(name string) (compiler.Type, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.types[name]
	if !ok {
		return nil, errors.Wrapf(ErrLookup, "%s.%s", n.name, name)
	}
	return t, nil
}

// Attr — доступ к типам из выражений.
func (n *Namespace) Attr(name string) (any, bool) {
	t, err := n.Get(name)
	if err != nil {
		return nil, false
	}
	return t, true
}

// Types — типы в порядке компиляции.
func (n *Namespace) Types() []compiler.Type {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]compiler.Type, 0, len(n.order))
	for _, name := range n.order {
		out = append(out, n.types[name])
	}
	return out
}

// Failed — спецификации, не скомпилированные при последней загрузке.
func (n *Namespace) Failed() map[string]error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]error, len(n.failed))
	for k, v := range n.failed {
		out[k] = v
	}
	return out
}

// FailedNames — отсортированные имена из Failed.
func (n *Namespace) FailedNames() []string {
	f := n.Failed()
	out := make([]string, 0, len(f))
	for k := range f {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
