// Package registry связывает строковые имена модулей из спецификаций с
// реальными Go-значениями: типами-базами, конструкторами полей, менеджерами.
//
// Реестр наполняется при старте процесса. Спецификации обращаются к нему
// только через ImportCache, который запоминает загруженные модули на время
// одного прохода компиляции.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"dynmodels/internal/expr"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrNoModule — модуль с таким именем не зарегистрирован.
var ErrNoModule = errors.New("no such module")

// Loader загружает модуль. Вызывается не чаще раза на ImportCache.
type Loader func() (expr.Attributer, error)

// Registry — таблица загрузчиков модулей по имени.
type Registry struct {
	mu      sync.RWMutex
	loaders map[string]Loader
}

func New() *Registry {
	return &Registry{loaders: make(map[string]Loader)}
}

// Register добавляет загрузчик. Повторная регистрация имени — ошибка программиста.
func (r *Registry) Register(name string, loader Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loaders[name]; exists {
		panic(fmt.Sprintf("module '%s' already registered", name))
	}
	log.WithField("module", name).Debug("Registering module")
	r.loaders[name] = loader
}

// RegisterModule регистрирует статический модуль.
func (r *Registry) RegisterModule(m *Module) {
	r.Register(m.Name(), func() (expr.Attributer, error) { return m, nil })
}

// Load выполняет загрузчик без кэширования.
func (r *Registry) Load(name string) (expr.Attributer, error) {
	r.mu.RLock()
	loader, ok := r.loaders[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(ErrNoModule, name)
	}
	m, err := loader()
	if err != nil {
		return nil, errors.Wrapf(err, "load module %s", name)
	}
	return m, nil
}

// Names возвращает отсортированный список зарегистрированных модулей.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for k := range r.loaders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Module — именованная таблица членов.
type Module struct {
	name    string
	members map[string]any
}

func NewModule(name string) *Module {
	return &Module{name: name, members: make(map[string]any)}
}

func (m *Module) Name() string { return m.name }

// Set добавляет член модуля и возвращает модуль для цепочек.
func (m *Module) Set(name string, value any) *Module {
	m.members[name] = value
	return m
}

// Func — сокращение для Set(name, expr.Func(fn)).
func (m *Module) Func(name string, fn expr.Func) *Module {
	return m.Set(name, fn)
}

func (m *Module) Attr(name string) (any, bool) {
	v, ok := m.members[name]
	return v, ok
}
