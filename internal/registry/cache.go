package registry

import (
	"dynmodels/internal/expr"
)

// ImportCache запоминает загруженные модули. Живёт ровно один проход
// компиляции; сброса нет — для перезагрузки создаётся новый кэш.
type ImportCache struct {
	reg     *Registry
	modules map[string]expr.Attributer
	loads   int
}

func NewImportCache(reg *Registry) *ImportCache {
	return &ImportCache{reg: reg, modules: make(map[string]expr.Attributer)}
}

// Import реализует expr.Importer.
func (c *ImportCache) Import(name string) (expr.Attributer, error) {
	if m, ok := c.modules[name]; ok {
		return m, nil
	}
	m, err := c.reg.Load(name)
	if err != nil {
		return nil, err
	}
	c.loads++
	c.modules[name] = m
	return m, nil
}

// Loads — сколько раз реально вызывались загрузчики.
func (c *ImportCache) Loads() int { return c.loads }
