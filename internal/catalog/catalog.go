// Package catalog — запись и удаление спецификаций с проверкой владельца.
//
// Проверка владельца — check-then-act без блокировок между процессами:
// два процесса могут одновременно пройти проверку и записать документ.
package catalog

import (
	"context"

	"dynmodels/internal/dsl"
	"dynmodels/internal/namespace"
	"dynmodels/internal/orm"
	"dynmodels/internal/reload"
	"dynmodels/internal/store"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrOwnership — запись принадлежит другому владельцу.
	ErrOwnership = errors.New("spec is owned by another principal")
	// ErrExists — запись уже есть, а замена не запрошена.
	ErrExists = errors.New("spec already exists")
)

// Tables — DDL таблиц моделей (реализация: pg.Schema).
type Tables interface {
	Sync(ctx context.Context, models []*orm.ModelType) error
	DropTable(ctx context.Context, m *orm.ModelType) error
}

// Catalog — спецификации моделей и ресурсов в хранилище.
type Catalog struct {
	models    store.Collection
	resources store.Collection
	signal    *reload.Signal
	compiled  *namespace.Namespace
	tables    Tables
}

type Option func(*Catalog)

// WithTables включает создание и удаление таблиц.
func WithTables(t Tables) Option {
	return func(c *Catalog) { c.tables = t }
}

// New: compiled — пространство имён скомпилированных моделей.
func New(conn store.Conn, signal *reload.Signal, compiled *namespace.Namespace, opts ...Option) *Catalog {
	c := &Catalog{
		models:    conn.Collection(store.ModelsCollection),
		resources: conn.Collection(store.ResourcesCollection),
		signal:    signal,
		compiled:  compiled,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Catalog) DeclareModel(ctx context.Context, spec *dsl.Spec, replace bool, owner string) error {
	return c.declare(ctx, c.models, spec, replace, owner)
}

func (c *Catalog) DeclareResource(ctx context.Context, spec *dsl.Spec, replace bool, owner string) error {
	return c.declare(ctx, c.resources, spec, replace, owner)
}

// Declare выбирает коллекцию по "_kind" спецификации.
func (c *Catalog) Declare(ctx context.Context, spec *dsl.Spec, replace bool, owner string) error {
	if spec.Kind() == dsl.KindResource {
		return c.DeclareResource(ctx, spec, replace, owner)
	}
	return c.DeclareModel(ctx, spec, replace, owner)
}

func (c *Catalog) declare(ctx context.Context, coll store.Collection, spec *dsl.Spec, replace bool, owner string) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	doc, err := spec.Clone()
	if err != nil {
		return errors.Wrap(err, "declare")
	}
	doc.ID = doc.Name
	doc.Owner = owner

	existing, err := coll.FindOne(ctx, doc.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		if err := coll.Insert(ctx, doc.Document()); err != nil {
			return err
		}
	case err != nil:
		return err
	case !replace:
		return errors.Wrapf(ErrExists, "%s", doc.ID)
	case existing.Owner() != "" && existing.Owner() != owner:
		return errors.Wrapf(ErrOwnership, "%s is owned by %q", doc.ID, existing.Owner())
	default:
		if err := coll.Save(ctx, doc.Document()); err != nil {
			return err
		}
	}

	log.WithFields(log.Fields{"spec": doc.ID, "owner": owner, "replace": replace}).Info("Spec declared")
	return c.signal.MarkUpdated(ctx)
}

// DropModel удаляет спецификацию модели и, если тип скомпилирован, его таблицу.
func (c *Catalog) DropModel(ctx context.Context, name, owner string) error {
	if err := c.checkOwner(ctx, c.models, name, owner); err != nil {
		return err
	}
	// тип мог ни разу не компилироваться в этом процессе
	var model *orm.ModelType
	if t, err := c.compiled.Get(name); err == nil {
		model, _ = t.(*orm.ModelType)
	}

	if err := c.models.Remove(ctx, name); err != nil {
		return err
	}
	if model != nil && c.tables != nil {
		if err := c.tables.DropTable(ctx, model); err != nil {
			log.WithFields(log.Fields{"model": name, "error": err}).Warn("Trouble dropping table")
		}
	}
	log.WithFields(log.Fields{"spec": name, "owner": owner}).Info("Model spec dropped")
	return c.signal.MarkUpdated(ctx)
}

// DropResource удаляет спецификацию ресурса.
func (c *Catalog) DropResource(ctx context.Context, name, owner string) error {
	if err := c.checkOwner(ctx, c.resources, name, owner); err != nil {
		return err
	}
	if err := c.resources.Remove(ctx, name); err != nil {
		return err
	}
	log.WithFields(log.Fields{"spec": name, "owner": owner}).Info("Resource spec dropped")
	return c.signal.MarkUpdated(ctx)
}

func (c *Catalog) checkOwner(ctx context.Context, coll store.Collection, name, owner string) error {
	existing, err := coll.FindOne(ctx, name)
	if err != nil {
		return err
	}
	if o := existing.Owner(); o != "" && o != owner {
		return errors.Wrapf(ErrOwnership, "%s is owned by %q", name, o)
	}
	return nil
}

// GetCompiled перезагружает пространство имён моделей и возвращает модель.
func (c *Catalog) GetCompiled(ctx context.Context, name string) (*orm.ModelType, error) {
	if err := c.compiled.Reload(ctx); err != nil {
		return nil, err
	}
	t, err := c.compiled.Get(name)
	if err != nil {
		return nil, err
	}
	m, ok := t.(*orm.ModelType)
	if !ok {
		return nil, errors.Wrapf(namespace.ErrLookup, "%s is %T, not a model", name, t)
	}
	return m, nil
}

// Sync создаёт таблицы всех скомпилированных управляемых моделей,
// при необходимости загрузив пространство имён.
func (c *Catalog) Sync(ctx context.Context) error {
	if c.tables == nil {
		return nil
	}
	// после неудачной перезагрузки пространство может остаться пустым
	if !c.compiled.Loaded() {
		if err := c.compiled.Load(ctx); err != nil {
			return err
		}
	}
	var models []*orm.ModelType
	for _, t := range c.compiled.Types() {
		if m, ok := t.(*orm.ModelType); ok {
			models = append(models, m)
		}
	}
	return c.tables.Sync(ctx, models)
}

// Models и Resources — сохранённые спецификации.
func (c *Catalog) Models(ctx context.Context) ([]*dsl.Spec, error) { return specsOf(ctx, c.models) }

func (c *Catalog) Resources(ctx context.Context) ([]*dsl.Spec, error) {
	return specsOf(ctx, c.resources)
}

func specsOf(ctx context.Context, coll store.Collection) ([]*dsl.Spec, error) {
	docs, err := coll.Find(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*dsl.Spec, 0, len(docs))
	for _, d := range docs {
		s, err := dsl.FromDocument(d)
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", d.ID())
		}
		out = append(out, s)
	}
	return out, nil
}
