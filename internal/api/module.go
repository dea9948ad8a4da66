package api

import (
	"dynmodels/internal/expr"
	"dynmodels/internal/orm"
	"dynmodels/internal/registry"

	"github.com/pkg/errors"
)

// Имена модулей в реестре.
const (
	ResourcesModule    = "api.resources"
	GeoResourcesModule = "api.geo"
	FieldsModule       = "api.fields"
	AuxModule          = "api.aux"
	ConstantsModule    = "api.constants"
)

// Register регистрирует модули, на которые ссылаются спецификации ресурсов.
func Register(reg *registry.Registry) {
	reg.RegisterModule(registry.NewModule(ResourcesModule).Set("ModelResource", BaseModelResource))
	reg.RegisterModule(registry.NewModule(GeoResourcesModule).
		Set("GeoResource", BaseGeoResource).
		Set("ModelResource", BaseModelResource))

	fields := registry.NewModule(FieldsModule)
	for _, k := range resourceFieldKinds {
		fields.Func(k, fieldCtor(k))
	}
	reg.RegisterModule(fields)

	reg.RegisterModule(registry.NewModule(AuxModule).Func("universal_filter", universalFilter))
	reg.RegisterModule(registry.NewModule(ConstantsModule).Set("ALL", All))
}

// universal_filter(model) принимает модель, её менеджер или queryset.
func universalFilter(a expr.Args) (any, error) {
	if len(a.Positionals) != 1 || len(a.Keywords) > 0 {
		return nil, errors.New("universal_filter takes exactly one argument")
	}
	switch m := a.Positionals[0].(type) {
	case *orm.ModelType:
		return UniversalFilter(m), nil
	case *orm.Manager:
		return UniversalFilter(m.Model()), nil
	case *orm.QuerySet:
		return UniversalFilter(m.Model()), nil
	}
	return nil, errors.Errorf("universal_filter expects a model, got %T", a.Positionals[0])
}
