package orm

import (
	"dynmodels/internal/expr"
	"dynmodels/internal/registry"

	"github.com/pkg/errors"
)

// Имена модулей в реестре.
const (
	ModelsModule    = "store.models"
	GeoModelsModule = "store.geo.models"
)

// Register регистрирует store.models (Model, Manager, обычные поля) и
// store.geo.models (GeoModel, GeoManager, все поля включая геометрию).
func Register(reg *registry.Registry) {
	plain := registry.NewModule(ModelsModule).
		Set("Model", BaseModel).
		Func("Manager", managerCtor(false))
	geo := registry.NewModule(GeoModelsModule).
		Set("GeoModel", BaseGeoModel).
		Set("Model", BaseModel).
		Func("GeoManager", managerCtor(true)).
		Func("Manager", managerCtor(false))

	for _, k := range Kinds() {
		ctor := fieldCtor(k)
		if kinds[k].geometry == "" {
			plain.Func(string(k), ctor)
		}
		geo.Func(string(k), ctor)
	}
	reg.RegisterModule(plain)
	reg.RegisterModule(geo)
}

func fieldCtor(k Kind) expr.Func {
	return func(a expr.Args) (any, error) { return NewField(k, a) }
}

func managerCtor(geo bool) expr.Func {
	return func(a expr.Args) (any, error) {
		if len(a.Positionals) > 0 || len(a.Keywords) > 0 {
			return nil, errors.New("manager takes no arguments")
		}
		return NewManager(geo), nil
	}
}
