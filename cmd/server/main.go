package main

import (
	"context"
	"os"
	"sort"
	"time"

	"dynmodels/internal/api"
	"dynmodels/internal/catalog"
	"dynmodels/internal/config"
	"dynmodels/internal/dsl"
	"dynmodels/internal/namespace"
	"dynmodels/internal/orm"
	"dynmodels/internal/pg"
	"dynmodels/internal/registry"
	"dynmodels/internal/reload"
	"dynmodels/internal/store"

	log "github.com/sirupsen/logrus"
	"github.com/uber-go/tally"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	version string

	app = kingpin.New("dynmodels", "Runtime-compiled models and API resources")

	cfgFile = app.Flag("config", "YAML config file").
		Short('c').
		Default("config.yaml").
		Envar("DYNMODELS_CONFIG").
		String()

	debug = app.Flag("debug", "enable debug logging").
		Short('d').
		Default("false").
		Bool()

	serveCmd = app.Command("serve", "Run the HTTP API").Default()

	seedCmd   = app.Command("seed", "Declare .dsl and document specs from directories")
	seedDirs  = seedCmd.Arg("dirs", "directories to read (default: seedDirs from config)").Strings()
	seedOwner = seedCmd.Flag("owner", "owner recorded on declared specs").String()

	dropCmd      = app.Command("drop", "Drop a model or resource spec")
	dropName     = dropCmd.Arg("name", "spec name").Required().String()
	dropResource = dropCmd.Flag("resource", "drop a resource spec instead of a model").Bool()
	dropOwner    = dropCmd.Flag("owner", "owner of the spec").String()
)

// services — всё, что собирается из конфигурации.
type services struct {
	srv     *api.Server
	cleanup func()
}

func setup(ctx context.Context, cfg config.Config) (*services, error) {
	router := store.NewRouter(cfg.Routes)
	conn, err := router.GetConnection(ctx, cfg.Route)
	if err != nil {
		return nil, err
	}

	scope, closer := tally.NewRootScope(tally.ScopeOptions{Prefix: "dynmodels"}, time.Second)

	reg := registry.New()
	orm.Register(reg)
	api.Register(reg)

	models := namespace.New(dsl.DynamicModels, conn.Collection(store.ModelsCollection), reg, orm.Hook{},
		namespace.WithScope(scope.Tagged(map[string]string{"namespace": "models"})))
	resources := namespace.New(dsl.DynamicResources, conn.Collection(store.ResourcesCollection), reg, api.Hook{},
		namespace.WithScope(scope.Tagged(map[string]string{"namespace": "api"})))
	models.Register()
	resources.Register()

	signal := reload.NewSignal(conn.Stamps())
	var opts []catalog.Option
	if p, ok := conn.(*store.Postgres); ok {
		opts = append(opts, catalog.WithTables(pg.NewSchema(p.DB())))
	}
	cat := catalog.New(conn, signal, models, opts...)
	state := reload.NewState(signal, models, resources)

	return &services{
		srv: &api.Server{
			Models:    models,
			Resources: resources,
			Catalog:   cat,
			State:     state,
			Storage:   api.NewStorage(),
		},
		cleanup: func() {
			state.Dispose()
			closer.Close()
			if err := router.Close(); err != nil {
				log.WithError(err).Warn("Trouble closing stores")
			}
		},
	}, nil
}

func main() {
	app.Version(version)
	app.HelpFlag.Short('h')
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		log.WithError(err).Fatal("Cannot load config")
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if *debug {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	ctx := context.Background()
	rt, err := setup(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("Cannot open spec store")
	}
	defer rt.cleanup()

	switch cmd {
	case serveCmd.FullCommand():
		err = serve(ctx, rt, cfg)
	case seedCmd.FullCommand():
		dirs := *seedDirs
		if len(dirs) == 0 {
			dirs = cfg.SeedDirs
		}
		err = seed(ctx, rt, dirs, *seedOwner)
	case dropCmd.FullCommand():
		err = drop(ctx, rt, *dropName, *dropResource, *dropOwner)
	}
	if err != nil {
		log.WithError(err).Error("Command failed")
		rt.cleanup()
		os.Exit(1)
	}
}

func serve(ctx context.Context, rt *services, cfg config.Config) error {
	if err := rt.srv.State.ForceReload(ctx); err != nil {
		// сломанные спецификации не мешают поднять остальные
		log.WithError(err).Warn("Initial load failed")
	}
	for _, ns := range []*namespace.Namespace{rt.srv.Models, rt.srv.Resources} {
		for _, name := range ns.FailedNames() {
			log.WithFields(log.Fields{"namespace": ns.Name(), "spec": name}).Warn("Spec did not compile")
		}
	}
	if cfg.AutoSync {
		if err := rt.srv.Catalog.Sync(ctx); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{
		"addr":      cfg.Addr(),
		"route":     cfg.Route,
		"models":    len(rt.srv.Models.Types()),
		"resources": len(rt.srv.Resources.Types()),
	}).Info("Starting dynmodels server")
	return api.RunServer(cfg.Addr(), rt.srv)
}

// seed объявляет спецификации из .dsl файлов и документов, заменяя
// существующие с тем же владельцем.
func seed(ctx context.Context, rt *services, dirs []string, owner string) error {
	declared := 0
	for _, dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			log.WithField("dir", dir).Warn("Seed directory not found, skipping")
			continue
		}
		byName, err := dsl.LoadAllSpecs(dir)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(byName))
		for n := range byName {
			names = append(names, n)
		}
		sort.Strings(names)
		specs := make([]*dsl.Spec, 0, len(names))
		for _, n := range names {
			specs = append(specs, byName[n])
		}
		docs, err := dsl.LoadDocuments(dir)
		if err != nil {
			return err
		}
		specs = append(specs, docs...)

		for _, s := range specs {
			if err := rt.srv.Catalog.Declare(ctx, s, true, owner); err != nil {
				return err
			}
			declared++
		}
		log.WithFields(log.Fields{"dir": dir, "specs": len(specs)}).Info("Seeded specs")
	}

	if err := rt.srv.State.ForceReload(ctx); err != nil {
		log.WithError(err).Warn("Reload after seed failed")
	}
	failed := map[string]error{}
	for k, v := range rt.srv.Models.Failed() {
		failed[k] = v
	}
	for k, v := range rt.srv.Resources.Failed() {
		failed[k] = v
	}
	for name, err := range failed {
		log.WithFields(log.Fields{"spec": name, "error": err}).Warn("Seeded spec did not compile")
	}
	if err := rt.srv.Catalog.Sync(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{"declared": declared, "failed": len(failed)}).Info("Seed done")
	return nil
}

func drop(ctx context.Context, rt *services, name string, resource bool, owner string) error {
	if resource {
		return rt.srv.Catalog.DropResource(ctx, name, owner)
	}
	// модель должна быть скомпилирована, чтобы удалить её таблицу
	if err := rt.srv.Models.Load(ctx); err != nil {
		log.WithError(err).Warn("Load before drop failed")
	}
	return rt.srv.Catalog.DropModel(ctx, name, owner)
}
