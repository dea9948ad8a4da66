package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Routes: имя маршрута -> DSN ("memory" или URL Postgres)
	Routes map[string]string `yaml:"routes"`
	Route  string            `yaml:"route"`

	// Каталоги с .dsl и документами (json/yaml) для seed
	SeedDirs []string `yaml:"seedDirs"`
	AutoSync bool     `yaml:"autoSync"`
	LogLevel string   `yaml:"logLevel"`
}

func def() Config {
	return Config{
		Port:     "8080",
		Routes:   map[string]string{"default": "memory"},
		Route:    "default",
		SeedDirs: []string{"dsl"},
		AutoSync: false,
		LogLevel: "info",
	}
}

func loadYAML(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return errors.Wrapf(err, "parse %s", path)
	}
	return nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}
func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvList(k string, fallback []string) []string {
	v := getenv(k, "")
	if v == "" {
		return fallback
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load: значения по умолчанию, затем YAML по пути path (если файл есть),
// затем переменные DYNMODELS_*. Пустой path — только умолчания и ENV.
func Load(path string) (Config, error) {
	cfg := def()

	if path != "" {
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			if err := loadYAML(path, &cfg); err != nil {
				return cfg, err
			}
		}
	}

	// ENV overrides
	cfg.Port = getenv("DYNMODELS_PORT", cfg.Port)
	cfg.Route = getenv("DYNMODELS_ROUTE", cfg.Route)
	cfg.SeedDirs = getenvList("DYNMODELS_SEED_DIRS", cfg.SeedDirs)
	cfg.AutoSync = getenvBool("DYNMODELS_AUTO_SYNC", cfg.AutoSync)
	cfg.LogLevel = getenv("DYNMODELS_LOG_LEVEL", cfg.LogLevel)
	// DSN маршрута по умолчанию — самая частая правка
	if dsn := getenv("DYNMODELS_DB_URL", ""); dsn != "" {
		routes := make(map[string]string, len(cfg.Routes)+1)
		for k, v := range cfg.Routes {
			routes[k] = v
		}
		routes[cfg.Route] = dsn
		cfg.Routes = routes
	}

	if strings.TrimSpace(cfg.Route) == "" {
		return cfg, errors.New("route must not be empty")
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return cfg, errors.Errorf("port %q is not a number", cfg.Port)
	}
	return cfg, nil
}

// Addr — адрес для gin.Run.
func (c Config) Addr() string { return ":" + c.Port }
