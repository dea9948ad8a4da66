package namespace

import (
	"github.com/uber-go/tally"
)

// Metrics — метрики загрузки пространства имён.
type Metrics struct {
	Compiled     tally.Counter
	Failed       tally.Counter
	Reloads      tally.Counter
	Types        tally.Gauge
	LoadDuration tally.Timer
}

// NewMetrics returns a new instance of Metrics.
func NewMetrics(scope tally.Scope) *Metrics {
	successScope := scope.Tagged(map[string]string{"result": "success"})
	failScope := scope.Tagged(map[string]string{"result": "fail"})
	return &Metrics{
		Compiled:     successScope.Counter("specs_compiled"),
		Failed:       failScope.Counter("specs_compiled"),
		Reloads:      scope.Counter("reloads"),
		Types:        scope.Gauge("types"),
		LoadDuration: scope.Timer("load_duration"),
	}
}
