package compiler

import (
	"dynmodels/internal/dsl"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
)

// Result — итог компиляции набора спецификаций.
type Result struct {
	Types  []Type
	Failed map[string]error
}

// CompileAll компилирует спецификации по очереди. Сбой одной спецификации
// логируется и не мешает остальным; все сбои собираются в возвращаемую ошибку.
func (c *Compiler) CompileAll(specs []*dsl.Spec) (*Result, error) {
	res := &Result{Failed: map[string]error{}}
	var errs *multierror.Error

	for _, spec := range specs {
		t, err := c.Compile(spec)
		if err != nil {
			log.WithFields(log.Fields{
				"module": c.module,
				"spec":   spec.Name,
				"error":  err,
			}).Error("Trouble compiling spec, skipping")
			res.Failed[spec.Name] = err
			errs = multierror.Append(errs, err)
			continue
		}
		res.Types = append(res.Types, t)
	}
	return res, errs.ErrorOrNil()
}
