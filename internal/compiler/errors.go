package compiler

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrConstruction — хук отказался собирать тип (несовместимые базы, поля, мета).
var ErrConstruction = errors.New("construction failed")

// Stage — на каком шаге упала компиляция.
type Stage string

const (
	StageValidate Stage = "validate"
	StageBases    Stage = "bases"
	StageFields   Stage = "fields"
	StageMeta     Stage = "meta"
	StageBuild    Stage = "build"
	StageAttrs    Stage = "attrs"
)

// SpecError — сбой компиляции одной спецификации.
type SpecError struct {
	Spec  string
	Stage Stage
	Field string
	Err   error
}

func (e *SpecError) Error() string {
	where := e.Spec
	if e.Field != "" {
		where += "." + e.Field
	}
	return fmt.Sprintf("compile %s (%s): %v", where, e.Stage, e.Err)
}

func (e *SpecError) Unwrap() error { return e.Err }

func specErrorf(spec string, stage Stage, format string, args ...any) error {
	return &SpecError{Spec: spec, Stage: stage, Err: errors.Wrapf(ErrConstruction, format, args...)}
}

func constructionErr(err error) error {
	if errors.Is(err, ErrConstruction) {
		return err
	}
	return &wrapped{kind: ErrConstruction, err: err}
}

type wrapped struct {
	kind error
	err  error
}

func (w *wrapped) Error() string    { return w.kind.Error() + ": " + w.err.Error() }
func (w *wrapped) Unwrap() []error { return []error{w.kind, w.err} }
