package expr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrResolution — не найден модуль, атрибут или вызываемый объект.
	ErrResolution = errors.New("resolution failed")
	// ErrCall — вызываемый объект вернул ошибку.
	ErrCall = errors.New("call failed")
	// ErrDecode — документ не разбирается как выражение.
	ErrDecode = errors.New("malformed expression")
)

// Error описывает сбой вычисления конкретного выражения.
type Error struct {
	Kind error
	Tag  Tag
	Ref  string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := fmt.Sprintf("%s: %s %s", e.Kind, e.Tag, e.Ref)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

func unresolved(e Expr, format string, args ...any) error {
	return &Error{Kind: ErrResolution, Tag: e.Tag(), Ref: ref(e), Msg: fmt.Sprintf(format, args...)}
}

func callFailed(e Expr, err error) error {
	// ошибки вложенных выражений пробрасываем без повторной обёртки
	var inner *Error
	if errors.As(err, &inner) {
		return err
	}
	return &Error{Kind: ErrCall, Tag: e.Tag(), Ref: ref(e), Err: err}
}

func decodeErr(format string, args ...any) error {
	return errors.Wrapf(ErrDecode, format, args...)
}
