package registry

import (
	"testing"

	"dynmodels/internal/expr"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportCacheMemoizesPerInstance(t *testing.T) {
	reg := New()
	calls := 0
	reg.Register("counted", func() (expr.Attributer, error) {
		calls++
		return NewModule("counted"), nil
	})

	c := NewImportCache(reg)
	m1, err := c.Import("counted")
	require.NoError(t, err)
	m2, err := c.Import("counted")
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.Loads())

	// новый кэш — новая загрузка
	m3, err := NewImportCache(reg).Import("counted")
	require.NoError(t, err)
	assert.NotSame(t, m1, m3)
	assert.Equal(t, 2, calls)
}

func TestImportUnknownModule(t *testing.T) {
	_, err := NewImportCache(New()).Import("missing")
	assert.True(t, errors.Is(err, ErrNoModule))
}

func TestLoaderErrorNotCached(t *testing.T) {
	reg := New()
	fail := true
	reg.Register("flaky", func() (expr.Attributer, error) {
		if fail {
			return nil, errors.New("down")
		}
		return NewModule("flaky"), nil
	})
	c := NewImportCache(reg)
	_, err := c.Import("flaky")
	require.Error(t, err)
	fail = false
	_, err = c.Import("flaky")
	require.NoError(t, err)
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	reg := New()
	reg.RegisterModule(NewModule("a"))
	assert.Panics(t, func() { reg.RegisterModule(NewModule("a")) })
	assert.Equal(t, []string{"a"}, reg.Names())
}
