package registry_test

import (
	"testing"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/aretw0/callpath/pkg/dsl"
	"github.com/aretw0/callpath/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(dsl.New("b").Build()))
	require.NoError(t, reg.Register(dsl.New("a").DataType("record").Build()))

	def, err := reg.Resolve("a")
	require.NoError(t, err)
	assert.Equal(t, "record", def.DataType)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
}

func TestRegistry_UnknownName(t *testing.T) {
	_, err := registry.New().Resolve("nope")

	var defErr *domain.DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "nope", defErr.Name)
	assert.ErrorIs(t, err, domain.ErrDefinitionNotFound)
}

func TestRegistry_RejectsDuplicatesAndEmptyNames(t *testing.T) {
	reg := registry.New()
	require.NoError(t, reg.Register(dsl.New("a").Build()))

	assert.ErrorIs(t, reg.Register(dsl.New("a").Build()), registry.ErrDuplicate)
	assert.Error(t, reg.Register(domain.Definition{}))
}

func TestRegistry_Freeze(t *testing.T) {
	reg := registry.New().MustRegister(dsl.New("a").Build())
	reg.Freeze()

	assert.True(t, reg.Frozen())
	assert.ErrorIs(t, reg.Register(dsl.New("b").Build()), registry.ErrRegistryFrozen)

	_, err := reg.Resolve("a")
	assert.NoError(t, err)
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	reg := registry.New().MustRegister(dsl.New("a").Build())
	assert.Panics(t, func() { reg.MustRegister(dsl.New("a").Build()) })
}
