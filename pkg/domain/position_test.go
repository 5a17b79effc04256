package domain_test

import (
	"testing"

	"github.com/aretw0/callpath/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_StringRoundTrip(t *testing.T) {
	cases := []domain.Position{{}, {0}, {2, 0, 1}, {10, 3}}
	for _, pos := range cases {
		parsed, err := domain.ParsePosition(pos.String())
		require.NoError(t, err)
		assert.True(t, pos.Equal(parsed), "position %v", pos)
	}
}

func TestPosition_ParseRejectsGarbage(t *testing.T) {
	_, err := domain.ParsePosition("1.x")
	assert.Error(t, err)

	_, err = domain.ParsePosition("1.-2")
	assert.Error(t, err)
}

func TestPosition_CloneIsIndependent(t *testing.T) {
	p := domain.Position{1, 2}
	c := p.Clone()
	c[1] = 9

	assert.Equal(t, 2, p[1])
	assert.Equal(t, 9, c.Last())
	assert.Nil(t, domain.Position(nil).Clone())
	assert.Equal(t, -1, domain.Position{}.Last())
}
