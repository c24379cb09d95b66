package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogBuiltinAndExtra(t *testing.T) {
	c := NewCatalog([]string{" claude-sonnet-4-20250514 ", "claude-3-haiku-20240307", ""})

	list := c.List()
	require.Len(t, list, len(Builtin)+1)
	assert.Equal(t, DefaultModel, list[0].ID)
	assert.Equal(t, "claude-sonnet-4-20250514", list[len(list)-1].ID)
	assert.True(t, c.IsKnown("claude-3-opus-20240229"))
	assert.False(t, c.IsKnown("gpt-4"))
	assert.Equal(t, DefaultModel, c.Default().ID)
}

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog(nil)

	d, err := c.Resolve("claude-3-haiku-20240307")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-haiku-20240307", d.ID)

	d, err = c.Resolve("2")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-sonnet-20240620", d.ID)

	d, err = c.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, d.ID)

	_, err = c.Resolve("99")
	assert.Error(t, err)
	_, err = c.Resolve("mystery-model")
	assert.Error(t, err)
}

func TestCatalogExtendedOutputSupport(t *testing.T) {
	c := NewCatalog(nil)
	assert.True(t, c.SupportsExtendedOutput("claude-3-7-sonnet-20250219"))
	assert.False(t, c.SupportsExtendedOutput("claude-3-opus-20240229"))
	assert.False(t, c.SupportsExtendedOutput("unknown"))
}
