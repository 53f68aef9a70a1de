package scope

import (
	"testing"

	"github.com/poiesic/lodestone/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipal(t *testing.T) {
	p := NewPrincipal("tenant-a", "tenant-b", "")

	assert.True(t, p.Controls("tenant-a"))
	assert.True(t, p.Controls("tenant-b"))
	assert.False(t, p.Controls("tenant-c"))
	assert.False(t, p.Controls(""))
	assert.Equal(t, []core.ScopeID{"tenant-a", "tenant-b"}, p.Scopes())
	assert.False(t, p.IsUnrestricted())

	t.Run("unrestricted", func(t *testing.T) {
		admin := Unrestricted()
		assert.True(t, admin.Controls("anything"))
		assert.False(t, admin.Controls(""))
		assert.Nil(t, admin.Scopes())
	})

	t.Run("zero value controls nothing", func(t *testing.T) {
		var zero Principal
		assert.False(t, zero.Controls("tenant-a"))
	})
}

func TestAuthorize(t *testing.T) {
	p := NewPrincipal("tenant-a")

	assert.NoError(t, Authorize(p, "tenant-a"))
	assert.ErrorIs(t, Authorize(p, "tenant-b"), core.ErrScopeViolation)
	assert.ErrorIs(t, Authorize(p, ""), core.ErrEmptyScope)
	assert.NoError(t, Authorize(Unrestricted(), "tenant-b"))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Add("tenant-a", 1)
	r.Add("tenant-a", 2)
	r.Add("tenant-b", 3)

	assert.True(t, r.Contains("tenant-a", 1))
	assert.False(t, r.Contains("tenant-b", 1))
	assert.Equal(t, 2, r.Count("tenant-a"))
	assert.Equal(t, 2, r.Len())

	t.Run("filter admits only controlled scopes", func(t *testing.T) {
		f := r.Filter(NewPrincipal("tenant-a"))
		assert.True(t, f.Allows(1))
		assert.True(t, f.Allows(2))
		assert.False(t, f.Allows(3))
		assert.False(t, f.Allows(99))
	})

	t.Run("filter unions several scopes", func(t *testing.T) {
		f := r.Filter(NewPrincipal("tenant-a", "tenant-b"))
		for _, id := range []core.ID{1, 2, 3} {
			assert.True(t, f.Allows(id))
		}
	})

	t.Run("unknown scope admits nothing", func(t *testing.T) {
		f := r.Filter(NewPrincipal("tenant-z"))
		require.NotNil(t, f)
		assert.False(t, f.Allows(1))
	})

	t.Run("unrestricted filter is nil", func(t *testing.T) {
		assert.Nil(t, r.Filter(Unrestricted()))
	})

	t.Run("filter is frozen at creation", func(t *testing.T) {
		f := r.Filter(NewPrincipal("tenant-b"))
		r.Add("tenant-b", 4)
		assert.False(t, f.Allows(4))
		assert.True(t, r.Filter(NewPrincipal("tenant-b")).Allows(4))
	})

	t.Run("remove forgets empty scopes", func(t *testing.T) {
		r.Remove("tenant-b", 3)
		r.Remove("tenant-b", 4)
		r.Remove("tenant-x", 1)
		assert.Equal(t, 0, r.Count("tenant-b"))
		assert.Equal(t, 1, r.Len())
	})
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	for id := core.ID(1); id <= 1000; id++ {
		if id%3 == 0 {
			r.Add("tenant-a", id)
		} else {
			r.Add("tenant-b", id)
		}
	}

	blob, err := r.Snapshot()
	require.NoError(t, err)
	restored, err := Restore(blob)
	require.NoError(t, err)

	assert.Equal(t, r.Count("tenant-a"), restored.Count("tenant-a"))
	assert.Equal(t, r.Count("tenant-b"), restored.Count("tenant-b"))
	assert.True(t, restored.Contains("tenant-a", 999))
	assert.False(t, restored.Contains("tenant-a", 1000))

	_, err = Restore([]byte{0xc1})
	assert.Error(t, err)
}
