package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vmountfs/internal/vfs"
)

func TestCapContains(t *testing.T) {
	assert.True(t, All.Contains(Read|Write))
	assert.True(t, Read.Contains(None))
	assert.False(t, Read.Contains(Write))
	assert.False(t, (Read | Execute).Contains(Read|Write))
	assert.Equal(t, "read|execute", (Read | Execute).String())
	assert.Equal(t, "none", None.String())
}

func TestFromPerm(t *testing.T) {
	tests := []struct {
		perm vfs.NodePerm
		want Cap
	}{
		{0o755, All},
		{0o644, Read | Write},
		{0o444, Read},
		{0o077, None},
		{0o100, Execute},
	}
	for _, tt := range tests {
		t.Run(tt.perm.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, FromPerm(tt.perm))
		})
	}
}

func TestWithCap(t *testing.T) {
	w := New("payload", Read)

	v, err := w.Access(Read)
	require.NoError(t, err)
	assert.Equal(t, "payload", v)

	v, err = w.Access(Write)
	assert.ErrorIs(t, err, vfs.ErrPermissionDenied)
	assert.Empty(t, v)

	_, err = w.AccessOrErr(Read|Write, vfs.ErrUnsupported)
	assert.ErrorIs(t, err, vfs.ErrUnsupported)

	assert.Equal(t, "payload", w.AccessUnchecked())
	assert.Equal(t, Read, w.Cap())
	assert.True(t, w.CanAccess(None))
}
