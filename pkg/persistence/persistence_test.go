package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	IDs []string `json:"ids"`
}

func TestJSONFileStore_SaveLoadDelete(t *testing.T) {
	svc := NewJSONFileService(t.TempDir())
	st := svc.NewStore("offers", "alice@example.com", "records")

	var got payload
	require.ErrorIs(t, st.Load(&got), ErrNotExists)

	require.NoError(t, st.Save(payload{IDs: []string{"o1", "o2"}}))
	require.NoError(t, st.Load(&got))
	assert.Equal(t, []string{"o1", "o2"}, got.IDs)

	// 不同账号互不影响
	var other payload
	assert.ErrorIs(t, svc.NewStore("offers", "bob", "records").Load(&other), ErrNotExists)

	require.NoError(t, st.Delete())
	require.NoError(t, st.Delete())
	assert.ErrorIs(t, st.Load(&got), ErrNotExists)
}
