package refresh

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellDropsOlderBatch(t *testing.T) {
	var c Cell[string]
	older := c.Begin()
	newer := c.Begin()

	require.True(t, c.Publish(newer, "newer"))
	require.False(t, c.Publish(older, "older"))
	require.Equal(t, "newer", c.Load())
}

func TestCellResetSupersedesInflight(t *testing.T) {
	var c Cell[int]
	token := c.Begin()
	c.Reset(0)

	require.False(t, c.Publish(token, 42))
	require.Equal(t, 0, c.Load())
}

func TestCellRebindClearsForeignValue(t *testing.T) {
	var c Cell[string]
	c.Publish(c.Begin(), "alice")

	same := func(v string) bool { return v == "alice" }
	token := c.Rebind(same, "")
	require.Equal(t, "alice", c.Load())
	require.True(t, c.Publish(token, "alice"))

	other := func(v string) bool { return v == "bob" }
	token = c.Rebind(other, "")
	require.Equal(t, "", c.Load())
	require.True(t, c.Publish(token, "bob"))
	require.Equal(t, "bob", c.Load())
}
