package controller

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type bufferConn struct {
	bytes.Buffer
	closed int
}

func (c *bufferConn) PortID() string { return "COM7" }

func (c *bufferConn) Close() error {
	c.closed++
	return nil
}

func TestGenericLifecycle(t *testing.T) {
	conn := &bufferConn{}
	g := NewGeneric("DRT", "Detection Response Task", "Red Scientific", conn, zap.NewNop())

	assert.Equal(t, "DRT", g.DeviceType())
	assert.Equal(t, "COM7", g.PortID())
	info := g.Info()
	assert.True(t, info.Connected)
	assert.False(t, info.CreatedAt.IsZero())
	assert.True(t, info.ClosedAt.IsZero())

	require.NoError(t, g.Send("get_config"))
	assert.Equal(t, "get_config\n", conn.String())

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.Equal(t, 1, conn.closed)
	assert.False(t, g.Info().Connected)
	assert.False(t, g.Info().ClosedAt.IsZero())

	assert.ErrorIs(t, g.Send("x"), ErrClosed)
}
