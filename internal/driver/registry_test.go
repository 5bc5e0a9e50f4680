package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"device-scanner/internal/config"
	"device-scanner/internal/model"
)

type nopConn struct{ closed bool }

func (c *nopConn) Read(p []byte) (int, error)  { return 0, nil }
func (c *nopConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *nopConn) Close() error                { c.closed = true; return nil }
func (c *nopConn) PortID() string              { return "/dev/ttyACM0" }

func newDefaultRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop())
	require.NoError(t, RegisterDefaultModules(r, zap.NewNop()))
	return r
}

func TestDefaultModules(t *testing.T) {
	r := newDefaultRegistry(t)

	assert.Equal(t, []model.DeviceProfile{
		{DeviceType: "DRT", VendorID: 0x2341, ProductID: 0x8036},
		{DeviceType: "VOG", VendorID: 0x16C0, ProductID: 0x0483},
	}, r.Profiles())
	assert.Equal(t, 2, r.Len())
}

func TestRegisterRejectsDuplicatesAndInvalidProfiles(t *testing.T) {
	r := newDefaultRegistry(t)

	err := r.Register(NewGenericModule(model.DeviceProfile{DeviceType: "DRT", VendorID: 1, ProductID: 2}, "", ""))
	assert.ErrorIs(t, err, ErrDuplicateDeviceType)

	err = r.Register(NewGenericModule(model.DeviceProfile{DeviceType: "EMPTY"}, "", ""))
	assert.Error(t, err)
	assert.Equal(t, 2, r.Len())
}

func TestMatchFirstRegisteredWins(t *testing.T) {
	r := newDefaultRegistry(t)
	require.NoError(t, r.Register(NewGenericModule(model.DeviceProfile{DeviceType: "DRT_CLONE", VendorID: 0x2341, ProductID: 0x8036}, "", "")))

	m, ok := r.Match(model.ObservedPort{PortID: "COM3", VendorID: 0x2341, ProductID: 0x8036})
	require.True(t, ok)
	assert.Equal(t, "DRT", m.Profile().DeviceType)

	_, ok = r.Match(model.ObservedPort{PortID: "COM4", VendorID: 0x2341, ProductID: 0x0043})
	assert.False(t, ok)
}

func TestNewController(t *testing.T) {
	r := newDefaultRegistry(t)
	conn := &nopConn{}

	ctrl, err := r.NewController("VOG", conn)
	require.NoError(t, err)
	assert.Equal(t, "VOG", ctrl.DeviceType())
	assert.Equal(t, "/dev/ttyACM0", ctrl.PortID())
	assert.Equal(t, "Red Scientific", ctrl.Info().Manufacturer)

	require.NoError(t, ctrl.Close())
	assert.True(t, conn.closed)

	_, err = r.NewController("NOPE", conn)
	assert.ErrorIs(t, err, ErrUnknownDeviceType)
}

func TestRegisterConfiguredModules(t *testing.T) {
	r := newDefaultRegistry(t)

	err := RegisterConfiguredModules(r, []config.ProfileConfig{
		{DeviceType: "WIND", VendorID: "0x239A", ProductID: "800B"},
	}, zap.NewNop())
	require.NoError(t, err)

	profiles := r.Profiles()
	require.Len(t, profiles, 3)
	assert.Equal(t, model.DeviceProfile{DeviceType: "WIND", VendorID: 0x239A, ProductID: 0x800B}, profiles[2])

	m, err := r.Module("WIND")
	require.NoError(t, err)
	ctrl, err := m.NewController(&nopConn{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "WIND", ctrl.DeviceType())
}

func TestRegisterConfiguredModulesErrors(t *testing.T) {
	r := newDefaultRegistry(t)

	err := RegisterConfiguredModules(r, []config.ProfileConfig{{DeviceType: "BAD", VendorID: "zz", ProductID: "1"}}, zap.NewNop())
	assert.Error(t, err)

	err = RegisterConfiguredModules(r, []config.ProfileConfig{{DeviceType: "VOG", VendorID: "1", ProductID: "1"}}, zap.NewNop())
	assert.ErrorIs(t, err, ErrDuplicateDeviceType)
}
