package serial

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"device-scanner/internal/model"
)

func TestPortsConvertsDetails(t *testing.T) {
	e := NewEnumeratorWithList(func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "8036", SerialNumber: "A1", Product: "Leonardo"},
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "xyz", PID: "0001"},
			nil,
			{Name: ""},
		}, nil
	}, zap.NewNop())

	ports, err := e.Ports()
	require.NoError(t, err)
	require.Len(t, ports, 3)

	assert.Equal(t, model.ObservedPort{
		PortID: "/dev/ttyACM0", VendorID: 0x2341, ProductID: 0x8036,
		IsUSB: true, SerialNumber: "A1", Product: "Leonardo",
	}, ports[0])
	assert.Equal(t, "/dev/ttyS0", ports[1].PortID)
	assert.Zero(t, ports[1].VendorID)
	assert.Equal(t, "/dev/ttyUSB0", ports[2].PortID)
	assert.Zero(t, ports[2].VendorID, "bad vid leaves ids unset")
}

func TestPortsWrapsListError(t *testing.T) {
	boom := errors.New("permission denied")
	e := NewEnumeratorWithList(func() ([]*enumerator.PortDetails, error) {
		return nil, boom
	}, zap.NewNop())

	_, err := e.Ports()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}
