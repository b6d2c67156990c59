package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

func cameraRegions(t *testing.T, count int) []*memory.Region {
	t.Helper()
	regions := make([]*memory.Region, count)
	for i := range regions {
		region, err := memory.NewRegion(uint32(i), metadata.DeviceAddress(0x10000*(i+1)), 1024, make([]byte, 1024))
		require.NoError(t, err)
		regions[i] = region
	}
	return regions
}

func TestCameraPerFrameAddressesDistinctAndStable(t *testing.T) {
	cs, err := NewCameraSystem(CameraSystemConfig{FramesInFlight: 3}, cameraRegions(t, 3))
	require.NoError(t, err)

	view := math.NewMat4LookAt(math.NewVec3(0, 2, 5), math.NewVec3(0, 0, 0), math.NewVec3(0, 1, 0))
	projection := math.NewMat4Perspective(1.2, 16.0/9.0, 0.1, 100.0)

	addresses := map[metadata.DeviceAddress]bool{}
	for frame := uint32(0); frame < 3; frame++ {
		addr, err := cs.Update(frame, view, projection, math.NewVec3(0, 2, 5))
		require.NoError(t, err)
		assert.False(t, addresses[addr], "frame %d shares an address", frame)
		addresses[addr] = true

		again, err := cs.Address(frame)
		require.NoError(t, err)
		assert.Equal(t, addr, again)
	}
}

func TestCameraFrameIndexOutOfRange(t *testing.T) {
	cs, err := NewCameraSystem(CameraSystemConfig{FramesInFlight: 2}, cameraRegions(t, 2))
	require.NoError(t, err)

	_, err = cs.Update(2, math.NewMat4Identity(), math.NewMat4Identity(), math.NewVec3(0, 0, 0))
	require.Error(t, err)
}

func TestCameraRegionCountMismatch(t *testing.T) {
	_, err := NewCameraSystem(CameraSystemConfig{FramesInFlight: 3}, cameraRegions(t, 2))
	require.Error(t, err)
}
