package systems

import (
	"fmt"

	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

type CameraSystemConfig struct {
	/** @brief One camera block lives per in-flight frame. */
	FramesInFlight uint32
}

/**
 * @brief Owns the per-frame camera blocks. Each in-flight frame writes its
 * own block so the CPU never overwrites a record the GPU is still reading;
 * the block address for frame N is stable for the lifetime of the system.
 */
type CameraSystem struct {
	config CameraSystemConfig
	frames []*memory.Block[metadata.CameraBlock]
}

// NewCameraSystem allocates one camera block per in-flight frame out of
// regions. Every region must be host-visible; camera data is rewritten
// each frame through the mapping.
func NewCameraSystem(config CameraSystemConfig, regions []*memory.Region) (*CameraSystem, error) {
	if config.FramesInFlight == 0 {
		return nil, fmt.Errorf("camera system requires at least one frame in flight")
	}
	if uint32(len(regions)) != config.FramesInFlight {
		return nil, fmt.Errorf("camera system needs %d regions, got %d", config.FramesInFlight, len(regions))
	}

	cs := &CameraSystem{config: config}
	for _, region := range regions {
		block, err := memory.AllocateBlock(region, metadata.NewCameraBlock(
			math.NewMat4Identity(), math.NewMat4Identity(), math.NewVec3(0, 0, 0)))
		if err != nil {
			return nil, fmt.Errorf("allocating camera block: %w", err)
		}
		cs.frames = append(cs.frames, block)
	}
	return cs, nil
}

// Update writes the frame's camera record and returns its device address.
// Command buffers recorded after Update returns see the new values.
func (cs *CameraSystem) Update(frameIndex uint32, view, projection math.Mat4, position math.Vec3) (metadata.DeviceAddress, error) {
	if frameIndex >= cs.config.FramesInFlight {
		return 0, fmt.Errorf("frame index %d out of range, %d frames in flight", frameIndex, cs.config.FramesInFlight)
	}
	block := cs.frames[frameIndex]
	if err := block.Update(metadata.NewCameraBlock(view, projection, position)); err != nil {
		return 0, err
	}
	return block.Address()
}

// Address returns the device address of the frame's camera block.
func (cs *CameraSystem) Address(frameIndex uint32) (metadata.DeviceAddress, error) {
	if frameIndex >= cs.config.FramesInFlight {
		return 0, fmt.Errorf("frame index %d out of range, %d frames in flight", frameIndex, cs.config.FramesInFlight)
	}
	return cs.frames[frameIndex].Address()
}

func (cs *CameraSystem) Shutdown() error {
	cs.frames = nil
	return nil
}
