package metadata

/** @brief The triangle face cull mode of a pipeline. */
type FaceCullMode uint32

const (
	/** @brief No faces are culled. */
	FaceCullModeNone FaceCullMode = 0x0
	/** @brief Only front faces are culled. */
	FaceCullModeFront FaceCullMode = 0x1
	/** @brief Only back faces are culled. */
	FaceCullModeBack FaceCullMode = 0x2
	/** @brief Both front and back faces are culled. */
	FaceCullModeFrontAndBack FaceCullMode = 0x3
)

/**
 * @brief The fixed-function state baked into a pipeline. Part of the
 * pipeline cache key: two draws with the same shaders and layout but
 * different state descriptors use different pipelines.
 */
type RenderState struct {
	CullMode    FaceCullMode
	Wireframe   bool
	DepthTest   bool
	DepthWrite  bool
	Transparent bool
}

// Packed returns the state as a single word for hashing.
func (s RenderState) Packed() uint32 {
	packed := uint32(s.CullMode)
	if s.Wireframe {
		packed |= 1 << 2
	}
	if s.DepthTest {
		packed |= 1 << 3
	}
	if s.DepthWrite {
		packed |= 1 << 4
	}
	if s.Transparent {
		packed |= 1 << 5
	}
	return packed
}

// UnpackRenderState is the inverse of Packed.
func UnpackRenderState(packed uint32) RenderState {
	return RenderState{
		CullMode:    FaceCullMode(packed & 0x3),
		Wireframe:   packed&(1<<2) != 0,
		DepthTest:   packed&(1<<3) != 0,
		DepthWrite:  packed&(1<<4) != 0,
		Transparent: packed&(1<<5) != 0,
	}
}
