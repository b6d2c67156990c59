package metadata

import (
	"github.com/spaghettifunk/vega/engine/math"
)

// InvalidTextureIndex is stored in a material block slot when the material
// has no texture bound there; shaders test against it before sampling.
const InvalidTextureIndex = ^uint32(0)

/**
 * @brief The camera record shaders dereference through its device address.
 * Field order and padding match the std430 struct declared in shader source;
 * do not reorder.
 */
type CameraBlock struct {
	ViewProjection        math.Mat4
	InverseViewProjection math.Mat4
	View                  math.Mat4
	InverseView           math.Mat4
	Projection            math.Mat4
	InverseProjection     math.Mat4
	WorldPosition         math.Vec3
	pad0                  float32
}

// NewCameraBlock derives the full camera record from a view and projection
// matrix plus the camera world position.
func NewCameraBlock(view, projection math.Mat4, position math.Vec3) CameraBlock {
	inverseView := view.Inverse()
	inverseProjection := projection.Inverse()
	return CameraBlock{
		ViewProjection:        projection.Mul(view),
		InverseViewProjection: inverseView.Mul(inverseProjection),
		View:                  view,
		InverseView:           inverseView,
		Projection:            projection,
		InverseProjection:     inverseProjection,
		WorldPosition:         position,
	}
}

/**
 * @brief The material record shaders dereference through its device address.
 * Texture fields hold bindless table indices, not descriptor bindings.
 * Field order and padding match the shader-side struct; do not reorder.
 */
type MaterialBlock struct {
	BaseColor            math.Vec4
	Emissive             math.Vec4
	PerceptualRoughness  float32
	Metallic             float32
	Reflectance          float32
	FlipNormalMapY       uint32
	BaseColorTexture     uint32
	EmissiveTexture      uint32
	MetallicRoughnessTex uint32
	NormalMapTexture     uint32
	OcclusionTexture     uint32
	pad0                 uint32
	pad1                 uint32
	pad2                 uint32
}

// NewMaterialBlock returns a material record with no textures bound and
// neutral PBR factors.
func NewMaterialBlock() MaterialBlock {
	return MaterialBlock{
		BaseColor:            math.NewVec4(1, 1, 1, 1),
		PerceptualRoughness:  0.5,
		Reflectance:          0.5,
		BaseColorTexture:     InvalidTextureIndex,
		EmissiveTexture:      InvalidTextureIndex,
		MetallicRoughnessTex: InvalidTextureIndex,
		NormalMapTexture:     InvalidTextureIndex,
		OcclusionTexture:     InvalidTextureIndex,
	}
}
