package systems

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer/memory"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

/**
 * @brief Host-side description of a material: PBR factors plus the texture
 * views to register into the bindless table. A nil texture leaves the
 * corresponding slot at InvalidTextureIndex.
 */
type MaterialConfig struct {
	Name                string
	BaseColor           math.Vec4
	Emissive            math.Vec4
	PerceptualRoughness float32
	Metallic            float32
	Reflectance         float32
	FlipNormalMapY      bool

	BaseColorTexture         any
	EmissiveTexture          any
	MetallicRoughnessTexture any
	NormalMapTexture         any
	OcclusionTexture         any
}

/**
 * @brief A registered material: its resource block address and the
 * bindless slots it owns. Draw calls reference the material purely by the
 * block's device address.
 */
type Material struct {
	ID      uuid.UUID
	Name    string
	Address metadata.DeviceAddress

	block *memory.Block[metadata.MaterialBlock]
	slots []BindlessSlot
}

/**
 * @brief Registers material records into a resource block region and their
 * textures into the bindless table. A reload allocates a fresh block and
 * re-registers textures before releasing the old slots, so in-flight
 * frames keep reading a valid record at the old address until their epoch
 * retires.
 */
type MaterialSystem struct {
	bindless BindlessRegistry
	region   *memory.Region

	mu        sync.Mutex
	materials map[string]*Material
}

func NewMaterialSystem(bindless BindlessRegistry, region *memory.Region) (*MaterialSystem, error) {
	if bindless == nil {
		return nil, fmt.Errorf("material system requires the bindless system")
	}
	if region == nil {
		return nil, fmt.Errorf("material system requires a block region")
	}
	return &MaterialSystem{
		bindless:  bindless,
		region:    region,
		materials: make(map[string]*Material),
	}, nil
}

// Acquire registers the material and returns it. Acquiring a name twice
// returns the already-registered material unchanged.
func (ms *MaterialSystem) Acquire(config MaterialConfig) (*Material, error) {
	ms.mu.Lock()
	if existing, ok := ms.materials[config.Name]; ok {
		ms.mu.Unlock()
		return existing, nil
	}
	ms.mu.Unlock()

	material, err := ms.build(config)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	if existing, ok := ms.materials[config.Name]; ok {
		// Another caller registered the name while we were building.
		// Keep theirs and give the duplicate's slots back.
		ms.mu.Unlock()
		ms.releaseSlots(material.slots)
		return existing, nil
	}
	ms.materials[config.Name] = material
	ms.mu.Unlock()
	core.LogDebug("Material %s acquired at address %#x", config.Name, material.Address)
	return material, nil
}

func (ms *MaterialSystem) build(config MaterialConfig) (*Material, error) {
	record := metadata.NewMaterialBlock()
	record.BaseColor = config.BaseColor
	record.Emissive = config.Emissive
	record.PerceptualRoughness = config.PerceptualRoughness
	record.Metallic = config.Metallic
	record.Reflectance = config.Reflectance
	if config.FlipNormalMapY {
		record.FlipNormalMapY = 1
	}

	var slots []BindlessSlot
	register := func(view any, target *uint32) error {
		if view == nil {
			return nil
		}
		slot, err := ms.bindless.RegisterTexture(view)
		if err != nil {
			return err
		}
		slots = append(slots, slot)
		*target = slot.Index
		return nil
	}

	for _, texture := range []struct {
		view   any
		target *uint32
	}{
		{config.BaseColorTexture, &record.BaseColorTexture},
		{config.EmissiveTexture, &record.EmissiveTexture},
		{config.MetallicRoughnessTexture, &record.MetallicRoughnessTex},
		{config.NormalMapTexture, &record.NormalMapTexture},
		{config.OcclusionTexture, &record.OcclusionTexture},
	} {
		if err := register(texture.view, texture.target); err != nil {
			ms.releaseSlots(slots)
			return nil, fmt.Errorf("material %s: %w", config.Name, err)
		}
	}

	block, err := memory.AllocateBlock(ms.region, record)
	if err != nil {
		ms.releaseSlots(slots)
		return nil, fmt.Errorf("material %s: %w", config.Name, err)
	}
	address, err := block.Address()
	if err != nil {
		ms.releaseSlots(slots)
		return nil, err
	}

	return &Material{
		ID:      uuid.New(),
		Name:    config.Name,
		Address: address,
		block:   block,
		slots:   slots,
	}, nil
}

// Get returns the material registered under name, or nil.
func (ms *MaterialSystem) Get(name string) *Material {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.materials[name]
}

// Reload replaces a material after its asset changed: a new block and new
// bindless slots come first, old slots are released under the usual epoch
// deferral afterwards. The material's address changes; draws recorded
// after Reload pick up the new one.
func (ms *MaterialSystem) Reload(config MaterialConfig) (*Material, error) {
	ms.mu.Lock()
	old, ok := ms.materials[config.Name]
	ms.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("material %s is not registered: %w", config.Name, core.ErrInvalidHandle)
	}

	material, err := ms.build(config)
	if err != nil {
		return nil, err
	}

	ms.mu.Lock()
	ms.materials[config.Name] = material
	ms.mu.Unlock()

	ms.releaseSlots(old.slots)
	core.LogInfo("Material %s reloaded, address %#x -> %#x", config.Name, old.Address, material.Address)
	return material, nil
}

// Release forgets a material and epoch-defers its bindless slots. The
// block bytes stay valid in the region until the region itself is freed.
func (ms *MaterialSystem) Release(name string) error {
	ms.mu.Lock()
	material, ok := ms.materials[name]
	if ok {
		delete(ms.materials, name)
	}
	ms.mu.Unlock()
	if !ok {
		return fmt.Errorf("material %s is not registered: %w", name, core.ErrInvalidHandle)
	}
	ms.releaseSlots(material.slots)
	return nil
}

func (ms *MaterialSystem) releaseSlots(slots []BindlessSlot) {
	for _, slot := range slots {
		if err := ms.bindless.Release(slot); err != nil {
			core.LogWarn("releasing bindless slot %d: %v", slot.Index, err)
		}
	}
}

func (ms *MaterialSystem) Shutdown() error {
	ms.mu.Lock()
	materials := ms.materials
	ms.materials = make(map[string]*Material)
	ms.mu.Unlock()

	for _, material := range materials {
		ms.releaseSlots(material.slots)
	}
	return nil
}
