package metadata

/**
 * @brief An opaque 64-bit device address a shader uses to address a GPU
 * buffer directly. This is never a host pointer and must never be
 * dereferenced on the CPU side.
 */
type DeviceAddress uint64
