package systems

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vega/engine/renderer/metadata"
)

// minimalBytecode emits a valid SPIR-V module with a single entry point
// and no bindings.
func minimalBytecode(executionModel uint32, bound uint32) []byte {
	words := []uint32{
		0x07230203, // magic
		0x00010000, // version 1.0
		0,          // generator
		bound,
		0, // schema
		// OpEntryPoint %model %1 "main"
		(5 << 16) | 15, executionModel, 1,
		uint32('m') | uint32('a')<<8 | uint32('i')<<16 | uint32('n')<<24, 0,
	}
	out := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

func writeBytecode(t *testing.T, dir, name string, code []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, code, 0o644))
	return path
}

func TestShaderLoadAndStage(t *testing.T) {
	ss, err := NewShaderSystem(ShaderSystemConfig{})
	require.NoError(t, err)
	defer ss.Shutdown()

	path := writeBytecode(t, t.TempDir(), "basic.frag.spv", minimalBytecode(4, 8))
	module, err := ss.Load("basic.frag", metadata.StageFragment, path)
	require.NoError(t, err)

	assert.Equal(t, metadata.StageFragment, module.Reflection.Stage)
	assert.Equal(t, "main", module.Reflection.EntryPoint)
	assert.NotEqual(t, module.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Same(t, module, ss.Get("basic.frag"))
}

func TestShaderStageMismatch(t *testing.T) {
	ss, err := NewShaderSystem(ShaderSystemConfig{})
	require.NoError(t, err)
	defer ss.Shutdown()

	path := writeBytecode(t, t.TempDir(), "basic.frag.spv", minimalBytecode(4, 8))
	_, err = ss.Load("basic", metadata.StageVertex, path)
	require.Error(t, err)
}

func TestShaderReflectionCachedByContent(t *testing.T) {
	ss, err := NewShaderSystem(ShaderSystemConfig{})
	require.NoError(t, err)
	defer ss.Shutdown()

	dir := t.TempDir()
	code := minimalBytecode(0, 8)
	a, err := ss.Load("a", metadata.StageVertex, writeBytecode(t, dir, "a.spv", code))
	require.NoError(t, err)
	b, err := ss.Load("b", metadata.StageVertex, writeBytecode(t, dir, "b.spv", code))
	require.NoError(t, err)

	// Identical bytecode reflects once.
	assert.Same(t, a.Reflection, b.Reflection)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestShaderReloadChangesIdentity(t *testing.T) {
	ss, err := NewShaderSystem(ShaderSystemConfig{})
	require.NoError(t, err)
	defer ss.Shutdown()

	path := writeBytecode(t, t.TempDir(), "s.spv", minimalBytecode(4, 8))
	before, err := ss.Load("s", metadata.StageFragment, path)
	require.NoError(t, err)

	var notified *ShaderModule
	ss.OnReload(func(m *ShaderModule) { notified = m })

	require.NoError(t, os.WriteFile(path, minimalBytecode(4, 16), 0o644))
	after, err := ss.Reload("s")
	require.NoError(t, err)

	assert.NotEqual(t, before.ID, after.ID)
	assert.Same(t, after, notified)
	assert.Same(t, after, ss.Get("s"))
}

func TestShaderReloadUnknown(t *testing.T) {
	ss, err := NewShaderSystem(ShaderSystemConfig{})
	require.NoError(t, err)
	defer ss.Shutdown()

	_, err = ss.Reload("never-loaded")
	require.Error(t, err)
}

func TestShaderWatcherRederivesOnWrite(t *testing.T) {
	ss, err := NewShaderSystem(ShaderSystemConfig{WatchForChanges: true})
	require.NoError(t, err)
	defer ss.Shutdown()

	path := writeBytecode(t, t.TempDir(), "w.spv", minimalBytecode(4, 8))
	before, err := ss.Load("w", metadata.StageFragment, path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, minimalBytecode(4, 32), 0o644))
	require.Eventually(t, func() bool {
		return ss.Get("w").ID != before.ID
	}, 2*time.Second, 10*time.Millisecond)
}
