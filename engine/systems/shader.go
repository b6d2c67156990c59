package systems

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/renderer/metadata"
	"github.com/spaghettifunk/vega/engine/renderer/spirv"
)

/**
 * @brief One compiled shader module: the bytecode, its reflection, and a
 * unique identity. The identity changes on every reload so pipeline cache
 * keys built from it miss and pipelines are rebuilt against the
 * re-derived layout.
 */
type ShaderModule struct {
	ID         uuid.UUID
	Name       string
	Path       string
	Stage      metadata.StageFlag
	Code       []byte
	Reflection *spirv.Reflection
}

type ShaderSystemConfig struct {
	/** @brief Watch loaded bytecode files and re-derive layouts on change. */
	WatchForChanges bool
}

/**
 * @brief Registry of compiled shader modules. Loads bytecode blobs from
 * disk, runs reflection once per distinct bytecode (cached by content
 * hash), and optionally watches files to re-derive layouts on recompile.
 */
type ShaderSystem struct {
	config ShaderSystemConfig

	mu          sync.Mutex
	modules     map[string]*ShaderModule
	byPath      map[string]string // absolute path -> module name
	reflections map[uint64]*spirv.Reflection

	watcher  *fsnotify.Watcher
	done     chan struct{}
	onReload func(*ShaderModule)
}

func NewShaderSystem(config ShaderSystemConfig) (*ShaderSystem, error) {
	ss := &ShaderSystem{
		config:      config,
		modules:     make(map[string]*ShaderModule),
		byPath:      make(map[string]string),
		reflections: make(map[uint64]*spirv.Reflection),
	}
	if config.WatchForChanges {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("creating shader watcher: %w", err)
		}
		ss.watcher = watcher
		ss.done = make(chan struct{})
		go ss.watch()
	}
	return ss, nil
}

// OnReload installs a callback invoked after a watched module has been
// re-read and re-reflected. The renderer uses it to drop stale pipelines.
func (ss *ShaderSystem) OnReload(fn func(*ShaderModule)) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.onReload = fn
}

// Load reads a compiled bytecode blob and registers it under name. The
// declared stage must match what the bytecode's entry point declares.
func (ss *ShaderSystem) Load(name string, stage metadata.StageFlag, path string) (*ShaderModule, error) {
	module, err := ss.loadModule(name, stage, path)
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	ss.modules[name] = module
	ss.byPath[module.Path] = name
	ss.mu.Unlock()

	if ss.watcher != nil {
		if err := ss.watcher.Add(module.Path); err != nil {
			core.LogWarn("shader %s will not hot reload: %v", name, err)
		}
	}
	core.LogDebug("Shader %s loaded from %s (%d bindings)", name, path, len(module.Reflection.Bindings))
	return module, nil
}

func (ss *ShaderSystem) loadModule(name string, stage metadata.StageFlag, path string) (*ShaderModule, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	code, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading shader bytecode %s: %w", abs, err)
	}
	reflection, err := ss.reflect(code)
	if err != nil {
		return nil, fmt.Errorf("shader %s: %w", name, err)
	}
	if reflection.Stage != stage {
		return nil, fmt.Errorf("shader %s: bytecode declares stage %#x, loaded as %#x", name, uint32(reflection.Stage), uint32(stage))
	}
	return &ShaderModule{
		ID:         uuid.New(),
		Name:       name,
		Path:       abs,
		Stage:      stage,
		Code:       code,
		Reflection: reflection,
	}, nil
}

// reflect analyzes bytecode, memoized by content hash so identical blobs
// loaded under several names reflect once.
func (ss *ShaderSystem) reflect(code []byte) (*spirv.Reflection, error) {
	h := fnv.New64a()
	h.Write(code)
	hash := h.Sum64()

	ss.mu.Lock()
	cached, ok := ss.reflections[hash]
	ss.mu.Unlock()
	if ok {
		return cached, nil
	}

	reflection, err := spirv.Analyze(code)
	if err != nil {
		return nil, err
	}
	ss.mu.Lock()
	ss.reflections[hash] = reflection
	ss.mu.Unlock()
	return reflection, nil
}

// Get returns the module registered under name, or nil.
func (ss *ShaderSystem) Get(name string) *ShaderModule {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.modules[name]
}

// Reload re-reads a module's bytecode and re-derives its layout under a
// fresh identity. Layout re-derivation is all that is guaranteed here;
// in-flight frames keep using the pipelines built from the old identity.
func (ss *ShaderSystem) Reload(name string) (*ShaderModule, error) {
	ss.mu.Lock()
	old, ok := ss.modules[name]
	ss.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("shader %s is not loaded: %w", name, core.ErrInvalidHandle)
	}

	module, err := ss.loadModule(name, old.Stage, old.Path)
	if err != nil {
		return nil, err
	}

	ss.mu.Lock()
	ss.modules[name] = module
	onReload := ss.onReload
	ss.mu.Unlock()

	if onReload != nil {
		onReload(module)
	}
	core.LogInfo("Shader %s reloaded, layout re-derived", name)
	return module, nil
}

func (ss *ShaderSystem) watch() {
	for {
		select {
		case <-ss.done:
			return
		case event, ok := <-ss.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			ss.mu.Lock()
			name, tracked := ss.byPath[event.Name]
			ss.mu.Unlock()
			if !tracked {
				continue
			}
			if _, err := ss.Reload(name); err != nil {
				core.LogError("hot reload of shader %s failed: %v", name, err)
			}
		case err, ok := <-ss.watcher.Errors:
			if !ok {
				return
			}
			core.LogWarn("shader watcher: %v", err)
		}
	}
}

func (ss *ShaderSystem) Shutdown() error {
	if ss.watcher != nil {
		close(ss.done)
		if err := ss.watcher.Close(); err != nil {
			return err
		}
	}
	ss.mu.Lock()
	ss.modules = make(map[string]*ShaderModule)
	ss.byPath = make(map[string]string)
	ss.reflections = make(map[uint64]*spirv.Reflection)
	ss.mu.Unlock()
	return nil
}
