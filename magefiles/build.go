//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

var shaderExtensions = map[string]bool{
	".vert": true,
	".frag": true,
	".comp": true,
}

// Compiles every GLSL shader under shaders/ to SPIR-V. Targets Vulkan
// 1.2 so buffer references and descriptor indexing are available.
func (Build) Shaders() error {
	entries, err := os.ReadDir("shaders")
	if err != nil {
		return fmt.Errorf("reading shaders directory: %w", err)
	}
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if !shaderExtensions[ext] {
			continue
		}
		source := filepath.Join("shaders", entry.Name())
		output := strings.TrimSuffix(source, ext) + strings.ReplaceAll(ext, ".", "_") + ".spv"
		if _, err := executeCmd("glslc",
			withArgs("--target-env=vulkan1.2", source, "-o", output),
			withStream()); err != nil {
			return err
		}
	}
	return nil
}

// Builds the example binary.
func (Build) Binary() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "vega", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the full test suite.
func (Build) Test() error {
	if _, err := executeCmd("go", withArgs("test", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}
