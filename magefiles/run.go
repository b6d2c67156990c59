//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles shaders first, then runs the example application.
func (Run) Example() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Run example...")
	if _, err := executeCmd("go", withArgs("run", "main.go"), withStream()); err != nil {
		return err
	}
	return nil
}
