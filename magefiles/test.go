//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs every unit test with the race detector. Nothing here needs a GPU.
func (Test) All() error {
	if _, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withEnv("CGO_ENABLED=1"), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the renderer tests only: the RHI, both backends and the Renderer.
func (Test) Renderer() error {
	if _, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withDir("engine/renderer"), withEnv("CGO_ENABLED=1"), withStream()); err != nil {
		return err
	}
	return nil
}
