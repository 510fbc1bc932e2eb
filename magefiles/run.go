//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and runs the testbed. FRAMES limits the number of frames.
func (Run) Engine() error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Println("Run engine...")
	args := []string{"run", "main.go"}
	if frames := os.Getenv("FRAMES"); frames != "" {
		args = append(args, "-frames", frames)
	}
	if _, err := executeCmd("go", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs the testbed on the in-memory backend for a fixed number of frames.
func (Run) Headless() error {
	fmt.Println("Run engine headless...")
	if _, err := executeCmd("go", withArgs("run", "main.go", "-headless", "-frames", "600"), withStream()); err != nil {
		return err
	}
	return nil
}
