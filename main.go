/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/sanity/engine"
	"github.com/spaghettifunk/sanity/engine/core"
	"github.com/spaghettifunk/sanity/testbed"
)

func main() {
	config := &engine.ApplicationConfig{Name: "Sanity Testbed"}
	flag.StringVar(&config.SettingsPath, "config", "", "TOML settings file")
	flag.Uint64Var(&config.MaxFrames, "frames", 0, "frames to draw before exiting, 0 runs until interrupted")
	flag.BoolVar(&config.Headless, "headless", false, "render on the in-memory backend")
	cubes := flag.Int("cubes", 256, "number of cubes drawn by the testbed")
	flag.Parse()

	tb, err := testbed.NewTestGame(config, *cubes)
	if err != nil {
		core.LogFatal("%s", err)
	}

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := e.Initialize(); err != nil {
		_ = e.Shutdown()
		core.LogFatal("%s", err)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a first signal asks the loop to stop, a second one also aborts a blocked frame
	go func() {
		<-sigCh
		e.Quit()
		<-sigCh
		cancel()
	}()

	runErr := e.Run(ctx)
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}
