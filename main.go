/*
Headless example application exercising the rendering driver: loads the
config, brings the device up, and runs a frame loop until interrupted.
*/
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/vega/engine/core"
	"github.com/spaghettifunk/vega/engine/math"
	"github.com/spaghettifunk/vega/engine/renderer"
)

func main() {
	config, err := renderer.LoadRendererConfig("renderer.toml")
	if err != nil {
		core.LogFatal("invalid renderer config: %v", err)
	}

	r, err := renderer.New(config)
	if err != nil {
		core.LogFatal("renderer initialization failed: %v", err)
	}

	metrics := core.NewFrameMetrics()

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	clock := core.NewClock()
	clock.Start()
	var lastTime time.Duration

	// 45 degree vertical field of view.
	projection := math.NewMat4Perspective(0.7853982, 16.0/9.0, 0.1, 1000.0)
	view := math.NewMat4LookAt(math.NewVec3(0, 2, 5), math.NewVec3(0, 0, 0), math.NewVec3(0, 1, 0))

loop:
	for {
		select {
		case <-sigCh:
			break loop
		default:
		}

		clock.Update()
		currentTime := clock.Elapsed()
		// Cap the delta so debugger pauses do not register as one
		// enormous frame.
		delta := math.Clamp((currentTime - lastTime).Seconds(), 0, 0.1)
		lastTime = currentTime

		if err := r.BeginFrame(); err != nil {
			core.LogError("frame begin failed: %v", err)
			break
		}
		if _, err := r.UpdateCamera(view, projection, math.NewVec3(0, 2, 5)); err != nil {
			core.LogError("camera update failed: %v", err)
			break
		}
		if err := r.EndFrame(); err != nil {
			core.LogError("frame end failed: %v", err)
			break
		}
		metrics.Record(delta)
	}

	core.LogInfo("shutting down, average frame time %.2fms", metrics.AverageFrameMs())
	if err := r.Shutdown(); err != nil {
		core.LogError("renderer shutdown failed: %v", err)
	}
}
