package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/andresmejia3/amdlink/internal/sensor"
	"github.com/andresmejia3/amdlink/internal/types"
	"github.com/andresmejia3/amdlink/internal/utils"
	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"
)

// sensorFlags are shared by every command that drives the sensor bridge.
type sensorFlags struct {
	Command     string
	Args        []string
	FaceSources int
}

// resolve fills unset values from the config.
func (f *sensorFlags) resolve() {
	if f.Command == "" {
		f.Command = Cfg.Sensor.Command
		if len(f.Args) == 0 {
			f.Args = Cfg.Sensor.Args
		}
	}
	if f.FaceSources == 0 {
		f.FaceSources = Cfg.Sensor.FaceSources
	}
}

// lockSensor takes the exclusive device lock so two bridges never fight over one sensor.
func lockSensor() (*flock.Flock, error) {
	lock := flock.New(Cfg.Sensor.LockFile)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock sensor: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("sensor is in use by another amdlink process (lock %s)", Cfg.Sensor.LockFile)
	}
	return lock, nil
}

// startBridge locks the sensor and spawns the bridge process.
func startBridge(f sensorFlags) (*sensor.Bridge, *flock.Flock) {
	lock, err := lockSensor()
	if err != nil {
		utils.Die("Sensor unavailable", err, nil)
	}
	fmt.Fprintf(os.Stderr, "🔌 Starting sensor bridge: %s\n", f.Command)
	bridge, err := sensor.NewBridge(f.Command, f.Args...)
	if err != nil {
		lock.Unlock()
		utils.Die("Sensor bridge startup failed", err, nil)
	}
	bridge.Logger = Logger
	return bridge, lock
}

// offlineChannel is a channel that is never open. Frames are classified and bound but never sent.
type offlineChannel struct{}

func (offlineChannel) IsOpen() bool       { return false }
func (offlineChannel) Send([]byte) error { return nil }

// progressHandler advances a progress bar once per frame.
type progressHandler struct {
	bar *progressbar.ProgressBar
}

func (p progressHandler) HandleBodyFrame(*types.BodyFrame) { p.bar.Add(1) }
func (p progressHandler) HandleFaceFrame(*types.FaceFrame) { p.bar.Add(1) }

// waitOpen blocks until opened is closed, ctx ends, or timeout passes.
func waitOpen(ctx context.Context, opened <-chan struct{}, timeout time.Duration) bool {
	select {
	case <-opened:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
		return false
	}
}
