package experiment

import (
	"fmt"
	"sync/atomic"

	"github.com/dronesar/milosar/panel"
)

// GPSMode is the requested mode of the GPS logger.
type GPSMode int32

const (
	GPSIdle     GPSMode = iota // logger waits
	GPSActive                  // logger records positions
	GPSShutdown                // logger writes its file to the experiment directory and exits
)

func (m GPSMode) String() string {
	switch m {
	case GPSIdle:
		return "idle"
	case GPSActive:
		return "active"
	case GPSShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("gps(%d)", int32(m))
}

// Requests are the states the sequencer asks of the workers around it.
// The sequencer is their only writer; workers poll them.
type Requests struct {
	PowerLED   panel.Request
	ArmedLED   panel.Request
	CaptureLED panel.Request
	gps        atomic.Int32
	gpsDir     atomic.Pointer[string]
}

// GPS returns the requested GPS logger mode.
func (r *Requests) GPS() GPSMode {
	return GPSMode(r.gps.Load())
}

// GPSDir returns the directory the GPS logger should write to.
func (r *Requests) GPSDir() string {
	if p := r.gpsDir.Load(); p != nil {
		return *p
	}
	return ""
}

func (r *Requests) setGPS(m GPSMode, dir string) {
	r.gpsDir.Store(&dir)
	r.gps.Store(int32(m))
}
