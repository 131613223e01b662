// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package monitor

// Object kinds reported to a Recorder.
const (
	KindDevice = "device"
	KindNode   = "node"
)

// Recorder receives lifecycle counts. Implementations must be safe for use
// from the control loop and from metric scrapes.
type Recorder interface {
	MonitorStarted(monitor string, ok bool)
	ObjectAdded(monitor, kind string)
	ObjectRemoved(monitor, kind string)
	ObjectFailed(monitor, kind, code string)
}

type nopRecorder struct{}

func (nopRecorder) MonitorStarted(string, bool) {}
func (nopRecorder) ObjectAdded(string, string) {}
func (nopRecorder) ObjectRemoved(string, string) {}
func (nopRecorder) ObjectFailed(string, string, string) {}
