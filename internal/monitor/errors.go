// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package monitor

import (
	"errors"

	"github.com/devmon/devmon/internal/spa"
)

// Error codes attached to monitor errors.
//
// Load failures carry the codes of spa.Load.
const (
	CodePluginLoadFailed         = spa.CodePluginLoadFailed
	CodeInterfaceUnavailable     = spa.CodeInterfaceUnavailable
	CodeExportFailed             = "EXPORT_FAILED"
	CodeFactoryNotFound          = "FACTORY_NOT_FOUND"
	CodeLocalInstantiationFailed = "LOCAL_INSTANTIATION_FAILED"
	CodeRemoteConstructionFailed = "REMOTE_CONSTRUCTION_FAILED"
	CodeNotFound                 = "NOT_FOUND"
	CodeMonitorStartFailed       = "MONITOR_START_FAILED"
	CodeBackendProtocol          = "BACKEND_PROTOCOL"
	CodeListenFailed             = "LISTEN_FAILED"
)

// detach hides the oops code and context of a wrapped cause. oops reports
// the deepest code in a chain, so a coded cause would replace the monitor
// code. errors.Is still matches the cause.
func detach(err error) error {
	if err == nil {
		return nil
	}
	return &detachedError{cause: err}
}

type detachedError struct {
	cause error
}

func (e *detachedError) Error() string { return e.cause.Error() }

func (e *detachedError) Is(target error) bool { return errors.Is(e.cause, target) }
