// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package errutil_test

import (
	"testing"

	"github.com/samber/oops"

	"github.com/devmon/devmon/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("FACTORY_NOT_FOUND").Errorf("test error")
	errutil.AssertErrorCode(t, err, "FACTORY_NOT_FOUND")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("factory", "adapter").Errorf("test error")
	errutil.AssertErrorContext(t, err, "factory", "adapter")
}

func TestAssertErrorCode_InnermostCodeWins(t *testing.T) {
	inner := oops.Code("INVALID_ARGUMENT").Errorf("bad props")
	err := oops.Code("EXPORT_FAILED").Wrap(inner)
	errutil.AssertErrorCode(t, err, "INVALID_ARGUMENT")
}

func TestAssertErrorDomain_MatchingDomain(t *testing.T) {
	err := oops.In("monitor").Errorf("test error")
	errutil.AssertErrorDomain(t, err, "monitor")
}
