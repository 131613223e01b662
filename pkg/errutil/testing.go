// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err)
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected an oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts the code oops reports for err. That is the
// innermost code in the chain.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code(), "error code of %v", err)
}

// AssertErrorDomain asserts the component err was raised in (oops.In).
func AssertErrorDomain(t *testing.T, err error, domain string) {
	t.Helper()
	assert.Equal(t, domain, requireOops(t, err).Domain(), "error domain of %v", err)
}

// AssertErrorContext asserts one key of the error context. Inner values
// take precedence over outer ones for the same key.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	errCtx := requireOops(t, err).Context()
	if assert.Contains(t, errCtx, key) {
		assert.Equal(t, value, errCtx[key], "context %q of %v", key, err)
	}
}
