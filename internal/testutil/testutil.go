// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// GetAvailableLocalAddress finds an available local port and returns an
// endpoint describing it. The port is available for opening when this
// function returns provided that there is no race by some other code to grab
// the same port immediately.
func GetAvailableLocalAddress(tb testing.TB) string {
	ln, err := net.Listen("tcp", "localhost:0")
	require.NoError(tb, err, "Failed to get a free local port")
	// There is a possible race if something else takes this same port before
	// the test uses it, however, that is unlikely in practice.
	defer func() {
		require.NoError(tb, ln.Close())
	}()
	return ln.Addr().String()
}
