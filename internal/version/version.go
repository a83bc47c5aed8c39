// Copyright The Telescope Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes build-time identification.
package version

import (
	"fmt"
	"runtime"
)

// Version is replaced at link time via -ldflags.
var Version = "dev"

// GitHash is replaced at link time via -ldflags.
var GitHash = "unknown"

// String returns a one-line build description.
func String() string {
	return fmt.Sprintf("telescope %s (%s, %s, %s/%s)",
		Version, GitHash, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
