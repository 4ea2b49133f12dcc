// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensoray

import (
	"runtime/debug"
	"testing"
)

func TestVersionOf(t *testing.T) {
	const root = "github.com/go-daq/sensoray"
	for _, tc := range []struct {
		name    string
		b       *debug.BuildInfo
		version string
		sum     string
	}{
		{
			name: "nil-build-info",
		},
		{
			name: "no-deps",
			b:    &debug.BuildInfo{},
		},
		{
			name: "not-a-dep",
			b: &debug.BuildInfo{
				Deps: []*debug.Module{
					{Path: "golang.org/x/sys", Version: "v0.7.0", Sum: "h1:xxx"},
				},
			},
		},
		{
			name: "dep",
			b: &debug.BuildInfo{
				Deps: []*debug.Module{
					{Path: "golang.org/x/sys", Version: "v0.7.0", Sum: "h1:xxx"},
					{Path: root, Version: "v0.1.0", Sum: "h1:yyy"},
				},
			},
			version: "v0.1.0",
			sum:     "h1:yyy",
		},
		{
			name: "replaced-path-version",
			b: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0", Sum: "h1:yyy",
						Replace: &debug.Module{
							Path: "example.com/sensoray", Version: "v0.2.0", Sum: "h1:zzz",
						},
					},
				},
			},
			version: "example.com/sensoray v0.2.0",
			sum:     "h1:zzz",
		},
		{
			name: "replaced-version",
			b: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0",
						Replace: &debug.Module{Version: "v0.2.0", Sum: "h1:zzz"},
					},
				},
			},
			version: "v0.2.0",
			sum:     "h1:zzz",
		},
		{
			name: "replaced-path",
			b: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0",
						Replace: &debug.Module{Path: "../sensoray"},
					},
				},
			},
			version: "../sensoray",
		},
		{
			name: "replaced-empty",
			b: &debug.BuildInfo{
				Deps: []*debug.Module{
					{
						Path: root, Version: "v0.1.0", Sum: "h1:yyy",
						Replace: &debug.Module{},
					},
				},
			},
			version: "v0.1.0*",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			version, sum := versionOf(tc.b)
			if got, want := version, tc.version; got != want {
				t.Fatalf("invalid version: got=%q, want=%q", got, want)
			}
			if got, want := sum, tc.sum; got != want {
				t.Fatalf("invalid sum: got=%q, want=%q", got, want)
			}
		})
	}
}
