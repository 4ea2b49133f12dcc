// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sensoray holds code to operate Sensoray data-acquisition boards.
package sensoray // import "github.com/go-daq/sensoray"

import (
	"runtime/debug"
)

// Version returns the version of sensoray and its checksum.
// The returned values are only valid in binaries built with module support.
func Version() (version, sum string) {
	b, ok := debug.ReadBuildInfo()
	if !ok {
		return "", ""
	}
	return versionOf(b)
}

func versionOf(b *debug.BuildInfo) (version, sum string) {
	if b == nil {
		return "", ""
	}
	const root = "github.com/go-daq/sensoray"
	for _, dep := range b.Deps {
		if dep.Path == root {
			return describe(dep)
		}
	}
	return "", ""
}

// describe renders the module version, folding in any replace directive.
func describe(m *debug.Module) (version, sum string) {
	r := m.Replace
	switch {
	case r == nil:
		return m.Version, m.Sum
	case r.Path != "" && r.Version != "":
		return r.Path + " " + r.Version, r.Sum
	case r.Version != "":
		return r.Version, r.Sum
	case r.Path != "":
		return r.Path, r.Sum
	}
	// empty replace stanza: the recorded version is no longer trustworthy
	return m.Version + "*", ""
}
