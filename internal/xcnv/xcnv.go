// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcnv provides tools to convert scan data to/from LCIO
// to/from the s626 stream format.
package xcnv // import "github.com/go-daq/sensoray/internal/xcnv"
