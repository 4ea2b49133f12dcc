// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

type config struct {
	ctl struct {
		addr string // control server to report to. empty: stand-alone.
	}
	daq struct {
		addr string // scan sink address. empty: no streaming.
		scan func(Scan)
	}
	dev struct {
		uio  string // UIO node of the PCI function
		dma  string // u-dma-buf node backing the DMA window
		base uint32 // physical base of the DMA window. 0: read sysfs.
	}
	run struct {
		dir string // directory for run files. empty: no run file.
	}
}

// Option configures a Device.
type Option func(*config)

// WithCtlAddr sets the address of the run-control server the device
// reports its state to.
func WithCtlAddr(addr string) Option {
	return func(cfg *config) {
		cfg.ctl.addr = addr
	}
}

// WithDAQAddr sets the address scans are streamed to.
func WithDAQAddr(addr string) Option {
	return func(cfg *config) {
		cfg.daq.addr = addr
	}
}

// WithDevUIO selects the UIO device node bound to the board.
func WithDevUIO(dev string) Option {
	return func(cfg *config) {
		cfg.dev.uio = dev
	}
}

// WithDevDMA selects the u-dma-buf device node backing the DMA window.
func WithDevDMA(dev string) Option {
	return func(cfg *config) {
		cfg.dev.dma = dev
	}
}

// WithDMABase overrides the physical base address of the DMA window.
// The default is to read it from the u-dma-buf sysfs entry.
func WithDMABase(base uint32) Option {
	return func(cfg *config) {
		cfg.dev.base = base
	}
}

// WithRunDir sets the directory scan frames are archived to.
func WithRunDir(dir string) Option {
	return func(cfg *config) {
		cfg.run.dir = dir
	}
}

// WithScanHandler registers f to be called with each completed scan.
// The handler runs on the interrupt goroutine: it should return
// promptly and must not call back into the device.
func WithScanHandler(f func(Scan)) Option {
	return func(cfg *config) {
		cfg.daq.scan = f
	}
}
