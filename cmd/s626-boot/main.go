// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-boot (re)starts the s626 DAQ service stack.
//
// It kills stale instances, then launches each service with its own
// log file and supervises the lot: the first service to fail, or an
// interrupt, brings the whole stack down.
package main // import "github.com/go-daq/sensoray/cmd/s626-boot"

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sbinet/pmon"
	"golang.org/x/sync/errgroup"
)

var services = []string{"s626-srv", "s626-svc", "s626-ctl"}

func main() {
	var (
		logdir = flag.String("logdir", defaultLogDir(), "directory for service log files")
		doMon  = flag.Bool("pmon", false, "record resource usage of each service")
		freq   = flag.Duration("freq", 1*time.Second, "resource sampling period")
	)

	flag.Parse()

	log.SetPrefix("s626-boot: ")
	log.SetFlags(0)

	err := run(services, *logdir, *doMon, *freq)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func defaultLogDir() string {
	if dir := os.Getenv("S626LOGDIR"); dir != "" {
		return dir
	}
	return "/var/log/s626"
}

func run(services []string, logdir string, doMon bool, freq time.Duration) error {
	reap(services)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	kill := make(chan int)
	go func() {
		<-stop
		close(kill)
	}()

	var grp errgroup.Group
	for _, name := range services {
		p := &proc{name: name, logdir: logdir, mon: doMon, freq: freq}
		grp.Go(func() error { return p.run(kill) })
	}

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not boot DAQ: %w", err)
	}
	return nil
}

// reap kills stale service instances from a previous boot.
func reap(services []string) {
	for _, name := range services {
		kill := exec.Command("killall", name)
		kill.Stdout = os.Stdout
		kill.Stderr = os.Stderr
		err := kill.Run()
		if err != nil {
			log.Printf("could not kill %q: %+v", name, err)
		}
	}
}

type proc struct {
	name   string
	logdir string
	mon    bool
	freq   time.Duration
}

// run starts the service and waits for it to exit or for the kill
// channel to close.
func (p *proc) run(kill chan int) error {
	out, err := os.Create(filepath.Join(p.logdir, p.name+".log"))
	if err != nil {
		return fmt.Errorf("could not create log file for %q: %w", p.name, err)
	}
	defer out.Close()

	cmd := exec.Command(p.name)
	cmd.Stdout = out
	cmd.Stderr = out

	log.Printf("starting %q...", p.name)
	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("could not start %q: %w", p.name, err)
	}

	if p.mon {
		stop, err := p.monitor(cmd.Process.Pid)
		if err != nil {
			return err
		}
		defer stop()
	}

	done := make(chan error)
	go func() { done <- cmd.Wait() }()

	select {
	case <-kill:
		err = cmd.Process.Kill()
		if err != nil {
			return fmt.Errorf("could not kill %q: %+v", p.name, err)
		}
	case err = <-done:
		if err != nil {
			return fmt.Errorf("could not run %q: %w", p.name, err)
		}
	}
	return nil
}

// monitor samples the resource usage of pid into a pmon log file.
func (p *proc) monitor(pid int) (stop func(), err error) {
	mon, err := pmon.Monitor(pid)
	if err != nil {
		return nil, fmt.Errorf("could not monitor %q (pid=%d): %w", p.name, pid, err)
	}
	f, err := os.Create(filepath.Join(p.logdir, p.name+"-pmon.log"))
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file for %q: %w", p.name, err)
	}
	mon.W = f
	mon.Freq = p.freq

	go func() {
		log.Printf("monitoring %q...", p.name)
		err := mon.Run()
		if err != nil {
			log.Printf("could not monitor %q: %+v", p.name, err)
		}
	}()

	return func() {
		err := mon.Kill()
		if err != nil {
			log.Printf("could not stop monitoring %q: %+v", p.name, err)
		}
		_ = f.Close()
	}, nil
}
