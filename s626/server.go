// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
)

// device is the part of the Device API the control server drives.
type device interface {
	Initialize() error
	Arm(cmd *AcqCommand) error
	Start() error
	Trigger(id uint32) error
	Cancel() error
	State() string
	Close() error
}

var _ device = (*Device)(nil)

// server drives one board from JSON requests.
type server struct {
	ctl net.Listener

	msg    *log.Logger
	odir   string
	devuio string
	devdma string

	newDevice func(devuio, devdma, odir string, opts ...Option) (device, error)

	opts []Option
	dev  device

	quit chan int
}

// Serve drives the board bound to the devuio and devdma nodes from
// JSON requests on addr, archiving scan frames under odir. Each
// connection carries one request of the form
//
//	{"name": <verb>, "args": <payload>}
//
// with the verbs initialize, arm, start, trigger, cancel, status and
// stop. The reply is {"msg": "ok"} or {"err": <text>}.
func Serve(addr, odir, devuio, devdma string, opts ...Option) error {
	srv, err := newServer(addr, odir, devuio, devdma, opts...)
	if err != nil {
		return fmt.Errorf("could not create s626 server: %w", err)
	}
	return srv.serve()
}

func newServer(addr, odir, devuio, devdma string, opts ...Option) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not create s626-ctl server on %q: %w", addr, err)
	}

	srv := &server{
		ctl: ctl,

		msg: log.New(os.Stdout, "s626-svc: ", 0),

		odir:   odir,
		devuio: devuio,
		devdma: devdma,

		newDevice: func(devuio, devdma, odir string, opts ...Option) (device, error) {
			opts = append(opts,
				WithDevUIO(devuio),
				WithDevDMA(devdma),
				WithRunDir(odir),
			)
			return NewDevice(opts...)
		},

		opts: opts,
		quit: make(chan int),
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	dev, err := srv.newDevice(srv.devuio, srv.devdma, srv.odir, srv.opts...)
	if err != nil {
		return fmt.Errorf("could not create s626 device: %w", err)
	}
	srv.dev = dev
	defer srv.dev.Close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			select {
			case <-srv.quit:
				return nil
			default:
			}
			return fmt.Errorf("could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not drive s626 board: %+v", err)
			continue
		}
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	var req struct {
		Name string           `json:"name"`
		Args *json.RawMessage `json:"args"`
	}

	err := json.NewDecoder(conn).Decode(&req)
	if err != nil {
		srv.reply(conn, err)
		return fmt.Errorf("could not decode command request: %w", err)
	}
	srv.msg.Printf("received request: name=%q", req.Name)

	switch strings.ToLower(req.Name) {
	case "initialize":
		err = srv.dev.Initialize()
		srv.reply(conn, err)
		if err != nil {
			return fmt.Errorf("could not initialize s626 device: %w", err)
		}

	case "arm":
		var cmd AcqCommand
		err = json.Unmarshal(*req.Args, &cmd)
		if err != nil {
			srv.reply(conn, err)
			return fmt.Errorf("could not decode %q payload: %w", req.Name, err)
		}

		err = srv.dev.Arm(&cmd)
		srv.reply(conn, err)
		if err != nil {
			return fmt.Errorf("could not arm s626 device: %w", err)
		}

	case "start":
		err = srv.dev.Start()
		srv.reply(conn, err)
		if err != nil {
			return fmt.Errorf("could not start s626 device: %w", err)
		}

	case "trigger":
		var id uint32
		err = json.Unmarshal(*req.Args, &id)
		if err != nil {
			srv.reply(conn, err)
			return fmt.Errorf("could not decode %q payload: %w", req.Name, err)
		}

		err = srv.dev.Trigger(id)
		srv.reply(conn, err)
		if err != nil {
			return fmt.Errorf("could not trigger s626 device: %w", err)
		}

	case "cancel":
		err = srv.dev.Cancel()
		srv.reply(conn, err)
		if err != nil {
			return fmt.Errorf("could not cancel acquisition: %w", err)
		}

	case "status":
		srv.replyMsg(conn, srv.dev.State())

	case "stop":
		err = srv.dev.Cancel()
		srv.reply(conn, err)
		if err != nil {
			return fmt.Errorf("could not stop s626 device: %w", err)
		}
		close(srv.quit)
		_ = srv.ctl.Close()

	default:
		err = fmt.Errorf("unknown command %q", req.Name)
		srv.reply(conn, err)
		return err
	}

	return nil
}

func (srv *server) reply(conn net.Conn, err error) {
	var rep struct {
		Msg string `json:"msg,omitempty"`
		Err string `json:"err,omitempty"`
	}
	switch err {
	case nil:
		rep.Msg = "ok"
	default:
		rep.Err = fmt.Sprintf("%+v", err)
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) replyMsg(conn net.Conn, msg string) {
	rep := struct {
		Msg string `json:"msg,omitempty"`
	}{msg}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
