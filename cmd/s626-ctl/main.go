// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-ctl supervises an s626-daq acquisition process.
//
// It takes JSON commands over TCP to start and stop the acquisition
// binary, waits for the banner reporting a running acquisition, and
// then watches the run directory: a run file that stops growing
// between two probe ticks raises an alert by mail and SMS.
package main // import "github.com/go-daq/sensoray/cmd/s626-ctl"

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	mail "gopkg.in/gomail.v2"
)

func main() {
	var (
		name = flag.String("cmd", "s626-daq", "acquisition command to run")
		addr = flag.String("addr", ":8866", "[ip]:port to listen on")
		dir  = flag.String("dir", "", "run directory to monitor")
		freq = flag.Duration("freq", 30*time.Second, "probing interval")
	)

	flag.Parse()

	log.SetPrefix("s626-ctl: ")
	log.SetFlags(0)

	run(*name, *addr, *dir, *freq)
}

func run(name, addr, dir string, freq time.Duration) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("could not listen on %q: %+v", addr, err)
	}
	defer l.Close()

	srv := &ctl{
		name:  name,
		dir:   dir,
		freq:  freq,
		alert: newAlerter(freq),
	}

	log.Printf("running s626-ctl server on %q...", addr)
	for {
		conn, err := l.Accept()
		if err != nil {
			log.Printf("could not accept connection: %+v", err)
			continue
		}
		go srv.handle(conn)
	}
}

type ctl struct {
	name string // acquisition command
	dir  string // run directory
	freq time.Duration

	daq    *exec.Cmd
	runlog *banner

	alert *alerter
}

type reply struct {
	Msg string `json:"msg,omitempty"`
	Err string `json:"err,omitempty"`
}

// handle serves one control client. The run-directory watcher lives
// for as long as the client connection does.
func (srv *ctl) handle(conn net.Conn) {
	defer conn.Close()

	quit := make(chan struct{})
	defer close(quit)

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req struct {
			Name string   `json:"name"`
			Args []string `json:"args"`
		}
		err := dec.Decode(&req)
		if err != nil {
			log.Printf("could not decode command: %+v", err)
			return
		}
		switch req.Name {
		case "start":
			log.Printf("starting %s %v...", srv.name, req.Args)
			err = srv.start(req.Args)
			if err != nil {
				log.Printf("could not start acquisition: %+v", err)
				_ = enc.Encode(reply{Err: err.Error()})
				return
			}
			_ = enc.Encode(reply{Msg: "ok"})
			log.Printf("starting %s... [done]", srv.name)
			go srv.watch(quit)

		case "stop":
			log.Printf("stopping %s...", srv.name)
			err = srv.stop()
			if err != nil {
				log.Printf("could not stop acquisition: %+v", err)
				_ = enc.Encode(reply{Err: err.Error()})
				return
			}
			_ = enc.Encode(reply{Msg: "ok"})
			log.Printf("stopping %s... [done]", srv.name)
			return

		default:
			log.Printf("unknown command %q", req.Name)
			_ = enc.Encode(reply{Err: fmt.Sprintf("unknown command %q", req.Name)})
		}
	}
}

// start spawns the acquisition command and waits for its banner on
// the standard error stream.
func (srv *ctl) start(args []string) error {
	srv.runlog = newBanner("acquisition running...")
	srv.daq = exec.Command(srv.name, args...)
	srv.daq.Stdout = os.Stdout
	srv.daq.Stderr = io.MultiWriter(os.Stderr, srv.runlog)

	err := srv.daq.Start()
	if err != nil {
		return fmt.Errorf("could not start %s: %w", srv.name, err)
	}

	const timeout = 10 * time.Second
	select {
	case <-srv.runlog.seen:
		return nil
	case <-time.After(timeout):
		_ = srv.daq.Process.Kill()
		return fmt.Errorf("%s did not report a running acquisition within %v",
			srv.name, timeout,
		)
	}
}

// stop interrupts the acquisition command.
func (srv *ctl) stop() error {
	if srv.daq == nil || srv.daq.Process == nil {
		return fmt.Errorf("no acquisition running")
	}
	// make sure the process is eventually reaped
	go func() { _ = srv.daq.Wait() }()
	err := srv.daq.Process.Signal(os.Interrupt)
	if err != nil {
		return fmt.Errorf("could not interrupt %s: %w", srv.name, err)
	}
	return nil
}

// watch probes the run directory on every tick and raises an alert
// for files that stopped growing.
func (srv *ctl) watch(quit chan struct{}) {
	tick := time.NewTicker(srv.freq)
	defer tick.Stop()

	sizes := make(map[string]int64)
	for {
		select {
		case <-quit:
			return
		case <-tick.C:
			cur, err := srv.scan()
			if err != nil {
				log.Printf("could not scan %q: %+v", srv.dir, err)
				continue
			}
			for _, fname := range stalled(sizes, cur) {
				srv.alert.notify(fname, cur[fname])
			}
			sizes = cur
		}
	}
}

// scan sizes the run files of the watched directory.
func (srv *ctl) scan() (map[string]int64, error) {
	glob := filepath.Join(srv.dir, "s626-*.raw")
	files, err := filepath.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("could not glob %q: %w", glob, err)
	}
	sizes := make(map[string]int64, len(files))
	for _, fname := range files {
		fi, err := os.Stat(fname)
		if err != nil {
			return nil, fmt.Errorf("could not stat %q: %w", fname, err)
		}
		sizes[fname] = fi.Size()
	}
	return sizes, nil
}

// stalled reports the files whose size did not change between two
// probes. A file seen for the first time has nothing to compare
// against.
func stalled(prev, cur map[string]int64) []string {
	var files []string
	for fname, size := range cur {
		if old, ok := prev[fname]; ok && old == size {
			files = append(files, fname)
		}
	}
	sort.Strings(files)
	return files
}

// banner scans a log stream for a marker line. Lines arrive whole,
// one Write per log line.
type banner struct {
	mark []byte
	once sync.Once
	seen chan struct{}
}

func newBanner(mark string) *banner {
	return &banner{mark: []byte(mark), seen: make(chan struct{})}
}

func (b *banner) Write(p []byte) (int, error) {
	if bytes.Contains(p, b.mark) {
		b.once.Do(func() { close(b.seen) })
	}
	return len(p), nil
}

// alerter fans a stalled-file alert out to mail and SMS, capped per
// file.
type alerter struct {
	freq time.Duration

	mu   sync.Mutex
	sent map[string]int

	mail struct {
		user string
		pwd  string
		host string
		port int
		rcpt []string
	}
	smsURL string
}

func newAlerter(freq time.Duration) *alerter {
	al := &alerter{
		freq: freq,
		sent: make(map[string]int),
	}
	al.mail.user = os.Getenv("MAIL_USERNAME")
	al.mail.pwd = os.Getenv("MAIL_PASSWORD")
	al.mail.host = os.Getenv("MAIL_SERVER")
	al.mail.port, _ = strconv.Atoi(os.Getenv("MAIL_PORT"))
	if tgts := os.Getenv("MAIL_TGTS"); tgts != "" {
		al.mail.rcpt = strings.Split(tgts, ",")
	}
	al.smsURL = os.Getenv("SMS_ENDPOINT")
	return al
}

func (al *alerter) notify(fname string, size int64) {
	log.Printf("file %q didn't change in the last %v (size=%d bytes)",
		fname, al.freq, size,
	)

	al.mu.Lock()
	defer al.mu.Unlock()

	const maxAlerts = 5
	al.sent[fname]++
	if al.sent[fname] >= maxAlerts {
		return
	}

	al.sendMail(fname, size)
	al.sendSMS(fname, size)
}

func (al *alerter) sendMail(fname string, size int64) {
	m := al.mail
	if m.user == "" || m.pwd == "" || m.host == "" || m.port == 0 ||
		len(m.rcpt) == 0 {
		log.Printf("could not send mail alert: missing credentials")
		return
	}

	msg := mail.NewMessage()
	msg.SetHeader("From", m.user)
	msg.SetHeader("Bcc", m.rcpt...)
	msg.SetHeader("Subject", fmt.Sprintf("[s626-ctl] file alert: %q", fname))
	msg.SetBody("text/plain", fmt.Sprintf(
		"file: %q\nsize: %d bytes\nfreq: %v", fname, size, al.freq,
	))

	dial := mail.NewDialer(m.host, m.port, m.user, m.pwd)
	// the lab SMTP server runs with a self-signed certificate.
	dial.TLSConfig = &tls.Config{InsecureSkipVerify: true}

	err := dial.DialAndSend(msg)
	if err != nil {
		log.Printf("could not send mail alert: %+v", err)
	}
}

func (al *alerter) sendSMS(fname string, size int64) {
	if al.smsURL == "" {
		log.Printf("could not send sms alert: no end-point")
		return
	}

	var req struct {
		Action string `json:"action"`
		Data   struct {
			All bool   `json:"all"`
			Msg string `json:"message"`
		} `json:"data"`
	}
	req.Action = "send"
	req.Data.All = true
	req.Data.Msg = fmt.Sprintf("[s626-ctl]: alert file=%q size=%d freq=%v",
		fname, size, al.freq,
	)

	body := new(bytes.Buffer)
	err := json.NewEncoder(body).Encode(req)
	if err != nil {
		log.Printf("could not encode sms alert: %+v", err)
		return
	}

	resp, err := http.Post(al.smsURL, "application/json", body)
	if err != nil {
		log.Printf("could not POST sms alert: %+v", err)
		return
	}
	defer resp.Body.Close()

	var status struct {
		Msg string `json:"status"`
	}
	err = json.NewDecoder(resp.Body).Decode(&status)
	if err != nil {
		log.Printf("could not decode sms reply: %+v", err)
		return
	}
	if status.Msg != "success" {
		log.Printf("could not send sms alert: status=%q", status.Msg)
	}
}
