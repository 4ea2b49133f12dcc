// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command s626-env monitors the crate environment of an s626 DAQ setup.
//
// It periodically reads the temperature off an LM75-class sensor on the
// crate SMBus, logs the probe and, when a run database is configured,
// records it there.
package main // import "github.com/go-daq/sensoray/cmd/s626-env"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-daq/sensoray/rundb"
	"github.com/go-daq/smbus"
	_ "github.com/go-sql-driver/mysql"
)

const (
	tempReg = 0x00 // LM75 temperature register
)

func main() {
	log.SetPrefix("s626-env: ")
	log.SetFlags(0)

	var (
		bus    = flag.Int("bus", 1, "SMBus id of the crate sensor bus")
		addr   = flag.Int("addr", 0x48, "SMBus address of the temperature sensor")
		freq   = flag.Duration("freq", 1*time.Minute, "probing interval")
		dbname = flag.String("db", "", "name of the run database to record probes to (disabled if empty)")
	)

	flag.Parse()

	err := run(*bus, uint8(*addr), *freq, *dbname)
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(bus int, addr uint8, freq time.Duration, dbname string) error {
	conn, err := smbus.Open(bus, addr)
	if err != nil {
		return fmt.Errorf("could not open smbus %d: %w", bus, err)
	}
	defer conn.Close()

	var db *rundb.DB
	if dbname != "" {
		db, err = rundb.Open(dbname)
		if err != nil {
			return fmt.Errorf("could not open run database %q: %w", dbname, err)
		}
		defer db.Close()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	sensor := fmt.Sprintf("i2c-%d/0x%02x", bus, addr)

	tick := time.NewTicker(freq)
	defer tick.Stop()

	for {
		temp, err := readTemp(conn, addr)
		if err != nil {
			log.Printf("could not read temperature from %s: %+v", sensor, err)
		} else {
			log.Printf("sensor=%s temp=%.1fC", sensor, temp)
			if db != nil {
				err = db.RecordEnv(context.Background(), sensor, temp)
				if err != nil {
					log.Printf("could not record probe: %+v", err)
				}
			}
		}

		select {
		case <-stop:
			return nil
		case <-tick.C:
		}
	}
}

// readTemp reads the 9-bit temperature register. The sensor sends the
// MSB first while the SMBus word transfer is little-endian, so the two
// bytes come back swapped.
func readTemp(conn *smbus.Conn, addr uint8) (float64, error) {
	v, err := conn.ReadWord(addr, tempReg)
	if err != nil {
		return 0, fmt.Errorf("could not read temperature register: %w", err)
	}
	raw := int16(v<<8 | v>>8)
	return float64(raw>>7) * 0.5, nil
}
