// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package s626

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-daq/sensoray/s626/internal/regs"
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

// Poll budgets of the bus handshakes. Each probe is one PCI round
// trip.
const (
	debiTimeout = 100
	i2cTimeout  = 100
	dacTimeout  = 50
	adcTimeout  = 100
)

// eepromAddr is the i2c bus address of the on-board EEPROM.
const eepromAddr = 0xA0

func (dev *Device) readU32(off uint32) uint32 {
	if dev.err != nil {
		return 0
	}
	_, dev.err = dev.mmio.ReadAt(dev.buf[:4], int64(off))
	if dev.err != nil {
		dev.err = fmt.Errorf("s626: could not read register 0x%x: %w", off, dev.err)
		return 0
	}
	return binary.LittleEndian.Uint32(dev.buf[:4])
}

func (dev *Device) writeU32(off uint32, v uint32) {
	if dev.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(dev.buf[:4], v)
	_, dev.err = dev.mmio.WriteAt(dev.buf[:4], int64(off))
	if dev.err != nil {
		dev.err = fmt.Errorf("s626: could not write register 0x%x: %w", off, dev.err)
	}
}

// fail records err as the sticky device error unless one is already
// pending.
func (dev *Device) fail(err error) {
	if dev.err == nil {
		dev.err = err
	}
}

// mcEnable sets the cmd bits of the master control register at off.
// The upper half of the written word is the bit mask, the lower half
// the new bit values.
func (dev *Device) mcEnable(cmd, off uint32) {
	dev.writeU32(off, cmd<<16|cmd)
}

// mcDisable clears the cmd bits of the master control register at off.
func (dev *Device) mcDisable(cmd, off uint32) {
	dev.writeU32(off, cmd<<16)
}

// mcTest reports whether any of the cmd bits of the master control
// register at off reads as set.
func (dev *Device) mcTest(cmd, off uint32) bool {
	return dev.readU32(off)&cmd != 0
}

// debiTransfer uploads the DEBI shadow registers to the bus engine and
// waits for the resulting gate-array cycle to finish.
func (dev *Device) debiTransfer(op string, addr uint16) {
	if dev.err != nil {
		return
	}
	dev.mcEnable(regs.MC2_UPLD_DEBI, regs.P_MC2)
	cnt := 0
	for ; cnt < debiTimeout && dev.mcTest(regs.MC2_UPLD_DEBI, regs.P_MC2); cnt++ {
	}
	if cnt >= debiTimeout {
		dev.fail(&BusTimeoutError{Op: op, Addr: addr})
		return
	}
	cnt = 0
	for ; cnt < debiTimeout && dev.readU32(regs.P_PSR)&regs.PSR_DEBI_S != 0; cnt++ {
	}
	if cnt >= debiTimeout {
		dev.fail(&BusTimeoutError{Op: op, Addr: addr})
	}
}

// debiRead returns the value of the gate-array register at addr.
func (dev *Device) debiRead(addr uint16) uint16 {
	dev.writeU32(regs.P_DEBICMD, regs.DEBI_CMD_RDWORD|uint32(addr))
	dev.debiTransfer("debi read", addr)
	return uint16(dev.readU32(regs.P_DEBIAD))
}

// debiWrite writes v to the gate-array register at addr.
func (dev *Device) debiWrite(addr, v uint16) {
	dev.writeU32(regs.P_DEBICMD, regs.DEBI_CMD_WRWORD|uint32(addr))
	dev.writeU32(regs.P_DEBIAD, uint32(v))
	dev.debiTransfer("debi write", addr)
}

// debiReplace writes (old & mask) | v to the gate-array register at
// addr.
func (dev *Device) debiReplace(addr, mask, v uint16) {
	dev.debiWrite(addr, dev.debiRead(addr)&mask|v)
}

// i2cUpload copies the i2c shadow registers to the bus engine. The
// upload flag reads back as set once the engine has taken them over.
func (dev *Device) i2cUpload() {
	if dev.err != nil {
		return
	}
	dev.mcEnable(regs.MC2_UPLD_IIC, regs.P_MC2)
	cnt := 0
	for ; cnt < i2cTimeout && !dev.mcTest(regs.MC2_UPLD_IIC, regs.P_MC2); cnt++ {
	}
	if cnt >= i2cTimeout {
		dev.fail(&BusTimeoutError{Op: "i2c upload"})
	}
}

// i2cHandshake runs the i2c transaction described by val and waits for
// the bus to go idle. It returns the error flag of the transaction.
func (dev *Device) i2cHandshake(val uint32) uint32 {
	if dev.err != nil {
		return 0
	}
	dev.writeU32(regs.P_I2CCTRL, val)
	dev.i2cUpload()
	for cnt := 0; cnt < i2cTimeout; cnt++ {
		ctrl := dev.readU32(regs.P_I2CCTRL)
		if dev.err != nil {
			return 0
		}
		if ctrl&(regs.I2C_BUSY|regs.I2C_ERR) != regs.I2C_BUSY {
			return ctrl & regs.I2C_ERR
		}
	}
	dev.fail(&BusTimeoutError{Op: "i2c transfer"})
	return 0
}

// i2cRead returns the EEPROM byte at addr.
func (dev *Device) i2cRead(addr uint8) uint8 {
	// Select the EEPROM internal address.
	if dev.i2cHandshake(regs.I2CB2(regs.I2C_ATTR_START, eepromAddr)|
		regs.I2CB1(regs.I2C_ATTR_STOP, uint32(addr))|
		regs.I2CB0(regs.I2C_ATTR_NOP, 0)) != 0 {
		dev.fail(fmt.Errorf("s626: could not address eeprom at 0x%02x", addr))
		return 0
	}
	// Fetch the byte. It lands in the byte-1 field of the control
	// register.
	if dev.i2cHandshake(regs.I2CB2(regs.I2C_ATTR_START, eepromAddr|1)|
		regs.I2CB1(regs.I2C_ATTR_STOP, 0)|
		regs.I2CB0(regs.I2C_ATTR_NOP, 0)) != 0 {
		dev.fail(fmt.Errorf("s626: could not read eeprom at 0x%02x", addr))
		return 0
	}
	return uint8(dev.readU32(regs.P_I2CCTRL) >> 16)
}

// writeMisc2 writes v to the MISC2 register, opening and closing the
// write-enable gate around it.
func (dev *Device) writeMisc2(v uint16) {
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_WENABLE)
	dev.debiWrite(regs.LP_WRMISC2, v)
	dev.debiWrite(regs.LP_MISC1, regs.MISC1_WDISABLE)
}

// anaU32 returns dword i of the analog DMA page.
func (dev *Device) anaU32(i int) uint32 {
	if dev.err != nil {
		return 0
	}
	_, dev.err = dev.dma.ReadAt(dev.buf[:4], int64(regs.RPSBUF_SIZE)+int64(i)*4)
	if dev.err != nil {
		dev.err = fmt.Errorf("s626: could not read dma buffer slot %d: %w", i, dev.err)
		return 0
	}
	return binary.LittleEndian.Uint32(dev.buf[:4])
}

// anaSetU32 writes v to dword i of the analog DMA page.
func (dev *Device) anaSetU32(i int, v uint32) {
	if dev.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(dev.buf[:4], v)
	_, dev.err = dev.dma.WriteAt(dev.buf[:4], int64(regs.RPSBUF_SIZE)+int64(i)*4)
	if dev.err != nil {
		dev.err = fmt.Errorf("s626: could not write dma buffer slot %d: %w", i, dev.err)
	}
}

// initHardware brings the board to its power-on configuration: bus
// engines running, audio interface streaming the ADC and DAC time-slot
// lists, trim DACs restored from the EEPROM, counters, DACs and
// digital i/o zeroed.
func (dev *Device) initHardware() error {
	// Mask the board interrupts and drop whatever a previous run left
	// pending.
	dev.writeU32(regs.P_IER, 0)
	dev.writeU32(regs.P_ISR, regs.IRQ_RPS1|regs.IRQ_GPIO3)

	// Enable the DEBI, audio and i2c engines.
	dev.mcEnable(regs.MC1_DEBI|regs.MC1_AUDIO|regs.MC1_I2C, regs.P_MC1)

	// Configure the DEBI bus for 16-bit Intel-style transfers.
	dev.writeU32(regs.P_DEBICFG, regs.DEBI_CFG_SLAVE16|
		regs.DEBI_TOUT<<regs.DEBI_CFG_TOUT_BIT|
		regs.DEBI_CFG_SWAP_NON|regs.DEBI_CFG_INTEL)
	dev.writeU32(regs.P_DEBIPAGE, regs.DEBI_PAGE_DISABLE)

	// Park the ADC start-convert line high.
	dev.writeU32(regs.P_GPIO, regs.GPIO_BASE|regs.GPIO1_HI)

	// Abort whatever i2c transaction a previous run left behind, then
	// clear the error flags the abort raises.
	dev.writeU32(regs.P_I2CSTAT, regs.I2C_CLKSEL|regs.I2C_ABORT)
	dev.i2cUpload()
	for i := 0; i < 2; i++ {
		dev.writeU32(regs.P_I2CSTAT, regs.I2C_CLKSEL)
		dev.i2cUpload()
	}

	// Time-slot list 1 streams the ADC into the A1 fifo, list 2
	// shifts DAC setpoints out of the A2 fifo.
	dev.writeU32(regs.P_ACON2, regs.ACON2_INIT)
	dev.writeU32(regs.P_TSL1, regs.RSD1|regs.SIB_A1)
	dev.writeU32(regs.P_TSL1+4, regs.RSD1|regs.SIB_A1|regs.EOS)
	dev.writeU32(regs.P_ACON1, regs.ACON1_ADCSTART)

	// RPS task 1 runs the acquisition program.
	dev.writeU32(regs.P_RPSADDR1, dev.physRPS)
	dev.writeU32(regs.P_RPSPAGE1, 0)
	dev.writeU32(regs.P_RPS1_TOUT, 0)

	// DAC output DMA: one staged dword at the end of the analog page,
	// with the protection address one dword past it.
	dev.writeU32(regs.P_PCI_BT_A, 0)
	dev.writeU32(regs.P_BASEA2_OUT, dev.physAna+regs.DAC_WDMABUF_OS*4)
	dev.writeU32(regs.P_PROTA2_OUT, dev.physAna+regs.DAC_WDMABUF_OS*4+4)
	dev.writeU32(regs.P_PAGEA2_OUT, 8)
	dev.writeU32(regs.VECTPORT(0), regs.XSD2|regs.RSD3|regs.SIB_A2|regs.EOS)
	dev.writeU32(regs.VECTPORT(1), regs.LF_A2)
	dev.writeU32(regs.P_ACON1, regs.ACON1_DACSTART)

	// Restore the trim DACs from the EEPROM. The first pass resets
	// the audio output channel, the second one lands the values.
	dev.loadTrimDACs()
	dev.loadTrimDACs()

	for ch := 0; ch < numAOChans; ch++ {
		dev.setDAC(ch, 0)
	}

	dev.countersInit()

	// Keep only the battery charger bit of whatever MISC2 state the
	// previous run left behind.
	dev.misc2 = dev.debiRead(regs.LP_RDMISC2) & regs.MISC2_BATT_ENABLE
	dev.writeMisc2(dev.misc2)

	dev.dioInit()

	if dev.err != nil {
		return fmt.Errorf("s626: could not initialize board: %w", dev.err)
	}
	return nil
}
