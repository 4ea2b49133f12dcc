// Copyright ©2023 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs describes the register map of the Sensoray 626 board:
// the PCI-bridge registers of the SAA7146A, the registers of the local
// gate array reached through the DEBI bus, and the bit fields they
// carry.
package regs // import "github.com/go-daq/sensoray/s626/internal/regs"

// Bridge register offsets, in bytes into BAR0.
const (
	P_PCI_BT_A   = 0x004C // fifo slice mapping, burst/threshold control
	P_DEBICFG    = 0x007C
	P_DEBICMD    = 0x0080
	P_DEBIPAGE   = 0x0084
	P_DEBIAD     = 0x0088
	P_I2CCTRL    = 0x008C
	P_I2CSTAT    = 0x0090
	P_BASEA2_IN  = 0x00AC
	P_PROTA2_IN  = 0x00B0
	P_PAGEA2_IN  = 0x00B4
	P_BASEA2_OUT = 0x00B8
	P_PROTA2_OUT = 0x00BC
	P_PAGEA2_OUT = 0x00C0
	P_RPSPAGE0   = 0x00C4
	P_RPSPAGE1   = 0x00C8
	P_RPS0_TOUT  = 0x00D4
	P_RPS1_TOUT  = 0x00D8
	P_IER        = 0x00DC
	P_GPIO       = 0x00E0
	P_ACON1      = 0x00F4
	P_ACON2      = 0x00F8
	P_MC1        = 0x00FC
	P_MC2        = 0x0100
	P_RPSADDR0   = 0x0104
	P_RPSADDR1   = 0x0108
	P_ISR        = 0x010C
	P_PSR        = 0x0110
	P_SSR        = 0x0114
	P_FB_BUFFER1 = 0x0144
	P_FB_BUFFER2 = 0x0148
	P_TSL1       = 0x0180 // audio time-slot list 1, 8 slots of 4 bytes
	P_TSL2       = 0x01C0 // audio time-slot list 2, 8 slots of 4 bytes
)

// BAR_SPAN is the size of the mapped register file. One page covers
// the whole bridge register set.
const BAR_SPAN = 0x1000

// VECTPORT returns the bridge offset of slot x of the audio time-slot
// list 2.
func VECTPORT(x int) uint32 {
	return P_TSL2 + uint32(x)<<2
}

// Master control register 1. The upper half of a write is the bit
// mask, the lower half the new bit values.
const (
	MC1_SOFT_RESET = 0x80000000
	MC1_ERPS1      = 0x00002000 // enable RPS task 1
	MC1_ERPS0      = 0x00001000 // enable RPS task 0
	MC1_DEBI       = 0x00000800 // enable DEBI pins
	MC1_AUDIO      = 0x00000200 // enable audio serial interface
	MC1_I2C        = 0x00000100 // enable i2c pins
	MC1_A2OUT      = 0x00000008 // enable transfer on audio dma channel 2 out
	MC1_A2IN       = 0x00000004 // enable transfer on audio dma channel 2 in
	MC1_A1IN       = 0x00000002
	MC1_A1OUT      = 0x00000001
)

// Master control register 2.
const (
	MC2_UPLD_IIC  = 0x00000001 // upload i2c shadow registers
	MC2_UPLD_DEBI = 0x00000002 // upload DEBI shadow registers
	MC2_RPSSIG0   = 0x00001000 // assert RPS signal 0
	MC2_RPSSIG1   = 0x00002000 // assert RPS signal 1
	MC2_RPSSIG2   = 0x00004000 // assert RPS signal 2

	MC2_ADC_RPS = MC2_RPSSIG1 // trigger signal polled by the ADC program
)

// Interrupt status and enable bits (P_ISR/P_IER).
const (
	IRQ_GPIO3 = 0x00000040 // external interrupt from the gate array
	IRQ_RPS1  = 0x10000000 // irq instruction reached by RPS task 1
	ISR_AFOU  = 0x00000800 // audio fifo over- or underflow
)

// Status bits (P_PSR, P_SSR).
const (
	PSR_DEBI_S = 0x00000400 // DEBI transfer in progress
	PSR_GPIO2  = 0x00000200 // state of the ADC end-of-convert pin

	SSR_AF2_OUT = 0x00000200 // audio output fifo 2 drained
)

// DEBI configuration and command tokens.
const (
	DEBI_CFG_SLAVE16  = 0x00080000 // 16-bit external bus
	DEBI_CFG_INTEL    = 0x00020000 // Intel-style bus timing
	DEBI_CFG_SWAP_NON = 0x00000000 // no byte lane swapping
	DEBI_CFG_TOUT_BIT = 22         // shift of the timeout field

	// DEBI transfer timeout, in 50 ns increments.
	DEBI_TOUT = 7

	DEBI_CMD_SIZE16 = 0x00010000 // transfer one 16-bit word
	DEBI_CMD_READ   = 0x00040000
	DEBI_CMD_WRITE  = 0x00000000

	DEBI_CMD_RDWORD = DEBI_CMD_READ | DEBI_CMD_SIZE16
	DEBI_CMD_WRWORD = DEBI_CMD_WRITE | DEBI_CMD_SIZE16

	DEBI_PAGE_DISABLE = 0x00000000
)

// I2C control bits. A transfer control word carries three bytes, each
// with a two-bit attribute, packed as (byte2,byte1,byte0) in the upper
// three bytes of the register.
const (
	I2C_BUSY   = 0x00000001
	I2C_ERR    = 0x00000002
	I2C_ABORT  = 0x00000080 // abort the transfer in progress
	I2C_CLKSEL = 0x00000400 // bit rate near 69 kHz

	I2C_ATTR_NOP   = 0x0
	I2C_ATTR_STOP  = 0x1
	I2C_ATTR_READ  = 0x2
	I2C_ATTR_START = 0x3
)

// I2CB2, I2CB1 and I2CB0 pack an attribute and a data byte into the
// byte-2, byte-1 and byte-0 fields of the i2c transfer control word.
func I2CB2(attr, v uint32) uint32 { return attr<<6 | v<<24 }
func I2CB1(attr, v uint32) uint32 { return attr<<4 | v<<16 }
func I2CB0(attr, v uint32) uint32 { return attr<<2 | v<<8 }

// GPIO register tokens. GPIO1 drives the ADC start-convert pin, GPIO2
// senses end-of-convert, GPIO3 carries the gate-array interrupt.
const (
	GPIO_BASE = 0x10004000 // GPIO1 output, GPIO2 and GPIO3 inputs
	GPIO1_LO  = 0x00000000
	GPIO1_HI  = 0x00001000
)

// RPS instruction opcodes and condition codes.
const (
	RPS_CLRSIGNAL = 0x00000000 // clear the given signals
	RPS_SETSIGNAL = 0x10000000
	RPS_PAUSE     = 0x08000000 // wait until one of the given events
	RPS_UPLOAD    = 0x40000000 // upload shadow registers
	RPS_STOP      = 0x50000000
	RPS_IRQ       = 0x60000000
	RPS_JUMP      = 0x80000000 // next word is the target bus address
	RPS_LDREG     = 0x90000100 // low bits select the register, next word is the value
	RPS_STREG     = 0x98000100 // low bits select the register, next word is the target

	RPS_NOP = RPS_CLRSIGNAL // clear nothing

	RPS_DEBI  = 0x00000002 // DEBI transfer complete
	RPS_GPIO2 = 0x00080000 // ADC end-of-convert pin high
	RPS_GPIO3 = 0x00100000
	RPS_SIG0  = 0x00200000
	RPS_SIG1  = 0x00400000
	RPS_SIG2  = 0x00800000

	RPS_SIGADC = RPS_SIG1 // asserted through MC2_ADC_RPS
)

// BUGFIX_STREG biases a register offset for use in an RPS store
// instruction. The RPS store executes with the operand address latched
// one dword too high.
func BUGFIX_STREG(addr uint32) uint32 {
	return addr - 4
}

// RPS instruction timing. The sequencer fetches one instruction every
// RPSCLK_SCALAR ticks of the 33 MHz bus clock.
const (
	RPSCLK_SCALAR = 8
	RPSCLK_PER_US = (33 + RPSCLK_SCALAR - 1) / RPSCLK_SCALAR
)

// Audio interface control values.
const (
	ACON1_ADCSTART = 0x0000 // run time-slot list 1, stream the ADC
	ACON1_DACSTART = 0x0800 // also run time-slot list 2
	ACON1_DACSTOP  = 0x0C00

	ACON2_INIT = 0x01E0 // audio clock divisors
)

// Audio time-slot control bits.
const (
	EOS  = 0x00000001 // end of the time-slot list
	XSD2 = 0x00000002 // shift data out of the A2 output fifo

	XFIFO_0 = 0x00000000 // transmit fifo word select
	XFIFO_1 = 0x00000010
	XFIFO_2 = 0x00000020
	XFIFO_3 = 0x00000030

	RSD1 = 0x00000100 // route serial input through shifter 1
	RSD2 = 0x00000200
	RSD3 = 0x00000300

	SIB_A1 = 0x00001000 // store input data to the A1 fifo
	SIB_A2 = 0x00002000 // store input data to the A2 fifo
	LF_A2  = 0x00004000 // restart the A2 list after this slot

	WS1 = 0x00010000 // word-select (chip-select) line
	WS2 = 0x00020000
	WS3 = 0x00030000
)

// DMA window geometry. The RPS program takes the first two pages: a
// fully padded 16-slot scan program runs to about 4.7 KiB. The analog
// page follows, with the ADC slots first and the DAC staging word
// right after them.
const (
	RPSBUF_SIZE = 8192
	ANABUF_SIZE = 4096

	ADC_DMABUF_DWORDS = 40
	DAC_WDMABUF_OS    = ADC_DMABUF_DWORDS
)

// Gate-array addresses of the counter control registers. Counters are
// organized as three A/B pairs, each pair sharing one CRA/CRB register
// couple.
const (
	LP_CR0A = 0x0000
	LP_CR0B = 0x0002
	LP_CR1A = 0x0004
	LP_CR1B = 0x0006
	LP_CR2A = 0x0008
	LP_CR2B = 0x000A
)

// Gate-array addresses of the counter data registers. A write loads
// the preload register, a read returns the latch. The MSW lives one
// word above the LSW.
const (
	LP_CNTR0ALSW = 0x000C
	LP_CNTR1ALSW = 0x0010
	LP_CNTR2ALSW = 0x0014
	LP_CNTR0BLSW = 0x0018
	LP_CNTR1BLSW = 0x001C
	LP_CNTR2BLSW = 0x0020
)

// DIO_BANKS is the number of 16-channel digital i/o banks.
const DIO_BANKS = 3

// Gate-array addresses of the digital i/o banks. Bank x is 0, 1 or 2.
// The edge-select, capture-select and interrupt-select registers share
// one address for the read and write views.
func RDDIN(x int) uint16    { return 0x0040 + uint16(x)*0x10 }
func WRDOUT(x int) uint16   { return 0x0042 + uint16(x)*0x10 }
func RDEDGSEL(x int) uint16 { return 0x0044 + uint16(x)*0x10 }
func WREDGSEL(x int) uint16 { return 0x0044 + uint16(x)*0x10 }
func RDCAPSEL(x int) uint16 { return 0x0046 + uint16(x)*0x10 }
func WRCAPSEL(x int) uint16 { return 0x0046 + uint16(x)*0x10 }
func RDCAPFLG(x int) uint16 { return 0x0048 + uint16(x)*0x10 }
func RDINTSEL(x int) uint16 { return 0x004A + uint16(x)*0x10 }
func WRINTSEL(x int) uint16 { return 0x004A + uint16(x)*0x10 }

// Gate-array addresses of the analog cluster.
const (
	LP_DACPOL  = 0x0082 // dac polarity bits, one per channel
	LP_GSEL    = 0x0084 // adc gain select
	LP_ISEL    = 0x0086 // adc input channel select
	LP_MISC1   = 0x0088
	LP_WRMISC2 = 0x008A // write view: event-interrupt enables
	LP_RDMISC2 = 0x008A // read view: captured-event flags
)

// MISC1 write tokens. EDCAP routes capture-select writes to the edge
// capture enables, NOEDCAP routes them to the capture-flag clears.
const (
	MISC1_WENABLE  = 0x8000
	MISC1_WDISABLE = 0x0000
	MISC1_EDCAP    = 0xA000
	MISC1_NOEDCAP  = 0x8000
)

// MISC2 bits. Counter event bits occupy bits 4 to 15, two per counter
// (index below overflow); the same positions serve as interrupt
// enables on write and as captured-event flags on read.
const (
	MISC2_WDMODE      = 0x0003 // watchdog interval select
	MISC2_WDENABLE    = 0x0004 // watchdog timer enable
	MISC2_BATT_ENABLE = 0x0008 // backup battery charger

	IRQ_COINT1A = 0x0030 // any event from counter 1A
	IRQ_COINT2A = 0x00C0
	IRQ_COINT3A = 0x0300
	IRQ_COINT1B = 0x0C00
	IRQ_COINT2B = 0x3000
	IRQ_COINT3B = 0xC000
)

// INDXFLG and OVERFLG return the MISC2 bit of the index and overflow
// event of counter c (0 to 5).
func INDXFLG(c int) uint16 { return 1 << (4 + 2*uint(c)) }
func OVERFLG(c int) uint16 { return 1 << (5 + 2*uint(c)) }

// Counter control register A fields.
const (
	CRAMSK_INDXSRC_B = 0xC000
	CRAMSK_CNTSRC_B  = 0x3000
	CRAMSK_INDXPOL_A = 0x0800
	CRAMSK_CLKMULT_A = 0x0600
	CRAMSK_CLKPOL_A  = 0x0100
	CRAMSK_INDXSRC_A = 0x00C0
	CRAMSK_CNTSRC_A  = 0x0030
	CRAMSK_LOADSRC_A = 0x000C
	CRAMSK_INTSRC_A  = 0x0003

	CRA_S_INDXSRC_B = 14
	CRA_S_CNTSRC_B  = 12
	CRA_S_INDXPOL_A = 11
	CRA_S_CLKMULT_A = 9
	CRA_S_CLKPOL_A  = 8
	CRA_S_INDXSRC_A = 6
	CRA_S_CNTSRC_A  = 4
	CRA_S_LOADSRC_A = 2
	CRA_S_INTSRC_A  = 0
)

// Counter control register B fields. Bit 5 is reserved.
const (
	CRBMSK_INTRESETCMD = 0x8000
	CRBMSK_INTRESET_B  = 0x4000
	CRBMSK_INTRESET_A  = 0x2000
	CRBMSK_CLKENAB_A   = 0x1000
	CRBMSK_INTSRC_B    = 0x0C00
	CRBMSK_LATCHSRC    = 0x0300
	CRBMSK_LOADSRC_B   = 0x00C0
	CRBMSK_CLKMULT_B   = 0x0018
	CRBMSK_CLKENAB_B   = 0x0004
	CRBMSK_INDXPOL_B   = 0x0002
	CRBMSK_CLKPOL_B    = 0x0001

	// All three interrupt-reset bits.
	CRBMSK_INTCTRL = CRBMSK_INTRESETCMD | CRBMSK_INTRESET_A | CRBMSK_INTRESET_B

	CRB_S_INTRESETCMD = 15
	CRB_S_INTRESET_B  = 14
	CRB_S_INTRESET_A  = 13
	CRB_S_CLKENAB_A   = 12
	CRB_S_INTSRC_B    = 10
	CRB_S_LATCHSRC    = 8
	CRB_S_LOADSRC_B   = 6
	CRB_S_CLKMULT_B   = 3
	CRB_S_CLKENAB_B   = 2
	CRB_S_INDXPOL_B   = 1
	CRB_S_CLKPOL_B    = 0
)

// Counter field values.
const (
	LOADSRC_INDX  = 0 // preload on index
	LOADSRC_OVER  = 1 // preload on overflow
	LOADSRCB_OVRA = 2 // preload B on overflow of A
	LOADSRC_NONE  = 3

	INTSRC_NONE = 0
	INTSRC_OVER = 1
	INTSRC_INDX = 2
	INTSRC_BOTH = 3

	LATCHSRC_AB_READ = 0 // latch on read
	LATCHSRC_A_INDXA = 1 // latch A on index of A
	LATCHSRC_B_INDXB = 2
	LATCHSRC_B_OVERA = 3 // latch B on overflow of A

	INDXSRC_ENCODER = 0 // hardware index pin
	INDXSRC_DIGIN   = 1
	INDXSRC_SOFT    = 2 // software index only
	INDXSRC_DISABLE = 3

	INDXPOL_POS = 0
	INDXPOL_NEG = 1

	CLKSRC_COUNTER  = 0 // count encoder clocks
	CLKSRC_TIMER    = 2 // count the system clock
	CLKSRC_EXTENDER = 3 // count overflows of the A sibling

	CNTSRC_ENCODER = 0 // hardware count source field
	CNTSRC_DIGIN   = 1
	CNTSRC_SYSCLK  = 2 // low bit selects the direction

	CLKPOL_POS = 0
	CLKPOL_NEG = 1

	CNTDIR_UP   = 0 // timer direction, aliases the clock polarity
	CNTDIR_DOWN = 1

	CLKMULT_4X      = 0
	CLKMULT_2X      = 1
	CLKMULT_1X      = 2
	CLKMULT_SPECIAL = 3

	CLKENAB_ALWAYS = 0
	CLKENAB_INDEX  = 1 // gated by the index flag
)

// ADC poll list item layout and gain tokens.
const (
	EOPL     = 0x80 // end of poll list
	RANGE_5V = 0x10
	CHANMASK = 0x0F

	GSEL_BIPOLAR5V  = 0x00F0
	GSEL_BIPOLAR10V = 0x00A0
)
