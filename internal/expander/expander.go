// Package expander implements boneIO's I2C expander and ADC drivers:
// MCP23017/PCF8575 digital I/O expanders, a PCA9685 PWM driver for LED
// outputs, and the BeagleBone's onboard analog inputs. Built on
// periph.io/x/conn/v3's i2c package, the same bus abstraction
// seedhammer-seedhammer uses for its NFC/touch peripherals.
package expander

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"boneio/internal/boneerr"
	"boneio/internal/xlog"
)

var log = xlog.New("expander")

// Kind names the supported expander chips.
type Kind string

const (
	KindMCP23017 Kind = "mcp23017"
	KindPCF8575  Kind = "pcf8575"
	KindPCA9685  Kind = "pca9685"
)

// Bus wraps one periph i2c.Bus, serialized the same way the Modbus
// transport serializes its serial line: a single mutex around every
// transaction, because most of these chips are not safe for concurrent
// access from multiple goroutines.
type Bus struct {
	mu  sync.Mutex
	bus i2c.Bus
}

// OpenBus resolves an I2C bus name (e.g. "1", "/dev/i2c-1") via i2creg, the
// registry periph.io/x/host/v3 populates at host.Init() time.
func OpenBus(name string) (*Bus, error) {
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: open i2c bus %q: %v", boneerr.ErrI2C, name, err)
	}
	return &Bus{bus: b}, nil
}

func (b *Bus) tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	dev := &i2c.Dev{Bus: b.bus, Addr: addr}
	if err := dev.Tx(w, r); err != nil {
		return fmt.Errorf("%w: i2c addr 0x%02x: %v", boneerr.ErrI2C, addr, err)
	}
	return nil
}

// MCP23017 registers (IOCON.BANK=0 layout), both ports addressed
// consecutively as the datasheet lays them out.
const (
	mcp23017IODIRA   = 0x00
	mcp23017IODIRB   = 0x01
	mcp23017GPPUA    = 0x0C
	mcp23017GPPUB    = 0x0D
	mcp23017GPIOA    = 0x12
	mcp23017GPIOB    = 0x13
	mcp23017OLATA    = 0x14
	mcp23017OLATB    = 0x15
)

// MCP23017 is a 16-pin digital I/O expander, pin 0-7 on port A and 8-15 on
// port B, matching the source's mcp23017 pin numbering.
type MCP23017 struct {
	bus  *Bus
	addr uint16

	mu       sync.Mutex
	dirMask  uint16 // 1 = input
	pullMask uint16
	outMask  uint16
}

// NewMCP23017 configures both ports per the directionMask (bit set = input,
// matching IODIR semantics) and arms the requested pull-ups.
func NewMCP23017(bus *Bus, addr uint16, directionMask, pullUpMask uint16) (*MCP23017, error) {
	e := &MCP23017{bus: bus, addr: addr, dirMask: directionMask, pullMask: pullUpMask}
	if err := bus.tx(addr, []byte{mcp23017IODIRA, byte(directionMask), byte(directionMask >> 8)}, nil); err != nil {
		return nil, err
	}
	if err := bus.tx(addr, []byte{mcp23017GPPUA, byte(pullUpMask), byte(pullUpMask >> 8)}, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// Read returns the level of pin (0-15).
func (e *MCP23017) Read(pin int) (bool, error) {
	var buf [2]byte
	if err := e.bus.tx(e.addr, []byte{mcp23017GPIOA}, buf[:]); err != nil {
		return false, err
	}
	word := uint16(buf[0]) | uint16(buf[1])<<8
	return word&(1<<uint(pin)) != 0, nil
}

// Write sets the level of an output pin, read-modify-writing the latch
// register so other output pins on the same port are unaffected.
func (e *MCP23017) Write(pin int, level bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var buf [2]byte
	if err := e.bus.tx(e.addr, []byte{mcp23017OLATA}, buf[:]); err != nil {
		return err
	}
	word := uint16(buf[0]) | uint16(buf[1])<<8
	if level {
		word |= 1 << uint(pin)
	} else {
		word &^= 1 << uint(pin)
	}
	e.outMask = word
	return e.bus.tx(e.addr, []byte{mcp23017GPIOA, byte(word), byte(word >> 8)}, nil)
}

// PCF8575 is a simpler 16-bit quasi-bidirectional I/O expander: writing 1s
// to a pin lets it float high and be read back as input, per the datasheet.
type PCF8575 struct {
	bus  *Bus
	addr uint16

	mu   sync.Mutex
	word uint16
}

func NewPCF8575(bus *Bus, addr uint16) (*PCF8575, error) {
	e := &PCF8575{bus: bus, addr: addr, word: 0xFFFF}
	if err := bus.tx(addr, []byte{byte(e.word), byte(e.word >> 8)}, nil); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *PCF8575) Read(pin int) (bool, error) {
	var buf [2]byte
	if err := e.bus.tx(e.addr, nil, buf[:]); err != nil {
		return false, err
	}
	word := uint16(buf[0]) | uint16(buf[1])<<8
	return word&(1<<uint(pin)) != 0, nil
}

func (e *PCF8575) Write(pin int, level bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if level {
		e.word |= 1 << uint(pin)
	} else {
		e.word &^= 1 << uint(pin)
	}
	return e.bus.tx(e.addr, []byte{byte(e.word), byte(e.word >> 8)}, nil)
}

// PCA9685 registers, used for dimmable LED outputs driven via PWM duty
// cycle.
const (
	pca9685Mode1    = 0x00
	pca9685Prescale = 0xFE
	pca9685LED0OnL  = 0x06
)

// PCA9685 is a 16-channel PWM driver. Duty cycle is expressed 0-4095, the
// same resolution the chip's internal counter uses.
type PCA9685 struct {
	bus  *Bus
	addr uint16
}

func NewPCA9685(bus *Bus, addr uint16) (*PCA9685, error) {
	d := &PCA9685{bus: bus, addr: addr}
	if err := bus.tx(addr, []byte{pca9685Mode1, 0x20}, nil); err != nil { // auto-increment on
		return nil, err
	}
	return d, nil
}

// SetDuty drives channel (0-15) to the given 0-4095 duty cycle.
func (d *PCA9685) SetDuty(channel int, duty uint16) error {
	if duty > 4095 {
		duty = 4095
	}
	reg := byte(pca9685LED0OnL + 4*channel)
	return d.bus.tx(d.addr, []byte{reg, 0, 0, byte(duty), byte(duty >> 8)}, nil)
}

// ADC reads the BeagleBone's onboard analog inputs directly from the
// kernel's IIO sysfs interface (the analog header pins P9_33/35/36/37/
// 38/39/40 are not general-purpose GPIO and periph does not model them):
// voltage = raw / 4095 * 1.8.
type ADC struct {
	mu    sync.Mutex
	paths map[string]string // pin name -> sysfs raw value path
}

// analogPins maps the BeagleBone AIN header names to their IIO channel
// index, per the AM335x's 7-channel ADC (AIN0-AIN6), grounded on the
// legacy periph.io/x/periph board package's P9_3x pin table.
var analogPins = map[string]int{
	"P9_39": 0,
	"P9_40": 1,
	"P9_37": 2,
	"P9_38": 3,
	"P9_33": 4,
	"P9_36": 5,
	"P9_35": 6,
}

// NewADC builds the sysfs path table under iioBasePath (normally
// /sys/bus/iio/devices/iio:device0), overridable in tests.
func NewADC(iioBasePath string) *ADC {
	a := &ADC{paths: map[string]string{}}
	for pin, channel := range analogPins {
		a.paths[pin] = fmt.Sprintf("%s/in_voltage%d_raw", iioBasePath, channel)
	}
	return a
}

// IsAnalogPin reports whether name is one of the fixed AIN header pins.
func IsAnalogPin(name string) bool {
	_, ok := analogPins[name]
	return ok
}

// ReadVoltage reads the raw ADC count for pin and scales it to volts
// (0-1.8V).
func (a *ADC) ReadVoltage(pin string) (float64, error) {
	path, ok := a.paths[pin]
	if !ok {
		return 0, fmt.Errorf("%w: %q is not an analog pin", boneerr.ErrGPIOInput, pin)
	}
	raw, err := readSysfsInt(path)
	if err != nil {
		return 0, fmt.Errorf("%w: read %s: %v", boneerr.ErrGPIOInput, path, err)
	}
	return float64(raw) / 4095.0 * 1.8, nil
}

func readSysfsInt(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

var _ = log
