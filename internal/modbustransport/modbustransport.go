// Package modbustransport implements boneIO's Modbus-RTU transport:
// a single serial line shared by every configured device, serialized
// through one mutex the way the source serializes access with an
// asyncio.Lock, built on github.com/goburrow/modbus (whose RTU handler
// opens the line with github.com/goburrow/serial).
package modbustransport

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"boneio/internal/boneerr"
	"boneio/internal/xlog"
)

var log = xlog.New("modbustransport")

// Config describes the serial line, matching the source's Modbus.__init__
// uart/baudrate/parity/stopbits/bytesize parameters.
type Config struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // "N", "E", "O"
	StopBits int
	Timeout  time.Duration
}

// ValueType enumerates the register decodings VALUE_TYPES supports in the
// source, word order included.
type ValueType string

const (
	UWord    ValueType = "U_WORD"
	SWord    ValueType = "S_WORD"
	UDWord   ValueType = "U_DWORD"
	SDWord   ValueType = "S_DWORD"
	UDWordR  ValueType = "U_DWORD_R"
	SDWordR  ValueType = "S_DWORD_R"
	UQWord   ValueType = "U_QWORD"
	SQWord   ValueType = "S_QWORD"
	UQWordR  ValueType = "U_QWORD_R"
	FP32     ValueType = "FP32"
	FP32R    ValueType = "FP32_R"
)

// RegisterBank selects which Modbus function code a read uses.
type RegisterBank int

const (
	BankHolding RegisterBank = iota
	BankInput
	BankCoil
)

// Transport owns the RTU handler and client, with a single mutex
// serializing every transaction the way the source's asyncio.Lock does.
type Transport struct {
	mu      sync.Mutex
	handler *modbus.RTUClientHandler
	client  modbus.Client
}

// Open configures and opens the serial line. The handler's SlaveId is set
// per call since a single bus is shared by many devices at different
// addresses.
func Open(cfg Config) (*Transport, error) {
	handler := modbus.NewRTUClientHandler(cfg.Device)
	handler.BaudRate = cfg.BaudRate
	handler.DataBits = cfg.DataBits
	handler.Parity = parityCode(cfg.Parity)
	handler.StopBits = cfg.StopBits
	if cfg.Timeout > 0 {
		handler.Timeout = cfg.Timeout
	} else {
		handler.Timeout = time.Second
	}
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", boneerr.ErrModbusProtocol, cfg.Device, err)
	}
	return &Transport{handler: handler, client: modbus.NewClient(handler)}, nil
}

func parityCode(p string) string {
	switch p {
	case "E", "e":
		return "E"
	case "O", "o":
		return "O"
	default:
		return "N"
	}
}

func (t *Transport) Close() error {
	return t.handler.Close()
}

// ReadRegisters reads count 16-bit registers from bank starting at address
// on the device at unit, returning the raw big-endian register bytes
// (2*count bytes), the same shape decode_value consumes in the source. For
// BankCoil the result is instead the coil bit field from ReadCoils, one bit
// per coil.
func (t *Transport) ReadRegisters(unit byte, bank RegisterBank, address, count uint16) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler.SlaveId = unit

	var (
		data []byte
		err  error
	)
	switch bank {
	case BankInput:
		data, err = t.client.ReadInputRegisters(address, count)
	case BankCoil:
		data, err = t.client.ReadCoils(address, count)
	default:
		data, err = t.client.ReadHoldingRegisters(address, count)
	}
	if err != nil {
		return nil, classifyError(err)
	}
	return data, nil
}

// WriteSingleRegister writes one holding register, used by writable entity
// commands.
func (t *Transport) WriteSingleRegister(unit byte, address, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler.SlaveId = unit
	if _, err := t.client.WriteSingleRegister(address, value); err != nil {
		return classifyError(err)
	}
	return nil
}

// WriteMultipleRegisters writes a contiguous run of holding registers.
func (t *Transport) WriteMultipleRegisters(unit byte, address uint16, values []uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler.SlaveId = unit
	buf := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(buf[i*2:], v)
	}
	if _, err := t.client.WriteMultipleRegisters(address, uint16(len(values)), buf); err != nil {
		return classifyError(err)
	}
	return nil
}

// classifyError maps a goburrow/modbus error to boneIO's error taxonomy:
// a timeout degrades the device to the backoff schedule, anything else is
// a protocol error (malformed/exception response) that also degrades but
// is logged distinctly.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if isTimeout(err) {
		return fmt.Errorf("%w: %v", boneerr.ErrModbusTimeout, err)
	}
	return fmt.Errorf("%w: %v", boneerr.ErrModbusProtocol, err)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}

// DecodeValue decodes count-register payload (big-endian register words,
// as returned by ReadRegisters) per valueType, mirroring Modbus.decode_value
// in the source: word order flips for the "_R" variants, everything else
// decodes big-endian.
func DecodeValue(payload []byte, valueType ValueType) (float64, error) {
	switch valueType {
	case UWord:
		return float64(binary.BigEndian.Uint16(payload)), nil
	case SWord:
		return float64(int16(binary.BigEndian.Uint16(payload))), nil
	case UDWord:
		return float64(binary.BigEndian.Uint32(payload)), nil
	case SDWord:
		return float64(int32(binary.BigEndian.Uint32(payload))), nil
	case UDWordR:
		return float64(binary.BigEndian.Uint32(swapWords32(payload))), nil
	case SDWordR:
		return float64(int32(binary.BigEndian.Uint32(swapWords32(payload)))), nil
	case UQWord:
		return float64(binary.BigEndian.Uint64(payload)), nil
	case SQWord:
		return float64(int64(binary.BigEndian.Uint64(payload))), nil
	case UQWordR:
		return float64(binary.BigEndian.Uint64(swapWords64(payload))), nil
	case FP32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(payload))), nil
	case FP32R:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(swapWords32(payload)))), nil
	default:
		return 0, fmt.Errorf("%w: unknown value type %q", boneerr.ErrModbusProtocol, valueType)
	}
}

func swapWords32(b []byte) []byte {
	if len(b) < 4 {
		return b
	}
	out := make([]byte, 4)
	copy(out[0:2], b[2:4])
	copy(out[2:4], b[0:2])
	return out
}

func swapWords64(b []byte) []byte {
	if len(b) < 8 {
		return b
	}
	out := make([]byte, 8)
	for i := 0; i < 4; i++ {
		copy(out[i*2:i*2+2], b[(3-i)*2:(3-i)*2+2])
	}
	return out
}

var _ = log
