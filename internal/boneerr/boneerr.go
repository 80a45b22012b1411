// Package boneerr defines the error taxonomy shared by every driver and
// engine package, per the propagation rule: driver-level errors degrade a
// single entity, configuration errors are fatal at startup, signals trigger
// an orderly shutdown.
package boneerr

import "errors"

// Sentinel kinds. Wrap with fmt.Errorf("...: %w", KindX) at the call site so
// callers can still errors.Is/errors.As against the kind while keeping
// context.
var (
	// ErrI2C marks a failure initializing or reading an I2C expander or
	// sensor. The affected entity is not registered; the process continues.
	ErrI2C = errors.New("i2c error")

	// ErrModbusTimeout marks a Modbus read/write that did not complete in
	// time. The coordinator backs off its refresh interval.
	ErrModbusTimeout = errors.New("modbus timeout")

	// ErrModbusProtocol marks a Modbus exception response or frame error.
	ErrModbusProtocol = errors.New("modbus protocol error")

	// ErrModbusCancelled marks a Modbus operation abandoned due to shutdown.
	ErrModbusCancelled = errors.New("modbus operation cancelled")

	// ErrGPIOInput marks a failure configuring a GPIO input pin. That input
	// is skipped; the process continues.
	ErrGPIOInput = errors.New("gpio input configuration error")

	// ErrOneWire marks a failure on a Dallas/DS2482 1-Wire bus or sensor.
	ErrOneWire = errors.New("1-wire error")

	// ErrCoverConfig marks a cover missing required fields (e.g. tilt
	// duration for a venetian cover). That cover is skipped.
	ErrCoverConfig = errors.New("cover configuration error")

	// ErrInterlockDenied marks a turn_on rejected by an interlock group.
	// Never fatal; the caller still republishes optimistic then true state.
	ErrInterlockDenied = errors.New("interlock denied")

	// ErrConfiguration marks a fatal startup configuration problem.
	ErrConfiguration = errors.New("configuration error")
)
