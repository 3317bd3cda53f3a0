package uart

import (
	"time"

	"github.com/tarm/serial"
)

// Port abstracts tarm/serial for testability.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Open opens the serial device at 8 data bits, no parity, one stop bit, no
// flow control. The radio link runs at 115200 by default.
func Open(name string, baud int, readTimeout time.Duration) (Port, error) {
	cfg := &serial.Config{
		Name:        name,
		Baud:        baud,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readTimeout,
	}
	return serial.OpenPort(cfg)
}
