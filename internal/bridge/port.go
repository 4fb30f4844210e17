// Package bridge decodes the secondary controller's framed report stream
// over a USB-serial link and relays operator commands to it.
package bridge

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tarm/serial"
)

// Port is the transport the bridge reads records from. Satisfied by
// *serial.Port and by the scripted fake in tests.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens a transport by name. Injected so tests can supply fakes.
type Opener func(name string, baud int, readTimeout time.Duration) (Port, error)

// OpenSerial opens a real serial port with a bounded read timeout so the
// streaming loop never blocks indefinitely.
func OpenSerial(name string, baud int, readTimeout time.Duration) (Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: readTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return port, nil
}

// PortExists reports whether the device node is present. Used to detect
// that the far end dropped off the bus.
func PortExists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
