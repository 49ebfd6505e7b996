package link

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"go.bug.st/serial"
)

const (
	// DefaultBaudRate is the rate the flight computer firmware uses.
	DefaultBaudRate = 115200

	// DefaultReadTimeout bounds a single read so the read loop can notice
	// stop requests while the device is silent.
	DefaultReadTimeout = time.Second
)

// SupportedBaudRates lists the baud rates a link may be opened with.
var SupportedBaudRates = []int{9600, 38400, 57600, 74880, 115200}

// ErrInvalidBaud is returned when a link is requested with a baud rate that
// is not one of SupportedBaudRates.
var ErrInvalidBaud = errors.New("unsupported baud rate")

// Link is an open byte stream to the device. Read returns (0, nil) when the
// per-read timeout expires without data. Closing a link unblocks a pending Read.
type Link interface {
	io.Reader
	io.Closer
}

// Opener opens links to a device.
type Opener interface {
	Open(port string, baud int) (Link, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(port string, baud int) (Link, error)

func (f OpenerFunc) Open(port string, baud int) (Link, error) {
	return f(port, baud)
}

// ValidateBaud checks baud against SupportedBaudRates.
func ValidateBaud(baud int) error {
	if !slices.Contains(SupportedBaudRates, baud) {
		return fmt.Errorf("%w: %d", ErrInvalidBaud, baud)
	}
	return nil
}

// SerialOpener opens links on local serial ports using 8N1 framing.
type SerialOpener struct {
	ReadTimeout time.Duration // Per-read timeout, DefaultReadTimeout if zero
}

// Open opens port at the given baud rate. All failures are reported as *OpenError.
func (o SerialOpener) Open(port string, baud int) (Link, error) {
	if port == "" {
		return nil, &OpenError{Port: port, Baud: baud, Err: errors.New("no port specified")}
	}
	if err := ValidateBaud(baud); err != nil {
		return nil, &OpenError{Port: port, Baud: baud, Err: err}
	}

	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, &OpenError{Port: port, Baud: baud, Err: err}
	}

	timeout := o.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	if err = p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, &OpenError{Port: port, Baud: baud, Err: fmt.Errorf("setting read timeout: %w", err)}
	}

	return p, nil
}
