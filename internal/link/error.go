package link

import "fmt"

// OpenError reports a failure to open a link: the device is absent, access
// was denied or the requested baud rate is unsupported.
type OpenError struct {
	Port string
	Baud int
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("opening %s at %d baud: %v", e.Port, e.Baud, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// ReadError reports an I/O failure on a link that was open, typically the
// device being unplugged.
type ReadError struct {
	Port string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("reading %s: %v", e.Port, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
