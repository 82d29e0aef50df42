package transport

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// SerialTransport is the primary Transport implementation: a real
// serial/USB-CDC device opened exclusively for the lifetime of one
// connection.
type SerialTransport struct {
	path string
	port serial.Port
}

// Open opens path at baud with 8N1 framing (8 data bits, no parity, one
// stop bit). Parity is not configurable here, so the 8E1 framing of the
// STM32 UART bootloader is not available through Open.
func Open(path string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, newError(classifyOpenErr(err), "open "+path, err)
	}

	return &SerialTransport{path: path, port: port}, nil
}

func classifyOpenErr(err error) Kind {
	if portErr, ok := err.(*serial.PortError); ok {
		switch portErr.Code() {
		case serial.PortNotFound:
			return KindNotFound
		case serial.PortBusy:
			return KindBusy
		case serial.PermissionDenied:
			return KindPermissionDenied
		}
	}
	return KindIoError
}

func (t *SerialTransport) Read(buf []byte) (int, error) {
	n, err := t.port.Read(buf)
	if err != nil {
		if err == io.EOF {
			return n, newError(KindDisconnected, "read "+t.path, err)
		}
		return n, newError(KindIoError, "read "+t.path, err)
	}
	return n, nil
}

// Write retries until the full slice is drained, since spec §4.1 requires
// writes to be atomic per call even if the underlying driver only accepts
// partial chunks at a time.
func (t *SerialTransport) Write(buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := t.port.Write(buf[total:])
		total += n
		if err != nil {
			return total, newError(KindIoError, "write "+t.path, err)
		}
		if n == 0 {
			return total, newError(KindClosed, "write "+t.path, ErrClosed)
		}
	}
	return total, nil
}

func (t *SerialTransport) Drain() error {
	if err := t.port.Drain(); err != nil {
		return newError(KindIoError, "drain "+t.path, err)
	}
	return nil
}

func (t *SerialTransport) SetDtrRts(dtr, rts bool) error {
	if err := t.port.SetDTR(dtr); err != nil {
		return newError(KindIoError, "set dtr "+t.path, err)
	}
	if err := t.port.SetRTS(rts); err != nil {
		return newError(KindIoError, "set rts "+t.path, err)
	}
	return nil
}

func (t *SerialTransport) SendBreak(d time.Duration) error {
	if err := t.port.Break(d); err != nil {
		return newError(KindIoError, "send break "+t.path, err)
	}
	return nil
}

func (t *SerialTransport) Close() error {
	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return newError(KindIoError, "close "+t.path, err)
	}
	return nil
}
