// response.go — Response envelope framing: status byte, correlation id,
// and the chained error frame used on failure.
package wire

import "fmt"

// FrameError is one link in the exception chain a failed request's
// response carries: a class name and message, mirroring how the server
// reports a causal chain of exceptions to the client.
type FrameError struct {
	ClassName string
	Message   string
}

// WriteResponseHeader writes the status byte and correlation id that
// begin every response frame.
func (c *Conn) WriteResponseHeader(status byte, correlationID int32) error {
	if err := c.WriteByte(status); err != nil {
		return fmt.Errorf("write response status: %w", err)
	}
	if err := c.WriteInt(correlationID); err != nil {
		return fmt.Errorf("write response correlation id: %w", err)
	}
	return nil
}

// WriteErrorChain writes the chain of (1, class-name, message) pairs
// terminated by (0, …), and, when protocolVersion >= 19, a trailing
// serialized exception blob. Callers must have already written the
// StatusError response header.
func (c *Conn) WriteErrorChain(chain []FrameError, protocolVersion int, exceptionBlob []byte) error {
	for _, e := range chain {
		if err := c.WriteByte(1); err != nil {
			return fmt.Errorf("write error chain marker: %w", err)
		}
		if err := c.WriteString(e.ClassName); err != nil {
			return fmt.Errorf("write error class name: %w", err)
		}
		if err := c.WriteString(e.Message); err != nil {
			return fmt.Errorf("write error message: %w", err)
		}
	}
	if err := c.WriteByte(0); err != nil {
		return fmt.Errorf("write error chain terminator: %w", err)
	}
	if protocolVersion >= 19 {
		if err := c.WriteBytes(exceptionBlob); err != nil {
			return fmt.Errorf("write exception blob: %w", err)
		}
	}
	return nil
}

// ReadResponseHeader reads the status byte and correlation id written
// by WriteResponseHeader. Callers on the client side use the status
// byte to decide whether to read a success body or hand off to
// ReadErrorChain.
func (c *Conn) ReadResponseHeader() (status byte, correlationID int32, err error) {
	status, err = c.ReadByte()
	if err != nil {
		return 0, 0, fmt.Errorf("read response status: %w", err)
	}
	correlationID, err = c.ReadInt()
	if err != nil {
		return 0, 0, fmt.Errorf("read response correlation id: %w", err)
	}
	return status, correlationID, nil
}

// ReadErrorChain reads the chain written by WriteErrorChain, returning
// the links and, when protocolVersion >= 19, the trailing exception
// blob.
func (c *Conn) ReadErrorChain(protocolVersion int) ([]FrameError, []byte, error) {
	var chain []FrameError
	for {
		marker, err := c.ReadByte()
		if err != nil {
			return nil, nil, fmt.Errorf("read error chain marker: %w", err)
		}
		if marker == 0 {
			break
		}
		className, err := c.ReadString()
		if err != nil {
			return nil, nil, fmt.Errorf("read error class name: %w", err)
		}
		message, err := c.ReadString()
		if err != nil {
			return nil, nil, fmt.Errorf("read error message: %w", err)
		}
		chain = append(chain, FrameError{ClassName: className, Message: message})
	}

	var blob []byte
	if protocolVersion >= 19 {
		blob, err := c.ReadBytes()
		if err != nil {
			return chain, nil, fmt.Errorf("read exception blob: %w", err)
		}
		return chain, blob, nil
	}
	return chain, blob, nil
}
