// framing.go — Fixed-endian binary framing over a duplex byte stream.
//
// Strings are length-prefixed (i32, big-endian) followed by UTF-8 bytes;
// a negative length means null. Byte arrays are length-prefixed (i32).
// A RID is (i16 clusterId, N-byte clusterPosition) where N is fixed by
// the cluster-position factory configured for the connection.
package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// StatusOK and StatusError are the two response status bytes.
const (
	StatusOK    byte = 0
	StatusError byte = 1
)

// DefaultPositionWidth is the byte width of a ClusterPosition when the
// connection does not negotiate a different cluster-position factory.
const DefaultPositionWidth = 8

// Conn wraps a duplex byte stream with the primitive readers and writers
// named in the protocol, plus the single-writer-at-a-time discipline: at
// most one goroutine may be composing a response on a channel, enforced
// by AcquireWriteLock/ReleaseWriteLock. Reads are expected to happen on
// a single goroutine per connection; Conn does not guard reads.
type Conn struct {
	r   *bufio.Reader
	w   *bufio.Writer
	rw  io.ReadWriter
	pos int

	writeMu sync.Mutex
}

// NewConn wraps rw for framed reads and writes. posWidth is the fixed
// byte width of a ClusterPosition for this connection; pass
// DefaultPositionWidth when the storage collaborator hasn't negotiated
// a different cluster-position factory.
func NewConn(rw io.ReadWriter, posWidth int) *Conn {
	return &Conn{
		r:   bufio.NewReader(rw),
		w:   bufio.NewWriter(rw),
		rw:  rw,
		pos: posWidth,
	}
}

// PositionWidth returns the configured ClusterPosition byte width.
func (c *Conn) PositionWidth() int { return c.pos }

// AcquireWriteLock blocks until the caller is the sole writer permitted
// to compose a response on this channel.
func (c *Conn) AcquireWriteLock() { c.writeMu.Lock() }

// ReleaseWriteLock releases the writer lock acquired by AcquireWriteLock.
func (c *Conn) ReleaseWriteLock() { c.writeMu.Unlock() }

// --- readers ---

func (c *Conn) ReadByte() (byte, error) {
	return c.r.ReadByte()
}

func (c *Conn) ReadShort() (int16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, fmt.Errorf("read short: %w", err)
	}
	return int16(binary.BigEndian.Uint16(buf[:])), nil
}

func (c *Conn) ReadInt() (int32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, fmt.Errorf("read int: %w", err)
	}
	return int32(binary.BigEndian.Uint32(buf[:])), nil
}

func (c *Conn) ReadLong() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c.r, buf[:]); err != nil {
		return 0, fmt.Errorf("read long: %w", err)
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// ReadBytes reads an i32-length-prefixed byte array. A negative length
// prefix yields (nil, nil): the wire null.
func (c *Conn) ReadBytes() ([]byte, error) {
	n, err := c.ReadInt()
	if err != nil {
		return nil, fmt.Errorf("read bytes length: %w", err)
	}
	if n < 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("read bytes body: %w", err)
	}
	return buf, nil
}

// ReadString reads an i32-length-prefixed UTF-8 string. A negative
// length prefix yields ("", nil): the wire null, indistinguishable here
// from empty — callers that must tell the two apart should use
// ReadNullableString.
func (c *Conn) ReadString() (string, error) {
	s, err := c.ReadNullableString()
	if err != nil {
		return "", err
	}
	if s == nil {
		return "", nil
	}
	return *s, nil
}

// ReadNullableString reads an i32-length-prefixed UTF-8 string,
// returning nil for the wire null (negative length prefix).
func (c *Conn) ReadNullableString() (*string, error) {
	raw, err := c.ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("read string: %w", err)
	}
	if raw == nil {
		return nil, nil
	}
	s := string(raw)
	return &s, nil
}

// ReadClusterPosition reads the fixed-width opaque position bytes for
// this connection's configured PositionWidth.
func (c *Conn) ReadClusterPosition() ([]byte, error) {
	buf := make([]byte, c.pos)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, fmt.Errorf("read cluster position: %w", err)
	}
	return buf, nil
}

// ReadRID reads (i16 clusterId, N-byte clusterPosition).
func (c *Conn) ReadRID() (RID, error) {
	clusterID, err := c.ReadShort()
	if err != nil {
		return RID{}, fmt.Errorf("read rid cluster id: %w", err)
	}
	position, err := c.ReadClusterPosition()
	if err != nil {
		return RID{}, fmt.Errorf("read rid position: %w", err)
	}
	return RID{ClusterID: clusterID, ClusterPosition: position}, nil
}

// ReadVersion reads a RecordVersion: a one-byte VersionKind tag followed
// by a uint64 counter for Tracked and Tombstone kinds.
func (c *Conn) ReadVersion() (RecordVersion, error) {
	kindByte, err := c.ReadByte()
	if err != nil {
		return RecordVersion{}, fmt.Errorf("read version kind: %w", err)
	}
	kind := VersionKind(kindByte)
	if kind == VersionUntracked {
		return Untracked(), nil
	}
	counter, err := c.ReadLong()
	if err != nil {
		return RecordVersion{}, fmt.Errorf("read version counter: %w", err)
	}
	return RecordVersion{Kind: kind, Counter: uint64(counter)}, nil
}

// --- writers ---

func (c *Conn) WriteByte(b byte) error {
	return c.w.WriteByte(b)
}

func (c *Conn) WriteShort(v int16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	_, err := c.w.Write(buf[:])
	return err
}

func (c *Conn) WriteInt(v int32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	_, err := c.w.Write(buf[:])
	return err
}

func (c *Conn) WriteLong(v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := c.w.Write(buf[:])
	return err
}

// WriteBytes writes an i32-length-prefixed byte array. A nil slice is
// written as a -1 length prefix (the wire null) with no body.
func (c *Conn) WriteBytes(b []byte) error {
	if b == nil {
		return c.WriteInt(-1)
	}
	if err := c.WriteInt(int32(len(b))); err != nil {
		return err
	}
	_, err := c.w.Write(b)
	return err
}

// WriteString writes an i32-length-prefixed UTF-8 string.
func (c *Conn) WriteString(s string) error {
	return c.WriteBytes([]byte(s))
}

// WriteNullableString writes the wire null (-1 length) when s is nil,
// otherwise the string's bytes length-prefixed.
func (c *Conn) WriteNullableString(s *string) error {
	if s == nil {
		return c.WriteInt(-1)
	}
	return c.WriteString(*s)
}

// WriteClusterPosition writes exactly PositionWidth bytes, zero-padding
// or truncating a mismatched input length rather than failing — callers
// are expected to have already validated widths at allocation time.
func (c *Conn) WriteClusterPosition(position []byte) error {
	buf := make([]byte, c.pos)
	copy(buf, position)
	_, err := c.w.Write(buf)
	return err
}

// WriteRID writes (i16 clusterId, N-byte clusterPosition).
func (c *Conn) WriteRID(rid RID) error {
	if err := c.WriteShort(rid.ClusterID); err != nil {
		return fmt.Errorf("write rid cluster id: %w", err)
	}
	return c.WriteClusterPosition(rid.ClusterPosition)
}

// WriteVersion writes a RecordVersion: a one-byte VersionKind tag
// followed by a uint64 counter for Tracked and Tombstone kinds.
func (c *Conn) WriteVersion(v RecordVersion) error {
	if err := c.WriteByte(byte(v.Kind)); err != nil {
		return fmt.Errorf("write version kind: %w", err)
	}
	if v.Kind == VersionUntracked {
		return nil
	}
	return c.WriteLong(int64(v.Counter))
}

// Flush flushes buffered writes to the underlying stream. Callers must
// hold the write lock while a response is being composed and call Flush
// before releasing it.
func (c *Conn) Flush() error {
	return c.w.Flush()
}
