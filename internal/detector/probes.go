// internal/detector/probes.go
// Active probes used when the passive read yields nothing

package detector

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// ErrConnUnusable means the probe could not use the connection at all
var ErrConnUnusable = errors.New("connection unusable")

// Dialer opens outbound TCP connections
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// HTTPProbe sends a minimal HTTP/1.0 GET and classifies the response.
// A nil error with an empty banner means the peer stayed silent or answered
// with something unclassifiable; ErrConnUnusable means a fresh connection may help.
func HTTPProbe(conn net.Conn, host string, bufSize int, timeout time.Duration) (string, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrConnUnusable, err)
	}

	req := "GET / HTTP/1.0\r\nHost: " + host + "\r\n\r\n"
	if _, err := io.WriteString(conn, req); err != nil {
		return "", fmt.Errorf("%w: write: %v", ErrConnUnusable, err)
	}

	buf := make([]byte, bufSize)
	n, err := readHead(conn, buf)
	if n == 0 {
		if err != nil && !IsTimeout(err) {
			return "", fmt.Errorf("%w: read: %v", ErrConnUnusable, err)
		}
		return "", nil
	}
	return Classify(buf[:n]), nil
}

var headerEnd = []byte("\r\n\r\n")

// readHead reads until the header terminator, a full buffer, EOF or the deadline
func readHead(conn net.Conn, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := conn.Read(buf[n:])
		n += m
		if bytes.Contains(buf[:n], headerEnd) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// IsTimeout reports whether err is a deadline expiry
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// SMB negotiation labels
const (
	SMBv1Label = "SMB Negotiation Confirmed (SMBv1)"
	SMBv2Label = "SMB Negotiation Confirmed (SMB2+)"
)

var (
	smbV1Magic = []byte{0xFF, 'S', 'M', 'B'}
	smbV2Magic = []byte{0xFE, 'S', 'M', 'B'}
)

// smbDialects offered in the negotiate request
var smbDialects = []string{
	"PC NETWORK PROGRAM 1.0",
	"MICROSOFT NETWORKS 1.03",
	"MICROSOFT NETWORKS 3.0",
	"LANMAN1.0",
	"NT LM 0.12",
	"SMB 2.002",
	"SMB 2.???",
}

// smbNegotiateRequest is the NetBIOS-framed SMB_COM_NEGOTIATE packet
var smbNegotiateRequest = buildSMBNegotiate()

func buildSMBNegotiate() []byte {
	var body bytes.Buffer
	for _, d := range smbDialects {
		body.WriteByte(0x02) // buffer format: dialect string
		body.WriteString(d)
		body.WriteByte(0x00)
	}

	var smb bytes.Buffer
	smb.Write(smbV1Magic)
	smb.WriteByte(0x72)              // SMB_COM_NEGOTIATE
	smb.Write([]byte{0, 0, 0, 0})    // status
	smb.WriteByte(0x18)              // flags: canonical paths, case insensitive
	smb.Write([]byte{0x01, 0x28})    // flags2
	smb.Write(make([]byte, 2+8+2))   // PID high, security features, reserved
	smb.Write(make([]byte, 2+2+2+2)) // TID, PID low, UID, MID
	smb.WriteByte(0x00)              // word count
	_ = binary.Write(&smb, binary.LittleEndian, uint16(body.Len()))
	smb.Write(body.Bytes())

	// NetBIOS session message header: type 0, 24-bit length
	packet := make([]byte, 4, 4+smb.Len())
	size := uint32(smb.Len())
	packet[1] = byte(size >> 16)
	packet[2] = byte(size >> 8)
	packet[3] = byte(size)
	return append(packet, smb.Bytes()...)
}

// SMBNegotiate opens its own connection, sends an SMB negotiate request and
// confirms the reply by its protocol magic at offset 4. It returns "" when the
// peer does not answer like an SMB server.
func SMBNegotiate(ctx context.Context, d Dialer, address string, bufSize int, timeout time.Duration) string {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return ""
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return ""
	}
	if _, err := conn.Write(smbNegotiateRequest); err != nil {
		return ""
	}

	buf := make([]byte, bufSize)
	n, _ := io.ReadAtLeast(conn, buf, 8)
	return ClassifySMBReply(buf[:n])
}

// ClassifySMBReply inspects a negotiate reply
func ClassifySMBReply(buf []byte) string {
	if len(buf) < 8 {
		return ""
	}
	switch {
	case bytes.Equal(buf[4:8], smbV1Magic):
		return SMBv1Label
	case bytes.Equal(buf[4:8], smbV2Magic):
		return SMBv2Label
	default:
		return ""
	}
}
