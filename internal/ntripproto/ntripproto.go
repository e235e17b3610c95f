// Package ntripproto holds the wire-level constants and framing helpers
// shared by the upstream client, source acceptor, rover handler, and
// listener: the literal byte strings of the NTRIP handshake responses, and
// a net.Conn wrapper that lets a dispatcher peek a connection's first
// bytes and hand them, unconsumed, to whichever handler it routes to.
package ntripproto

import (
	"bufio"
	"net"
	"time"
)

// Error is a sentinel wire-level error, mirroring the teacher's
// caster.Error string-constant pattern.
type Error string

func (e Error) Error() string { return string(e) }

// Sentinel errors naming the wire-level failure kinds. The protocol state
// machines in this module report these failures to the peer with the
// Resp* bytes below and do not return these values.
const (
	ErrNotAuthorized = Error("not authorized")
	ErrNotFound      = Error("not found")
	ErrMalformed     = Error("malformed request")
	ErrSourceBusy    = Error("source slot occupied")
)

// Literal handshake response bytes, bit-exact per spec.
const (
	RespOK             = "ICY 200 OK\r\n\r\n"
	RespUnauthorizedV1 = "HTTP/1.1 401 Unauthorized\r\n\r\n"
	RespNotFoundV1     = "HTTP/1.1 404 Not Found\r\n\r\n"
	RespConflict       = "HTTP/1.1 409 Conflict\r\n\r\nERROR - Caster already has a source\r\n"
	RespBadPassword    = "HTTP/1.1 401 Unauthorized\r\n\r\nERROR - Bad Password\r\n"
	RespMalformedUse   = "HTTP/1.1 400 Bad Request\r\n\r\nERROR - Use SOURCE method\r\n"
	RespMalformedSrc   = "HTTP/1.1 400 Bad Request\r\n\r\nERROR - Malformed SOURCE request"
)

// Read sizes and request prefixes fixed by the spec.
const (
	DispatchPeekBytes   = 1024
	HandshakeReadBytes  = 2048
	SourcetableRootPath = "GET / "
	SourceMethodPrefix  = "SOURCE "
)

// PeekedConn wraps a net.Conn whose first bytes have already been read
// into a buffer by the dispatcher. Reads are served from that buffer
// before falling through to the underlying socket, so a handler that
// re-parses the request sees exactly the bytes the dispatcher peeked.
//
// This is the portable alternative to MSG_PEEK called out in spec.md's
// design notes: the dispatcher reads up to DispatchPeekBytes once, and
// every handler treats the prefix buffer as the first bytes of its own
// read, never assuming the socket itself still holds them.
type PeekedConn struct {
	net.Conn
	prefix *bufio.Reader
}

// NewPeekedConn builds a PeekedConn serving prefix before conn's own bytes.
func NewPeekedConn(conn net.Conn, prefix []byte) *PeekedConn {
	r := bufio.NewReader(nil)
	r.Reset(&prefixThenConn{prefix: prefix, conn: conn})
	return &PeekedConn{Conn: conn, prefix: r}
}

func (p *PeekedConn) Read(b []byte) (int, error) {
	return p.prefix.Read(b)
}

// prefixThenConn is an io.Reader that serves prefix bytes, then reads
// from conn for everything after.
type prefixThenConn struct {
	prefix []byte
	conn   net.Conn
}

func (p *prefixThenConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.conn.Read(b)
}

// SetReadDeadline proxies to the underlying socket so handlers that call
// it through a PeekedConn behave exactly as if they held the raw conn.
func (p *PeekedConn) SetReadDeadline(t time.Time) error {
	return p.Conn.SetReadDeadline(t)
}
