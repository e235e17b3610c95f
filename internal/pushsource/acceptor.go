// Package pushsource implements the push-mode Source Acceptor: the
// handler spawned by the Listener for an inbound SOURCE connection,
// grounded on the reconnect-and-forward shape of
// other_examples/vinq1911-nonchalant's PushTask, adapted to the
// NTRIP legacy SOURCE handshake in spec.md §4.3.
package pushsource

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Nguyen15idhue/ntrip-caster/internal/hub"
	"github.com/Nguyen15idhue/ntrip-caster/internal/ntripproto"
	"github.com/Nguyen15idhue/ntrip-caster/internal/sourceslot"
)

const (
	handshakeDeadline = 10 * time.Second
	streamDeadline    = 30 * time.Second
	handshakeBytes    = 2048
	readBufferSize    = 4096
)

// Handle runs the Source Acceptor protocol over conn, whose first
// bytes (the SOURCE request line) are already available to read via
// conn (typically an *ntripproto.PeekedConn). slot must already be
// Occupied by the Listener before Handle is called; Handle releases it
// unconditionally on return.
func Handle(conn net.Conn, password string, slot *sourceslot.Slot, h *hub.Hub, log logrus.FieldLogger) {
	defer slot.Release()
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(handshakeDeadline)); err != nil {
		log.WithError(err).Warn("push source: set handshake deadline")
		return
	}

	buf := make([]byte, handshakeBytes)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		log.WithError(err).Warn("push source: read handshake")
		return
	}
	req := string(buf[:n])

	fields := strings.Fields(firstLine(req))
	if len(fields) == 0 || fields[0] != "SOURCE" {
		conn.Write([]byte(ntripproto.RespMalformedUse))
		return
	}
	if len(fields) < 2 {
		conn.Write([]byte(ntripproto.RespMalformedSrc))
		return
	}
	given := fields[1]

	if given != password {
		log.Warn("push source: bad password")
		conn.Write([]byte(ntripproto.RespBadPassword))
		return
	}

	// A freshly attached source drains any stale chunks, before the source
	// is told it may start streaming, so chunks from a prior session are
	// never delivered once this one begins.
	h.Reset()

	if _, err := conn.Write([]byte(ntripproto.RespOK)); err != nil {
		log.WithError(err).Warn("push source: write handshake ok")
		return
	}

	log.Info("push source attached")
	if err := stream(conn, h); err != nil {
		log.WithError(err).Info("push source detached")
	} else {
		log.Info("push source detached")
	}
}

func stream(conn net.Conn, h *hub.Hub) error {
	buf := make([]byte, readBufferSize)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamDeadline)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.Publish(chunk)
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("source closed connection")
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\r'); i >= 0 {
		return s[:i]
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
