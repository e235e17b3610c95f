// Package rover implements the per-rover connection state machine:
// parse the HTTP-like request, authenticate against the configured
// account list, respond, then pump Hub chunks to the socket until
// either side closes, per spec.md §4.4.
package rover

import (
	"context"
	"encoding/base64"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Nguyen15idhue/ntrip-caster/internal/config"
	"github.com/Nguyen15idhue/ntrip-caster/internal/hub"
	"github.com/Nguyen15idhue/ntrip-caster/internal/ntripproto"
)

const (
	requestReadDeadline = 10 * time.Second
	pumpDeadline        = 15 * time.Second
	requestBytes        = 2048
)

// Handle runs the Rover Handler protocol over conn until the rover
// disconnects, its cursor is dropped for lagging, or ctx is cancelled
// by the Supervisor on shutdown.
func Handle(ctx context.Context, conn net.Conn, mountpoint string, accounts []config.Account, h *hub.Hub, log logrus.FieldLogger) {
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(requestReadDeadline)); err != nil {
		log.WithError(err).Warn("rover: set request deadline")
		return
	}

	buf := make([]byte, requestBytes)
	n, err := conn.Read(buf)
	if err != nil && n == 0 {
		log.WithError(err).Warn("rover: read request")
		return
	}
	req := string(buf[:n])

	_, path, ok := parseRequestLine(req)
	if !ok {
		conn.Write([]byte(ntripproto.RespUnauthorizedV1))
		return
	}

	if path != "/"+mountpoint {
		conn.Write([]byte(ntripproto.RespNotFoundV1))
		return
	}

	user, pass, ok := parseBasicAuth(req)
	if !ok || !authorized(accounts, user, pass) {
		log.Warn("rover: authentication failed")
		conn.Write([]byte(ntripproto.RespUnauthorizedV1))
		return
	}

	if _, err := conn.Write([]byte(ntripproto.RespOK)); err != nil {
		log.WithError(err).Warn("rover: write handshake ok")
		return
	}

	cursor := h.Subscribe()
	defer h.Unsubscribe(cursor)

	log.Info("rover subscribed")
	pump(ctx, conn, h, cursor, log)
}

func pump(ctx context.Context, conn net.Conn, h *hub.Hub, cursor uint64, log logrus.FieldLogger) {
	for {
		if ctx.Err() != nil {
			return
		}

		waitCtx, cancel := context.WithTimeout(ctx, pumpDeadline)
		res, chunk := h.Next(waitCtx, cursor)
		cancel()

		switch res {
		case hub.Chunk:
			if _, err := conn.Write(chunk); err != nil {
				log.WithError(err).Info("rover: write failed, disconnecting")
				return
			}
		case hub.Timeout:
			// Stay attached through source outages.
			continue
		case hub.Dropped:
			log.Info("rover dropped: slow consumer")
			return
		}
	}
}

// parseRequestLine splits the first CRLF-terminated line of req into
// its method and path tokens.
func parseRequestLine(req string) (method, path string, ok bool) {
	line := req
	if i := strings.IndexByte(line, '\r'); i >= 0 {
		line = line[:i]
	} else if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", false
	}
	return fields[0], fields[1], true
}

// parseBasicAuth locates a header named authorization (case-insensitive)
// carrying a Basic-scheme credential and decodes it into (user, pass).
func parseBasicAuth(req string) (user, pass string, ok bool) {
	lines := strings.Split(req, "\r\n")
	for _, line := range lines {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if !strings.EqualFold(name, "authorization") {
			continue
		}
		value := strings.TrimSpace(line[colon+1:])
		fields := strings.Fields(value)
		if len(fields) != 2 || !strings.EqualFold(fields[0], "Basic") {
			return "", "", false
		}
		decoded, err := base64.StdEncoding.DecodeString(fields[1])
		if err != nil {
			return "", "", false
		}
		parts := strings.SplitN(string(decoded), ":", 2)
		if len(parts) != 2 {
			return "", "", false
		}
		return parts[0], parts[1], true
	}
	return "", "", false
}

func authorized(accounts []config.Account, user, pass string) bool {
	for _, a := range accounts {
		if a.Username == user && a.Password == pass {
			return true
		}
	}
	return false
}
