// Package upstream implements the pull-mode Upstream Client: it connects
// to a remote caster, performs the NTRIP GET handshake, optionally
// emits periodic GGA keep-alives, and forwards every received byte to
// the Hub, reconnecting on any failure with a fixed backoff. Grounded on
// the connect/handshake/stream/reconnect loop shape in
// other_examples/vinq1911-nonchalant's PullTask, adapted from an
// RTMP republisher to the NTRIP GET protocol in spec.md §4.2.
package upstream

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Nguyen15idhue/ntrip-caster/internal/config"
	"github.com/Nguyen15idhue/ntrip-caster/internal/gga"
	"github.com/Nguyen15idhue/ntrip-caster/internal/hub"
)

const (
	connectHandshakeDeadline = 10 * time.Second
	streamReadDeadline       = 15 * time.Second
	socketErrorBackoff       = 5 * time.Second
	handshakeFailureBackoff  = 10 * time.Second
	handshakeReadBytes       = 2048
	readBufferSize           = 4096
	userAgent                = "NTRIP ntrip-caster/1.0"
)

// Client runs the pull-mode upstream connection for one station.
type Client struct {
	cfg config.PullConfig
	hub *hub.Hub
	log logrus.FieldLogger

	dial func(network, address string, timeout time.Duration) (net.Conn, error)

	// errBackoff/handshakeBackoff default to the package constants;
	// tests override them directly to shorten reconnect cycles.
	errBackoff       time.Duration
	handshakeBackoff time.Duration
}

// New builds an Upstream Client publishing into hub.
func New(cfg config.PullConfig, h *hub.Hub, log logrus.FieldLogger) *Client {
	return &Client{
		cfg:              cfg,
		hub:              h,
		log:              log,
		dial:             net.DialTimeout,
		errBackoff:       socketErrorBackoff,
		handshakeBackoff: handshakeFailureBackoff,
	}
}

// Run drives the connect/handshake/stream/backoff loop until ctx is
// cancelled. It never returns an error: every failure is logged and
// retried per spec.md §4.2's fixed-backoff policy.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		backoff, err := c.safeAttempt(ctx)
		if err == nil {
			// attempt only returns nil on ctx cancellation.
			return
		}
		c.log.WithError(err).Warn("upstream session ended, backing off")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// safeAttempt runs attempt behind a panic guard: an unrecovered panic in a
// goroutine crashes the whole process, which would take the rest of the
// station's rovers down with it. A recovered attempt is treated as an
// ordinary failed cycle, isolated and retried under the normal backoff,
// per spec.md §7.
func (c *Client) safeAttempt(ctx context.Context) (backoff time.Duration, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Error("upstream attempt panicked, recovering")
			backoff = c.errBackoff
			err = fmt.Errorf("recovered panic: %v", r)
		}
	}()
	return c.attempt(ctx)
}

// attempt runs one connect-handshake-stream cycle. It returns the
// backoff duration to use before the next attempt, and a non-nil error
// describing why the cycle ended (nil only when ctx was cancelled).
func (c *Client) attempt(ctx context.Context) (time.Duration, error) {
	addr := fmt.Sprintf("%s:%d", c.cfg.RemoteHost, c.cfg.RemotePort)

	conn, err := c.dial("tcp", addr, connectHandshakeDeadline)
	if err != nil {
		return c.errBackoff, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(connectHandshakeDeadline)); err != nil {
		return c.errBackoff, fmt.Errorf("set handshake deadline: %w", err)
	}

	if _, err := conn.Write([]byte(c.handshakeRequest())); err != nil {
		return c.errBackoff, fmt.Errorf("send handshake: %w", err)
	}

	buf := make([]byte, handshakeReadBytes)
	n, err := conn.Read(buf)
	if err != nil {
		return c.errBackoff, fmt.Errorf("read handshake response: %w", err)
	}
	resp := string(buf[:n])
	if !strings.Contains(resp, "ICY 200 OK") && !strings.Contains(resp, "HTTP/1.1 200 OK") {
		return c.handshakeBackoff, fmt.Errorf("handshake rejected: %q", firstLine(resp))
	}

	// The handshake deadline covers connect and handshake only; stream
	// sets its own read deadlines, and GGA writes must not inherit it.
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return c.errBackoff, fmt.Errorf("clear handshake deadline: %w", err)
	}

	// Bytes that arrived in the same read as the response header are
	// already stream data.
	if i := strings.Index(resp, "\r\n\r\n"); i >= 0 && i+4 < n {
		chunk := make([]byte, n-(i+4))
		copy(chunk, buf[i+4:n])
		c.hub.Publish(chunk)
	}

	c.log.WithField("remote", addr).Info("upstream handshake succeeded, streaming")
	return c.stream(ctx, conn)
}

// stream forwards received bytes to the Hub and emits periodic GGA
// sentences until the connection closes, errors, or ctx is cancelled.
//
// The read deadline each pass is the earlier of the inactivity deadline
// (streamReadDeadline since the last byte actually received) and the next
// GGA send time: a quiet RTCM feed must not starve the keep-alive cadence,
// since a remote caster may depend on it to keep the session authorized.
// A read that times out only because a GGA send was due is not treated as
// a dead connection; one that times out with no GGA pending, or that has
// gone streamReadDeadline since the last byte regardless of why the read
// returned, is.
func (c *Client) stream(ctx context.Context, conn net.Conn) (time.Duration, error) {
	ggaInterval := time.Duration(c.cfg.GGAIntervalSecs) * time.Second
	ggaEnabled := c.cfg.GGAIntervalSecs > 0

	var lastGGA time.Time
	if ggaEnabled {
		if err := c.sendGGA(conn); err != nil {
			return c.errBackoff, fmt.Errorf("send initial gga: %w", err)
		}
		lastGGA = time.Now()
	}

	lastActivity := time.Now()
	buf := make([]byte, readBufferSize)
	for {
		if ctx.Err() != nil {
			return 0, nil
		}

		readDeadline := lastActivity.Add(streamReadDeadline)
		if ggaEnabled {
			if ggaDeadline := lastGGA.Add(ggaInterval); ggaDeadline.Before(readDeadline) {
				readDeadline = ggaDeadline
			}
		}
		if err := conn.SetReadDeadline(readDeadline); err != nil {
			return c.errBackoff, fmt.Errorf("set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.hub.Publish(chunk)
			lastActivity = time.Now()
		}

		switch {
		case err == nil && n == 0:
			return c.errBackoff, fmt.Errorf("upstream closed connection")
		case err != nil:
			if !isTimeout(err) || time.Since(lastActivity) >= streamReadDeadline {
				return c.errBackoff, fmt.Errorf("upstream read: %w", err)
			}
			// The deadline fired only to let a due GGA keep-alive out.
		}

		if ggaEnabled && !time.Now().Before(lastGGA.Add(ggaInterval)) {
			if err := c.sendGGA(conn); err != nil {
				return c.errBackoff, fmt.Errorf("send gga: %w", err)
			}
			lastGGA = time.Now()
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func (c *Client) sendGGA(conn net.Conn) error {
	sentence := gga.Build(c.cfg.GGALat, c.cfg.GGALon, time.Now())
	_, err := conn.Write([]byte(sentence))
	return err
}

func (c *Client) handshakeRequest() string {
	var b strings.Builder
	fmt.Fprintf(&b, "GET /%s HTTP/1.1\r\n", c.cfg.RemoteMountpoint)
	fmt.Fprintf(&b, "Host: %s\r\n", c.cfg.RemoteHost)
	b.WriteString("Ntrip-Version: Ntrip/2.0\r\n")
	fmt.Fprintf(&b, "User-Agent: %s\r\n", userAgent)
	if c.cfg.Username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(c.cfg.Username + ":" + c.cfg.Password))
		fmt.Fprintf(&b, "Authorization: Basic %s\r\n", auth)
	}
	b.WriteString("Connection: keep-alive\r\n\r\n")
	return b.String()
}

func firstLine(s string) string {
	r := bufio.NewScanner(strings.NewReader(s))
	if r.Scan() {
		return r.Text()
	}
	return s
}
