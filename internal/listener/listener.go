// Package listener implements the Listener / Dispatcher: one TCP accept
// loop that peeks the first bytes of each new connection and routes it
// to the sourcetable responder, the Source Acceptor, or the Rover
// Handler, per spec.md §4.5.
package listener

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Nguyen15idhue/ntrip-caster/internal/config"
	"github.com/Nguyen15idhue/ntrip-caster/internal/hub"
	"github.com/Nguyen15idhue/ntrip-caster/internal/ntripproto"
	"github.com/Nguyen15idhue/ntrip-caster/internal/pushsource"
	"github.com/Nguyen15idhue/ntrip-caster/internal/rover"
	"github.com/Nguyen15idhue/ntrip-caster/internal/sourceslot"
	"github.com/Nguyen15idhue/ntrip-caster/internal/sourcetable"
)

const acceptPollInterval = 1 * time.Second

// Listener binds one host:port and dispatches accepted connections to
// the three peer handlers, or to the sourcetable responder.
type Listener struct {
	station  *config.Station
	accounts []config.Account
	hub      *hub.Hub
	slot     *sourceslot.Slot // nil unless station.Mode == config.ModePush
	log      logrus.FieldLogger

	sourcetableBody string

	roster *Roster
}

// New builds a Listener for one station. sourcetableBody is the
// rendered sourcetable response body (see internal/sourcetable).
func New(station *config.Station, accounts []config.Account, h *hub.Hub, slot *sourceslot.Slot, sourcetableBody string, log logrus.FieldLogger) *Listener {
	return &Listener{
		station:         station,
		accounts:        accounts,
		hub:             h,
		slot:            slot,
		sourcetableBody: sourcetableBody,
		log:             log,
		roster:          NewRoster(),
	}
}

// Roster returns the live-handler roster, for the Supervisor's shutdown
// pass.
func (l *Listener) Roster() *Roster {
	return l.roster
}

// Run binds the configured address and accepts connections until ctx is
// cancelled. It returns only after the listening socket is closed.
func (l *Listener) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", l.station.ListenHost, l.station.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	l.log.WithField("addr", addr).Info("listener bound")

	for {
		tcpLn, ok := ln.(*net.TCPListener)
		var conn net.Conn
		if ok {
			tcpLn.SetDeadline(time.Now().Add(acceptPollInterval))
			conn, err = tcpLn.Accept()
		} else {
			conn, err = ln.Accept()
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			l.log.WithError(err).Warn("accept error")
			continue
		}

		go l.dispatch(ctx, conn)
	}
}

// dispatch runs entirely in its own goroutine (see Run), so an unrecovered
// panic here would otherwise crash the whole process, taking down every
// other rover and the source with it. The recover isolates the failure to
// this one connection, per spec.md §7.
func (l *Listener) dispatch(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("handler panicked, connection isolated")
			conn.Close()
		}
	}()

	conn.SetReadDeadline(time.Now().Add(acceptPollInterval))
	peekBuf := make([]byte, ntripproto.DispatchPeekBytes)
	n, err := conn.Read(peekBuf)
	conn.SetReadDeadline(time.Time{})
	if err != nil && n == 0 {
		conn.Close()
		return
	}
	prefix := peekBuf[:n]
	pc := ntripproto.NewPeekedConn(conn, prefix)

	connLog := l.log.WithFields(logrus.Fields{
		"conn_id":     uuid.New().String(),
		"remote_addr": conn.RemoteAddr(),
	})

	switch {
	case strings.HasPrefix(string(prefix), ntripproto.SourcetableRootPath):
		l.handleSourcetable(pc)

	case l.station.Mode == config.ModePush && strings.HasPrefix(string(prefix), ntripproto.SourceMethodPrefix):
		if !l.slot.TryAcquire() {
			pc.Write([]byte(ntripproto.RespConflict))
			pc.Close()
			return
		}
		entry := l.roster.Add(pc)
		defer l.roster.Remove(entry)
		pushsource.Handle(pc, l.station.Push.SourcePassword, l.slot, l.hub, connLog.WithField("role", "source"))

	default:
		entry := l.roster.Add(pc)
		defer l.roster.Remove(entry)
		rover.Handle(ctx, pc, l.station.Mountpoint, l.accounts, l.hub, connLog.WithField("role", "rover"))
	}
}

func (l *Listener) handleSourcetable(conn net.Conn) {
	defer conn.Close()
	conn.Write([]byte(sourcetable.Response(l.sourcetableBody)))
}

// Roster tracks live handler connections so the Supervisor can close
// them on shutdown. A single mutex is sufficient, per spec.md §5(iii).
type Roster struct {
	mu      sync.Mutex
	entries map[*rosterEntry]struct{}
}

type rosterEntry struct {
	conn net.Conn
}

// NewRoster builds an empty Roster.
func NewRoster() *Roster {
	return &Roster{entries: make(map[*rosterEntry]struct{})}
}

// Add registers conn and returns its roster entry for later removal.
func (r *Roster) Add(conn net.Conn) *rosterEntry {
	e := &rosterEntry{conn: conn}
	r.mu.Lock()
	r.entries[e] = struct{}{}
	r.mu.Unlock()
	return e
}

// Remove unregisters an entry previously returned by Add. Safe to call
// once the handler has already finished.
func (r *Roster) Remove(e *rosterEntry) {
	r.mu.Lock()
	delete(r.entries, e)
	r.mu.Unlock()
}

// CloseAll closes every live handler's socket, per the Supervisor's
// shutdown contract in spec.md §4.6. Closing the socket is the
// authoritative unblock mechanism; CloseAll does not wait for the
// handler goroutine itself to exit.
func (r *Roster) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := range r.entries {
		e.conn.Close()
	}
}

// Len reports the number of live handlers, for diagnostics.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
