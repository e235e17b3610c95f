package pushsource

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nguyen15idhue/ntrip-caster/internal/hub"
	"github.com/Nguyen15idhue/ntrip-caster/internal/sourceslot"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func pipePair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-acceptCh
	return server, client
}

func TestAcceptor_CorrectPassword_PublishesToHub(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	var slot sourceslot.Slot
	require.True(t, slot.TryAcquire())
	h := hub.New(100)
	cur := h.Subscribe()

	client.Write([]byte("SOURCE secret /BASE1 HTTP/1.1\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(server, "secret", &slot, h, testLogger())
		close(done)
	}()

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ICY 200 OK\r\n", line)

	client.Write([]byte("RTCMDATA"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, chunk := h.Next(ctx, cur)
	require.Equal(t, hub.Chunk, res)
	assert.Equal(t, "RTCMDATA", string(chunk))

	client.Close()
	<-done
	assert.False(t, slot.Occupied())
}

// TestAcceptor_Attach_DrainsStaleChunks proves the push-mode half of the
// Open Question decision in DESIGN.md: a subscriber left holding unread
// chunks from before a SOURCE attach must be dropped rather than receive
// them, since Handle calls Hub.Reset before admitting the new source.
func TestAcceptor_Attach_DrainsStaleChunks(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	var slot sourceslot.Slot
	require.True(t, slot.TryAcquire())
	h := hub.New(100)

	cur := h.Subscribe()
	h.Publish([]byte("STALE"))

	client.Write([]byte("SOURCE secret /BASE1 HTTP/1.1\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(server, "secret", &slot, h, testLogger())
		close(done)
	}()

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ICY 200 OK\r\n", line)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, _ := h.Next(ctx, cur)
	assert.Equal(t, hub.Dropped, res, "a pre-attach subscriber must never see a prior session's stale chunk")

	client.Close()
	<-done
}

func TestAcceptor_WrongPassword_RejectsAndReleasesSlot(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	var slot sourceslot.Slot
	require.True(t, slot.TryAcquire())
	h := hub.New(100)

	client.Write([]byte("SOURCE wrong /BASE1 HTTP/1.1\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(server, "secret", &slot, h, testLogger())
		close(done)
	}()

	buf := make([]byte, 256)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "401 Unauthorized")
	assert.Contains(t, string(buf[:n]), "Bad Password")

	<-done
	assert.False(t, slot.Occupied())
}
