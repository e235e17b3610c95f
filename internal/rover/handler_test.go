package rover

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nguyen15idhue/ntrip-caster/internal/config"
	"github.com/Nguyen15idhue/ntrip-caster/internal/hub"
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

func basicAuthHeader(user, pass string) string {
	return "Authorization: Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

var accounts = []config.Account{{Username: "rover1", Password: "secret1"}}

func TestHandler_ValidAuth_ReceivesPublishedChunk(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	h := hub.New(100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := "GET /BASE1 HTTP/1.1\r\n" + basicAuthHeader("rover1", "secret1") + "\r\n\r\n"
	client.Write([]byte(req))

	done := make(chan struct{})
	go func() {
		Handle(ctx, server, "BASE1", accounts, h, testLogger())
		close(done)
	}()

	reader := bufio.NewReader(client)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ICY 200 OK\r\n", line)

	// give the handler time to subscribe before publishing
	time.Sleep(20 * time.Millisecond)
	h.Publish([]byte("EFGH"))

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "EFGH", string(buf[:n]))

	cancel()
	client.Close()
	<-done
}

func TestHandler_WrongMountpoint_404(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	h := hub.New(100)
	ctx := context.Background()

	client.Write([]byte("GET /other HTTP/1.1\r\n" + basicAuthHeader("rover1", "secret1") + "\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(ctx, server, "BASE1", accounts, h, testLogger())
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "404 Not Found")
	<-done
}

func TestHandler_MissingAuth_401(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	h := hub.New(100)
	ctx := context.Background()

	client.Write([]byte("GET /BASE1 HTTP/1.1\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(ctx, server, "BASE1", accounts, h, testLogger())
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "401 Unauthorized")
	<-done
}

func TestHandler_WrongScheme_401(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	h := hub.New(100)
	ctx := context.Background()

	client.Write([]byte("GET /BASE1 HTTP/1.1\r\nAuthorization: Bearer abcdef\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(ctx, server, "BASE1", accounts, h, testLogger())
		close(done)
	}()

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "401 Unauthorized")
	<-done
}

func TestHandler_SlowConsumerDropped(t *testing.T) {
	server, client := pipePair(t)
	defer client.Close()

	h := hub.New(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client.Write([]byte("GET /BASE1 HTTP/1.1\r\n" + basicAuthHeader("rover1", "secret1") + "\r\n\r\n"))

	done := make(chan struct{})
	go func() {
		Handle(ctx, server, "BASE1", accounts, h, testLogger())
		close(done)
	}()

	reader := bufio.NewReader(client)
	_, err := reader.ReadString('\n')
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	for i := 0; i < 20; i++ {
		h.Publish([]byte{byte(i)})
	}

	// The 20 publishes run back to back and outpace the handler's pump, so
	// its cursor falls behind the 5-chunk ring and the handler should
	// self-terminate.
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not disconnect slow consumer")
	}
}
