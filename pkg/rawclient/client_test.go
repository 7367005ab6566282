package rawclient

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/kitsuhttp/rawhttp/pkg/message"
	"github.com/kitsuhttp/rawhttp/pkg/timing"
)

// withServer starts a goroutine driving the server side of a net.Pipe,
// returning the client-side net.Conn. serve reads whatever the client wrote
// (the caller's responsibility to drain, not asserted here) and writes raw.
func withServer(t *testing.T, serve func(server net.Conn)) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	go func() {
		serve(server)
	}()
	t.Cleanup(func() { client.Close() })
	return client
}

func drainRequest(conn net.Conn) {
	buf := make([]byte, 4096)
	for {
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, err := conn.Read(buf)
		if n == 0 || err != nil {
			return
		}
	}
}

func TestClientPlainBody(t *testing.T) {
	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nHello world"))
		server.Close()
	})

	c := New(conn, Options{})
	req := message.NewRequest("GET", "/")
	req.Headers.Add("Host", "example.com")

	resp, err := c.MakeRequest(req, timing.NewTimer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Code != 200 || string(resp.Body) != "Hello world" {
		t.Fatalf("got code=%d body=%q", resp.Code, resp.Body)
	}
}

func TestClientChunkedWithTrailer(t *testing.T) {
	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"B\r\nHello world\r\nB; test=1\r\nHello world\r\n0\r\nTest-Header: test value\r\n\r\n"))
		server.Close()
	})

	c := New(conn, Options{})
	req := message.NewRequest("GET", "/")
	resp, err := c.MakeRequest(req, timing.NewTimer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != "Hello worldHello world" {
		t.Fatalf("got body %q", resp.Body)
	}
	if resp.Headers.Get("Test-Header") != "test value" {
		t.Fatalf("got trailer header %q", resp.Headers.Get("Test-Header"))
	}
}

func TestClientHeadHasEmptyBody(t *testing.T) {
	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 99\r\n\r\n"))
		server.Close()
	})

	c := New(conn, Options{})
	req := message.NewRequest("HEAD", "/")
	resp, err := c.MakeRequest(req, timing.NewTimer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Body) != 0 {
		t.Fatalf("expected empty body, got %q", resp.Body)
	}
}

func TestClientChunkedClosedEarlyIsDataError(t *testing.T) {
	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write([]byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nHello\r\n"))
		server.Close()
	})

	c := New(conn, Options{})
	req := message.NewRequest("GET", "/")
	_, err := c.MakeRequest(req, timing.NewTimer())
	if err == nil {
		t.Fatal("expected error for early close mid-chunk")
	}
}

func TestClientDeflateBody(t *testing.T) {
	payload := "deflated response payload"
	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	zw.Write([]byte(payload))
	zw.Close()

	head := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\nTransfer-Encoding: deflate\r\n\r\n", compressed.Len())
	raw := append([]byte(head), compressed.Bytes()...)

	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write(raw)
		server.Close()
	})

	c := New(conn, Options{})
	req := message.NewRequest("GET", "/")
	resp, err := c.MakeRequest(req, timing.NewTimer())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Body) != payload {
		t.Fatalf("got body %q, want %q", resp.Body, payload)
	}
}

func TestClientBodyLimitExceeded(t *testing.T) {
	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nHello world"))
		server.Close()
	})

	c := New(conn, Options{BodyLimit: 5})
	req := message.NewRequest("GET", "/")
	_, err := c.MakeRequest(req, timing.NewTimer())
	if err == nil {
		t.Fatal("expected LimitError for body exceeding BodyLimit")
	}
}

func TestClientSizeLimitBoundary(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nhi")

	run := func(limit int64) error {
		conn := withServer(t, func(server net.Conn) {
			drainRequest(server)
			server.Write(raw)
			server.Close()
		})
		c := New(conn, Options{SizeLimit: limit})
		req := message.NewRequest("GET", "/")
		_, err := c.MakeRequest(req, timing.NewTimer())
		return err
	}

	if err := run(int64(len(raw))); err != nil {
		t.Fatalf("exact sizelimit equality must succeed, got %v", err)
	}
	if err := run(int64(len(raw)) - 1); err == nil {
		t.Fatal("expected LimitError one byte under the response size")
	}
}

func TestClientSequentialRequestsOnKeepAliveConnection(t *testing.T) {
	conn := withServer(t, func(server net.Conn) {
		drainRequest(server)
		server.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nfirstHTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\nsecond"))
		// keep consuming the second request's bytes; both responses are
		// already buffered on the client side
		drainRequest(server)
		server.Close()
	})

	c := New(conn, Options{})
	req1 := message.NewRequest("GET", "/one")
	resp1, err := c.MakeRequest(req1, timing.NewTimer())
	if err != nil {
		t.Fatalf("unexpected error on first request: %v", err)
	}
	if string(resp1.Body) != "first" {
		t.Fatalf("got first body %q", resp1.Body)
	}

	req2 := message.NewRequest("GET", "/two")
	resp2, err := c.MakeRequest(req2, timing.NewTimer())
	if err != nil {
		t.Fatalf("unexpected error on second request: %v", err)
	}
	if string(resp2.Body) != "second" {
		t.Fatalf("got second body %q", resp2.Body)
	}
}
