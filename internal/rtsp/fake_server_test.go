// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rtsp

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// seenRequest is a request as received by the fake head-end.
type seenRequest struct {
	Method string
	Target string
	Header textproto.MIMEHeader
	Body   string
}

// fakeHeadEnd answers RTSP requests on a loopback listener using handle.
type fakeHeadEnd struct {
	t      *testing.T
	ln     net.Listener
	handle func(req seenRequest) string

	mu   sync.Mutex
	seen []seenRequest
	done chan struct{}
}

func newFakeHeadEnd(t *testing.T, handle func(req seenRequest) string) *fakeHeadEnd {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeHeadEnd{t: t, ln: ln, handle: handle, done: make(chan struct{})}
	go f.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		<-f.done
	})
	return f
}

func (f *fakeHeadEnd) URL(path string) string {
	return "rtsp://" + f.ln.Addr().String() + path
}

func (f *fakeHeadEnd) serve() {
	defer close(f.done)
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	r := textproto.NewReader(bufio.NewReader(conn))
	for {
		line, err := r.ReadLine()
		if err != nil {
			return
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return
		}
		hdr, err := r.ReadMIMEHeader()
		if err != nil && err != io.EOF {
			return
		}
		req := seenRequest{Method: parts[0], Target: parts[1], Header: hdr}
		if cl := hdr.Get("Content-Length"); cl != "" {
			n, _ := strconv.Atoi(cl)
			buf := make([]byte, n)
			if _, err := io.ReadFull(r.R, buf); err != nil {
				return
			}
			req.Body = string(buf)
		}

		f.mu.Lock()
		f.seen = append(f.seen, req)
		f.mu.Unlock()

		if _, err := io.WriteString(conn, f.handle(req)); err != nil {
			return
		}
	}
}

func (f *fakeHeadEnd) Requests() []seenRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]seenRequest(nil), f.seen...)
}

func (f *fakeHeadEnd) Methods() []string {
	var out []string
	for _, r := range f.Requests() {
		out = append(out, r.Method+" "+r.Target)
	}
	return out
}

// reply renders a response echoing the request CSeq.
func reply(req seenRequest, code int, reason string, headers map[string]string, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", code, reason)
	fmt.Fprintf(&b, "CSeq: %s\r\n", req.Header.Get("CSeq"))
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	if body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func sdp(peer string) string {
	return "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\ns=u7d\r\na=control:" + peer + "\r\n"
}
