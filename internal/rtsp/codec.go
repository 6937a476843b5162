// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package rtsp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

const protoVersion = "RTSP/1.0"

// maxBody bounds a response body; SDP documents from the head-end are small.
const maxBody = 64 << 10

// Header is one request header. Requests keep insertion order on the wire.
type Header struct {
	Key   string
	Value string
}

// Request is one outgoing RTSP request. CSeq is assigned by Conn.
type Request struct {
	Method  string
	Target  string
	Headers []Header
	Body    string
}

// Set replaces key's value or appends it.
func (r *Request) Set(key, value string) {
	for i := range r.Headers {
		if strings.EqualFold(r.Headers[i].Key, key) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, Header{Key: key, Value: value})
}

// Response is a parsed RTSP response.
type Response struct {
	Proto  string
	Code   int
	Reason string
	Header textproto.MIMEHeader
	Body   string
}

// OK reports a 200 status line.
func (r *Response) OK() bool {
	return r.Code == 200
}

// Status returns "<code> <reason>".
func (r *Response) Status() string {
	if r.Reason == "" {
		return strconv.Itoa(r.Code)
	}
	return strconv.Itoa(r.Code) + " " + r.Reason
}

// Conn runs sequential request/response exchanges over one TCP connection.
type Conn struct {
	nc      net.Conn
	r       *textproto.Reader
	w       *bufio.Writer
	cseq    int
	timeout time.Duration
}

// NewConn wraps nc. Each exchange must complete within timeout.
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		nc:      nc,
		r:       textproto.NewReader(bufio.NewReader(nc)),
		w:       bufio.NewWriter(nc),
		cseq:    1,
		timeout: timeout,
	}
}

// RoundTrip writes req and reads its response.
func (c *Conn) RoundTrip(req *Request) (*Response, error) {
	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := c.write(req); err != nil {
		return nil, fmt.Errorf("write %s: %w", req.Method, err)
	}
	res, err := c.read()
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Method, err)
	}
	return res, nil
}

func (c *Conn) write(req *Request) error {
	fmt.Fprintf(c.w, "%s %s %s\r\n", req.Method, req.Target, protoVersion)
	fmt.Fprintf(c.w, "CSeq: %d\r\n", c.cseq)
	c.cseq++
	for _, h := range req.Headers {
		if strings.EqualFold(h.Key, "CSeq") {
			continue
		}
		fmt.Fprintf(c.w, "%s: %s\r\n", h.Key, h.Value)
	}
	c.w.WriteString("\r\n")
	c.w.WriteString(req.Body)
	return c.w.Flush()
}

func (c *Conn) read() (*Response, error) {
	line, err := c.r.ReadLine()
	if err != nil {
		return nil, err
	}
	res, err := parseStatusLine(line)
	if err != nil {
		return nil, err
	}
	hdr, err := c.r.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("headers: %w", err)
	}
	res.Header = hdr

	if cl := hdr.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err != nil || n < 0 || n > maxBody {
			return nil, fmt.Errorf("bad Content-Length %q", cl)
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.r.R, buf); err != nil {
			return nil, fmt.Errorf("body: %w", err)
		}
		res.Body = string(buf)
	}
	return res, nil
}

func parseStatusLine(line string) (*Response, error) {
	proto, rest, ok := strings.Cut(strings.TrimSpace(line), " ")
	if !ok || !strings.HasPrefix(proto, "RTSP/") {
		return nil, fmt.Errorf("malformed status line %q", line)
	}
	codeStr, reason, _ := strings.Cut(rest, " ")
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return nil, fmt.Errorf("malformed status code in %q", line)
	}
	return &Response{Proto: proto, Code: code, Reason: strings.TrimSpace(reason)}, nil
}

// interruptOn unblocks any pending I/O when ctx is cancelled. The returned
// release waits for an in-flight interrupt so a later exchange (TEARDOWN)
// can install its own deadline safely.
func (c *Conn) interruptOn(ctx context.Context) (release func()) {
	done := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(done)
		_ = c.nc.SetDeadline(time.Now())
	})
	return func() {
		if !stop() {
			<-done
		}
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// controlPeer returns the last "a=control:rtsp:..." URL found in an SDP body.
func controlPeer(body string) string {
	var peer string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "a=control:rtsp:") {
			continue
		}
		_, v, _ := strings.Cut(line, ":")
		peer = strings.TrimSpace(v)
	}
	return peer
}
