// Package httpconn implements the minimal HTTP/1.1 CONNECT request and
// response subset needed for tunneling and probing: a line-oriented,
// CRLF-terminated, case-insensitive-header parser — nothing more of
// HTTP is modeled.
package httpconn

import (
	"bufio"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Decode error taxonomy.
var (
	ErrMalformed           = errors.New("httpconn: malformed request")
	ErrUnsupportedMethod   = errors.New("httpconn: unsupported method")
	ErrBadStatusLine       = errors.New("httpconn: bad status line")
)

// Request is a parsed CONNECT request.
type Request struct {
	Method    string
	Authority string // host:port from the request target
	Header    textproto.MIMEHeader
}

// ReadRequest parses a CONNECT request line plus headers from r.
func ReadRequest(r *bufio.Reader) (Request, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		return Request{}, fmt.Errorf("read request line: %w", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return Request{}, ErrMalformed
	}
	method, target := parts[0], parts[1]

	header, _ := tp.ReadMIMEHeader()

	authority := target
	if host := header.Get("Host"); host != "" && httpguts.ValidHeaderFieldValue(host) {
		authority = host
	}

	return Request{Method: strings.ToUpper(method), Authority: authority, Header: header}, nil
}

// WriteConnectRequest writes a CONNECT request line and headers for
// the given authority to w.
func WriteConnectRequest(w interface{ WriteString(string) (int, error) }, authority, userAgent string) error {
	if _, err := w.WriteString(fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", authority, authority)); err != nil {
		return err
	}
	if userAgent != "" {
		if _, err := w.WriteString(fmt.Sprintf("User-Agent: %s\r\n", userAgent)); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

// Response is a parsed HTTP status line plus headers, used by both the
// CONNECT-reply path and the checker's HTTP prober.
type Response struct {
	StatusCode int
	Reason     string
	Header     textproto.MIMEHeader
}

// ReadResponse parses a status line plus headers from r.
func ReadResponse(r *bufio.Reader) (Response, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		return Response{}, fmt.Errorf("read status line: %w", err)
	}
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return Response{}, ErrBadStatusLine
	}
	var code int
	if _, err := fmt.Sscanf(parts[1], "%d", &code); err != nil {
		return Response{}, ErrBadStatusLine
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	header, _ := tp.ReadMIMEHeader()

	return Response{StatusCode: code, Reason: reason, Header: header}, nil
}

// WriteStatusLine writes "HTTP/1.1 CODE REASON\r\n\r\n" — the shape
// used for both the CONNECT success reply and error replies.
func WriteStatusLine(w interface{ WriteString(string) (int, error) }, code int, reason string) error {
	_, err := w.WriteString(fmt.Sprintf("HTTP/1.1 %d %s\r\n\r\n", code, reason))
	return err
}

// Standard status lines used by the CONNECT service (spec.md §4.4).
const (
	StatusConnectionEstablished = 200
	ReasonConnectionEstablished = "Connection Established"
	StatusBadRequest            = 400
	ReasonBadRequest            = "Bad Request"
	StatusNotFound              = 404
	ReasonNotFound              = "Not Found"
	StatusNotImplemented        = 501
	ReasonNotImplemented        = "Not Implemented"
)
