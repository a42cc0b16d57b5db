// Package socks4 implements byte-exact encoders and decoders for the
// SOCKS4/SOCKS4a request and reply, used symmetrically by the server
// service and the client handshake.
package socks4

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// Version is the SOCKS4 wire version byte.
const Version = 0x04

// Command codes.
const (
	CmdConnect = 0x01
	CmdBind    = 0x02
)

// Reply codes.
const (
	ReplyGranted     = 0x5A
	ReplyRejected    = 0x5B
	ReplyUnreachable = 0x5C
	ReplyInvalidID   = 0x5D
)

// Decode error taxonomy.
var (
	ErrInvalidCommand = errors.New("socks4: invalid command")
	ErrBadRequest     = errors.New("socks4: bad request")
	ErrBadReply       = errors.New("socks4: bad reply")
)

// scratchBound is the maximum combined size of USERID+NUL+domain+NUL
// the parser will scan. See DESIGN.md's Open Question resolution #1.
const scratchBound = 256

// Request is the SOCKS4(a) request:
// VN CD DSTPORT(2) DSTIP(4) USERID NUL [DOMAIN NUL].
type Request struct {
	Command     byte
	Destination hostaddr.HostAddress
	ID          []byte
}

// ReadRequest decodes a Request. The version byte is assumed to have
// already been consumed by the protocol dispatcher.
func ReadRequest(r io.Reader) (Request, error) {
	var head [7]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Request{}, err
	}
	cmd := head[0]
	if cmd != CmdConnect && cmd != CmdBind {
		return Request{}, ErrInvalidCommand
	}
	port := binary.BigEndian.Uint16(head[1:3])
	ipBuf := head[3:7]

	scratch := make([]byte, scratchBound)
	n, err := r.Read(scratch)
	if err != nil && err != io.EOF {
		return Request{}, err
	}
	scratch = scratch[:n]

	parts := bytes.SplitN(scratch, []byte{0x00}, 3)
	// The USERID, and in domain form the domain, must be NUL-terminated
	// within the bound.
	if len(parts) < 2 {
		return Request{}, ErrBadRequest
	}
	id := parts[0]

	isDomainForm := ipBuf[0] == 0 && ipBuf[1] == 0 && ipBuf[2] == 0 && ipBuf[3] != 0
	var dest hostaddr.HostAddress
	if isDomainForm {
		if len(parts) < 3 {
			return Request{}, ErrBadRequest
		}
		dest = hostaddr.NewDomain(string(parts[1]), port)
	} else {
		dest = hostaddr.NewSocket(net.IP(append([]byte(nil), ipBuf...)), port)
	}

	return Request{Command: cmd, Destination: dest, ID: id}, nil
}

// Bytes encodes the Request.
func (req Request) Bytes() []byte {
	buf := make([]byte, 0, 16+len(req.ID))
	buf = append(buf, Version, req.Command)

	portBuf := [2]byte{}
	binary.BigEndian.PutUint16(portBuf[:], req.Destination.Port())
	buf = append(buf, portBuf[:]...)

	dest := req.Destination.Fit()
	if dest.Kind() == hostaddr.KindDomain {
		buf = append(buf, 0x00, 0x00, 0x00, 0x07)
		buf = append(buf, req.ID...)
		buf = append(buf, 0x00)
		buf = append(buf, dest.Domain()...)
		buf = append(buf, 0x00)
		return buf
	}

	ip4 := dest.IP().To4()
	buf = append(buf, ip4...)
	buf = append(buf, req.ID...)
	buf = append(buf, 0x00)
	return buf
}

// Reply is the SOCKS4 reply: 0x00 CD DSTPORT(2) DSTIP(4).
type Reply struct {
	Code        byte
	Destination net.IP
	Port        uint16
}

// Granted builds a success reply.
func Granted(dest net.IP, port uint16) Reply { return Reply{Code: ReplyGranted, Destination: dest, Port: port} }

// Rejected builds a rejection reply.
func Rejected(dest net.IP, port uint16) Reply { return Reply{Code: ReplyRejected, Destination: dest, Port: port} }

// Unreachable builds an unreachable reply.
func Unreachable(dest net.IP, port uint16) Reply {
	return Reply{Code: ReplyUnreachable, Destination: dest, Port: port}
}

// Bytes encodes the Reply.
func (rep Reply) Bytes() []byte {
	buf := make([]byte, 8)
	buf[0] = 0x00
	buf[1] = rep.Code
	binary.BigEndian.PutUint16(buf[2:4], rep.Port)
	ip4 := rep.Destination.To4()
	if ip4 == nil {
		ip4 = net.IPv4zero.To4()
	}
	copy(buf[4:8], ip4)
	return buf
}

// ReadReply decodes a Reply, used by the client side.
func ReadReply(r io.Reader) (Reply, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Reply{}, err
	}
	if buf[0] != 0x00 {
		return Reply{}, ErrBadReply
	}
	port := binary.BigEndian.Uint16(buf[2:4])
	ip := net.IP(append([]byte(nil), buf[4:8]...))
	return Reply{Code: buf[1], Destination: ip, Port: port}, nil
}

// Ok reports whether the reply indicates success.
func (rep Reply) Ok() bool { return rep.Code == ReplyGranted }
