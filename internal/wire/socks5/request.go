package socks5

import (
	"io"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// Request is the SOCKS5 request: VER CMD RSV ATYP DST_ADDR DST_PORT.
type Request struct {
	Command     byte
	Destination hostaddr.HostAddress
}

// ReadRequest decodes a Request.
func ReadRequest(r io.Reader) (Request, error) {
	var head [3]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Request{}, err
	}
	if head[0] != Version {
		return Request{}, ErrInvalidVersion
	}
	switch head[1] {
	case CmdConnect, CmdBind, CmdUDPAssociate:
	default:
		return Request{}, ErrInvalidCommand
	}
	dest, err := ReadAddress(r)
	if err != nil {
		return Request{}, err
	}
	return Request{Command: head[1], Destination: dest}, nil
}

// Bytes encodes the Request.
func (req Request) Bytes() ([]byte, error) {
	addrBytes, err := AddressBytes(req.Destination)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 3+len(addrBytes))
	buf = append(buf, Version, req.Command, 0x00)
	buf = append(buf, addrBytes...)
	return buf, nil
}

// Reply is the SOCKS5 reply: VER REP RSV ATYP BND_ADDR BND_PORT.
type Reply struct {
	Reply bool
	Code  byte
	Bound hostaddr.HostAddress
}

// NewReply builds a Reply carrying the given reply code and bound
// address.
func NewReply(code byte, bound hostaddr.HostAddress) Reply {
	return Reply{Code: code, Bound: bound}
}

// Bytes encodes the Reply.
func (rep Reply) Bytes() ([]byte, error) {
	addrBytes, err := AddressBytes(rep.Bound)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 3+len(addrBytes))
	buf = append(buf, Version, rep.Code, 0x00)
	buf = append(buf, addrBytes...)
	return buf, nil
}

// ReadReply decodes a Reply, used by the client side.
func ReadReply(r io.Reader) (Reply, error) {
	var head [3]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Reply{}, err
	}
	if head[0] != Version {
		return Reply{}, ErrBadReply
	}
	bound, err := ReadAddress(r)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Code: head[1], Bound: bound}, nil
}

// Ok reports whether the reply code indicates success.
func (rep Reply) Ok() bool { return rep.Code == ReplySucceeded }
