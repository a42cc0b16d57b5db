package socks5

import (
	"encoding/binary"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// Datagram is the SOCKS5 UDP relay header plus payload:
// RSV(2)=0 FRAG(1) ATYP(1) DST_ADDR DST_PORT PAYLOAD.
type Datagram struct {
	Frag        byte
	Destination hostaddr.HostAddress
	Payload     []byte
}

// ErrFragmented is returned when FRAG != 0; datagram reassembly is not
// supported, per spec.md §4.1/§4.5.
var ErrFragmented = ErrBadRequest

// ParseDatagram decodes a UDP datagram payload into a Datagram. It
// returns ErrFragmented for FRAG != 0, matching spec.md's "the relay
// discards packets with FRAG != 0".
func ParseDatagram(data []byte) (Datagram, error) {
	if len(data) < 4 {
		return Datagram{}, ErrBadRequest
	}
	frag := data[2]
	if frag != 0 {
		return Datagram{}, ErrFragmented
	}

	atyp := data[3]
	rest := data[4:]

	var dest hostaddr.HostAddress
	var consumed int
	switch atyp {
	case ATypIPv4:
		if len(rest) < 6 {
			return Datagram{}, ErrBadRequest
		}
		port := binary.BigEndian.Uint16(rest[4:6])
		dest = hostaddr.NewSocket(append([]byte(nil), rest[:4]...), port)
		consumed = 6
	case ATypIPv6:
		if len(rest) < 18 {
			return Datagram{}, ErrBadRequest
		}
		port := binary.BigEndian.Uint16(rest[16:18])
		dest = hostaddr.NewSocket(append([]byte(nil), rest[:16]...), port)
		consumed = 18
	case ATypDomain:
		if len(rest) < 1 {
			return Datagram{}, ErrBadRequest
		}
		n := int(rest[0])
		if n == 0 || len(rest) < 1+n+2 {
			return Datagram{}, ErrBadRequest
		}
		name := string(rest[1 : 1+n])
		port := binary.BigEndian.Uint16(rest[1+n : 1+n+2])
		dest = hostaddr.NewDomain(name, port)
		consumed = 1 + n + 2
	default:
		return Datagram{}, ErrInvalidAddressType
	}

	return Datagram{Frag: frag, Destination: dest, Payload: rest[consumed:]}, nil
}

// Bytes encodes a Datagram header followed by its payload.
func (d Datagram) Bytes() ([]byte, error) {
	addrBytes, err := AddressBytes(d.Destination)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 4+len(addrBytes)+len(d.Payload))
	buf = append(buf, 0x00, 0x00, d.Frag)
	buf = append(buf, addrBytes...)
	buf = append(buf, d.Payload...)
	return buf, nil
}
