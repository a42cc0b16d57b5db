package socks5

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/proxyworks/tunelo/internal/hostaddr"
)

// ReadAddress decodes a SOCKS5 address (ATYP DST_ADDR DST_PORT) from r.
func ReadAddress(r io.Reader) (hostaddr.HostAddress, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return hostaddr.HostAddress{}, fmt.Errorf("read address type: %w", err)
	}

	switch atyp[0] {
	case ATypIPv4:
		buf := make([]byte, 4+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return hostaddr.HostAddress{}, fmt.Errorf("read ipv4 address: %w", err)
		}
		port := binary.BigEndian.Uint16(buf[4:])
		return hostaddr.NewSocket(net.IP(buf[:4]), port), nil

	case ATypIPv6:
		buf := make([]byte, 16+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return hostaddr.HostAddress{}, fmt.Errorf("read ipv6 address: %w", err)
		}
		port := binary.BigEndian.Uint16(buf[16:])
		return hostaddr.NewSocket(net.IP(buf[:16]), port), nil

	case ATypDomain:
		var lenBuf [1]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return hostaddr.HostAddress{}, fmt.Errorf("read domain length: %w", err)
		}
		n := int(lenBuf[0])
		if n == 0 {
			return hostaddr.HostAddress{}, ErrBadRequest
		}
		buf := make([]byte, n+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return hostaddr.HostAddress{}, fmt.Errorf("read domain: %w", err)
		}
		port := binary.BigEndian.Uint16(buf[n:])
		return hostaddr.NewDomain(string(buf[:n]), port), nil

	default:
		return hostaddr.HostAddress{}, ErrInvalidAddressType
	}
}

// WriteAddress encodes a HostAddress as ATYP DST_ADDR DST_PORT.
func WriteAddress(w io.Writer, addr hostaddr.HostAddress) error {
	buf, err := AddressBytes(addr)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// AddressBytes encodes a HostAddress as ATYP DST_ADDR DST_PORT.
func AddressBytes(addr hostaddr.HostAddress) ([]byte, error) {
	addr = addr.Fit()
	if addr.Kind() == hostaddr.KindDomain {
		name := addr.Domain()
		if len(name) == 0 || len(name) > 255 {
			return nil, ErrDomainTooLong
		}
		buf := make([]byte, 2+len(name)+2)
		buf[0] = ATypDomain
		buf[1] = byte(len(name))
		copy(buf[2:], name)
		binary.BigEndian.PutUint16(buf[2+len(name):], addr.Port())
		return buf, nil
	}

	ip4 := addr.IP().To4()
	if ip4 != nil {
		buf := make([]byte, 1+4+2)
		buf[0] = ATypIPv4
		copy(buf[1:], ip4)
		binary.BigEndian.PutUint16(buf[5:], addr.Port())
		return buf, nil
	}

	ip16 := addr.IP().To16()
	if ip16 == nil {
		return nil, ErrInvalidAddressType
	}
	buf := make([]byte, 1+16+2)
	buf[0] = ATypIPv6
	copy(buf[1:], ip16)
	binary.BigEndian.PutUint16(buf[17:], addr.Port())
	return buf, nil
}

// AddressTypeOf returns the ATYP byte that AddressBytes would use for
// addr, for use by callers that need to pre-compute reply shapes.
func AddressTypeOf(addr hostaddr.HostAddress) byte {
	addr = addr.Fit()
	if addr.Kind() == hostaddr.KindDomain {
		return ATypDomain
	}
	if addr.IP().To4() != nil {
		return ATypIPv4
	}
	return ATypIPv6
}
