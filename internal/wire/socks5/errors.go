package socks5

import "errors"

// Decode error taxonomy per spec.md §4.1. Every parser fails with one
// of these distinct kinds.
var (
	ErrInvalidVersion           = errors.New("socks5: invalid version")
	ErrInvalidAddressType       = errors.New("socks5: invalid address type")
	ErrInvalidCommand           = errors.New("socks5: invalid command")
	ErrBadRequest               = errors.New("socks5: bad request")
	ErrBadReply                 = errors.New("socks5: bad reply")
	ErrInvalidUserPasswordVersion = errors.New("socks5: invalid username/password version")
	ErrDomainTooLong            = errors.New("socks5: domain name exceeds 255 bytes")
)
