package socks

import "errors"

// ErrUDPDisabled is returned when a client sends UDP ASSOCIATE but the
// server has no udpassoc.Manager configured.
var ErrUDPDisabled = errors.New("socks: udp associate disabled")
