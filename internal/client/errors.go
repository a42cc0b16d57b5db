package client

import "errors"

// Error taxonomy for the dial-through-proxy client path, grounded on
// original_source/src/client/error.rs and handshake/error.rs.
var (
	ErrNoProxyProvided     = errors.New("client: proxy strategy has no hops")
	ErrProxyRejected       = errors.New("client: proxy rejected the request")
	ErrHostUnreachable     = errors.New("client: proxy reports host unreachable")
	ErrAccessDenied        = errors.New("client: proxy denied credentials")
	ErrUnsupportedMethod   = errors.New("client: proxy offered no supported auth method")
	ErrInvalidSocks4aID    = errors.New("client: proxy rejected socks4a identifier")
	ErrBadHTTPResponse     = errors.New("client: malformed HTTP CONNECT response")
	ErrHTTPConnectRejected = errors.New("client: HTTP CONNECT rejected")
)
