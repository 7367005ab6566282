// Package constants defines magic numbers and default values shared across
// the rawhttp engine's packages.
package constants

import "time"

// Connection timeouts.
const (
	// DefaultConnTimeout bounds a TLS handshake in transport.UpgradeTLS when
	// the caller passes no timeout of its own.
	DefaultConnTimeout = 10 * time.Second
	// DefaultReadTimeout is a read-timeout default that no package applies:
	// Client bounds its reads with its own Options.Timeout.
	DefaultReadTimeout = 30 * time.Second
	// DefaultTimeout is the overall per-request deadline applied by Agent
	// when the caller supplies none.
	DefaultTimeout = 30 * time.Second
)

// Protocol limits.
const (
	// MaxContentLength bounds the Content-Length value decoder.FromResponse
	// will accept before reporting a LimitError. Chunked payload sizes are
	// not checked against it.
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB

	// MaxHeaderBytes bounds the raw bytes Client reads while waiting for a
	// complete status line plus headers before giving up with a DataError;
	// guards against a peer that never sends a blank line.
	MaxHeaderBytes = 256 * 1024

	// MaxLineLength is a 16 KiB line-length constant that no parser reads:
	// LineParser accepts lines of any length.
	MaxLineLength = 16 * 1024

	// TunnelPeekLimit bounds the bytes ProxyClient will read while waiting
	// for a CONNECT response's terminating blank line, since that response
	// is read one byte at a time off a socket about to be handed to TLS.
	TunnelPeekLimit = 64 * 1024

	// DefaultRedirectLimit is the default Agent.redirectlimit: the number
	// of redirect hops permitted before a protocol error is returned.
	DefaultRedirectLimit = 20

	// DefaultPacketSize is the per-Read chunk size Client uses when pulling
	// bytes off the socket into the decoder pipeline.
	DefaultPacketSize = 16 * 1024
)

// Buffer limits.
const (
	// DefaultBodyMemLimit is the in-memory threshold before a response
	// body's Buffer spills to disk.
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)
