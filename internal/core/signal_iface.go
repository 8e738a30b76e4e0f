//go:generate go run go.uber.org/mock/mockgen -source=signal_iface.go -destination=../../mocks/mock_signal_connection.go -package=mocks

package core

import "errors"

// ErrBackpressure is returned by TrySend when the outbound buffer is full.
var ErrBackpressure = errors.New("backpressure")

// Frame is a raw encoded event.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
