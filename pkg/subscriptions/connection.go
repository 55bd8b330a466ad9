package subscriptions

import "context"

// Connection is the registry's view of one client connection.
//
// ID must be stable for the lifetime of the physical connection and unique
// among the connections of one Registry. Send delivers one encoded text frame
// and may block; the registry never calls Send for the same connection from
// two goroutines at once.
type Connection interface {
	ID() string
	Send(ctx context.Context, data []byte) error
}

// Closer is implemented by connections that can be closed by the server,
// which the registry does on connection_terminate and CloseAll.
type Closer interface {
	Close(reason string) error
}
