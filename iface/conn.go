package iface

// Conn abstracts a single, feature-minimal connection to Redis.
type Conn interface {
	// Close the connection to the remote Redis server.
	Close() error

	// Do performs a command on the remote Redis server and returns
	// its result.
	Do(command string, args ...interface{}) (interface{}, error)

	// Send buffers a command to be written to the remote Redis server
	// on the next call to Flush.
	Send(command string, args ...interface{}) error

	// Flush writes all buffered commands to the remote Redis server.
	Flush() error

	// Receive reads the next reply pushed by the remote Redis server.
	// This call carries no read deadline so that a subscribed
	// connection can park here between messages.
	Receive() (interface{}, error)
}
