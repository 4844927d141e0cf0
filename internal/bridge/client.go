package bridge

import "github.com/google/uuid"

// Client is one connected consumer of hub broadcasts. The hub is the only
// writer to its queue and closes it when the client is removed.
type Client struct {
	ID   uuid.UUID
	send chan []byte
}

func newClient(queueSize int) *Client {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Client{ID: uuid.New(), send: make(chan []byte, queueSize)}
}

// Outbound yields encoded messages for this client. It is closed when the
// client is disconnected or the hub stops.
func (c *Client) Outbound() <-chan []byte {
	return c.send
}
