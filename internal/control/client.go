package control

import (
	"fmt"
	"net"
	"time"
)

// DialError means no runner accepted the connection. The CLI shows
// its message verbatim, so it carries the remedial hint.
type DialError struct {
	SocketPath string
	Err        error
}

func (e *DialError) Error() string {
	return fmt.Sprintf(
		"failed to connect to runner at %s: %v\nIs the runner running? Start it with: baton run",
		e.SocketPath, e.Err,
	)
}

func (e *DialError) Unwrap() error { return e.Err }

// Client issues one request per connection over the runner's control
// socket.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

func (c *Client) Send(req *Request) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, &DialError{SocketPath: c.socketPath, Err: err}
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &resp, nil
}

func (c *Client) SendCommand(command string, params any) (*Response, error) {
	req, err := NewRequest(command, params)
	if err != nil {
		return nil, err
	}
	return c.Send(req)
}
