package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Request is one control-channel action (spec §6 "Wire protocol": "each
// request a tagged action object"). Action names mirror the CLI
// subcommands; fields not relevant to a given action are simply omitted.
type Request struct {
	Action  string            `json:"action"`
	Service string            `json:"service,omitempty"`
	Name    string            `json:"name,omitempty"`
	Path    string            `json:"path,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Workdir string            `json:"workdir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Lines   *int              `json:"lines,omitempty"`
}

// Reply is either `{"result": ...}` or `{"error": "..."}` (spec §6).
type Reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client is a connection to the daemon's control server.
type Client struct {
	conn net.Conn
	dec  *json.Decoder
}

// Connect dials addr with a 5s connect timeout; read deadlines are set per
// request by Invoke (spec §6).
func Connect(addr string) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("client: connect %s: %w", addr, err)
	}
	return &Client{conn: conn, dec: json.NewDecoder(bufio.NewReader(conn))}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Invoke sends req and decodes the next reply. readTimeout overrides the
// default 5s read deadline (extended to 30s for restart/stop/remove per
// spec §6); zero or negative means the 5s default.
func (c *Client) Invoke(req Request, readTimeout time.Duration) (json.RawMessage, error) {
	if readTimeout <= 0 {
		readTimeout = 5 * time.Second
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	enc := json.NewEncoder(c.conn)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("client: send %s: %w", req.Action, err)
	}
	var reply Reply
	if err := c.dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("client: no reply from daemon: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("client: %s: %s", req.Action, reply.Error)
	}
	return reply.Result, nil
}

// InvokeInto is Invoke plus unmarshalling the result into out.
func (c *Client) InvokeInto(req Request, readTimeout time.Duration, out any) error {
	raw, err := c.Invoke(req, readTimeout)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
