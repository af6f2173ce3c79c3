package ctlplane

import (
	"errors"
	"fmt"
	"net/rpc"
	"strings"
	"sync"

	"grimm.is/turnstile/internal/access"
	"grimm.is/turnstile/internal/admission"
)

// Client is the RPC client for communicating with the daemon.
type Client struct {
	path   string
	client *rpc.Client
	mu     sync.RWMutex
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	client, err := rpc.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to control plane at %s: %w", path, err)
	}
	return &Client{path: path, client: client}, nil
}

// Close closes the RPC connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// call wraps the RPC call with reconnection logic
func (c *Client) call(method string, args any, reply any) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()

	if client == nil {
		if err := c.reconnect(nil); err != nil {
			return err
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
	}

	serviceMethod := ServiceName + "." + method
	err := client.Call(serviceMethod, args, reply)
	if err == nil {
		return nil
	}

	if errors.Is(err, rpc.ErrShutdown) || isNetworkError(err) {
		// Pass the failed client so a concurrent reconnect is not repeated
		if recErr := c.reconnect(client); recErr != nil {
			return fmt.Errorf("RPC call failed (%v) and reconnection failed: %w", err, recErr)
		}
		c.mu.RLock()
		client = c.client
		c.mu.RUnlock()
		return client.Call(serviceMethod, args, reply)
	}
	return err
}

func (c *Client) reconnect(old *rpc.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != old && c.client != nil {
		return nil
	}
	if c.client != nil {
		c.client.Close()
	}

	client, err := rpc.Dial("unix", c.path)
	if err != nil {
		return fmt.Errorf("failed to reconnect to control plane: %w", err)
	}
	c.client = client
	return nil
}

func isNetworkError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection is shut down") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected EOF") ||
		strings.Contains(msg, "use of closed network connection")
}

// Grant requests access for mac. minutes = 0 uses the daemon's default.
func (c *Client) Grant(mac string, minutes int) (*Result, error) {
	var reply Result
	if err := c.call("Grant", &GrantArgs{MAC: mac, Minutes: minutes}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// GrantIP requests access for the device currently holding ip.
func (c *Client) GrantIP(ip string, minutes int) (*Result, error) {
	var reply Result
	if err := c.call("Grant", &GrantArgs{IP: ip, Minutes: minutes}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Revoke ends mac's grant.
func (c *Client) Revoke(mac string) (*Result, error) {
	var reply Result
	if err := c.call("Revoke", &RevokeArgs{MAC: mac}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// List returns the daemon's status snapshot.
func (c *Client) List() (*admission.Status, error) {
	var reply ListReply
	if err := c.call("List", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply.Status, nil
}

// History returns up to limit records, newest first.
func (c *Client) History(limit int) ([]access.HistoryRecord, error) {
	var reply HistoryReply
	if err := c.call("History", &HistoryArgs{Limit: limit}, &reply); err != nil {
		return nil, err
	}
	if reply.Error != "" {
		return reply.Records, errors.New(reply.Error)
	}
	return reply.Records, nil
}

// Check returns the host readiness report.
func (c *Client) Check() (*CheckReply, error) {
	var reply CheckReply
	if err := c.call("Check", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Plan returns the pending firewall diff.
func (c *Client) Plan() (*PlanReply, error) {
	var reply PlanReply
	if err := c.call("Plan", &Empty{}, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}
