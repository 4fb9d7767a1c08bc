package confidential

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mdlayher/vsock"
)

// Client speaks the value service's one-shot connection protocol: each call
// dials, writes one JSON request, half-closes the write side and reads one
// JSON response.
type Client struct {
	dial    func() (net.Conn, error)
	timeout time.Duration
}

const clientTimeout = 30 * time.Second

// NewTCPClient targets a value service on a TCP address (local development).
func NewTCPClient(addr string) *Client {
	return &Client{
		dial:    func() (net.Conn, error) { return net.Dial("tcp", addr) },
		timeout: clientTimeout,
	}
}

// NewVsockClient targets a value service inside a confidential VM.
func NewVsockClient(contextID, port uint32) *Client {
	return &Client{
		dial:    func() (net.Conn, error) { return vsock.Dial(contextID, port, nil) },
		timeout: clientTimeout,
	}
}

// Both TCP and vsock connections support half-closing the write side, which
// is how the server learns the request is complete.
type closeWriter interface {
	CloseWrite() error
}

func (c *Client) roundTrip(req any) ([]byte, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("failed to dial value service: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	cw, ok := conn.(closeWriter)
	if !ok {
		return nil, fmt.Errorf("connection type %T cannot half-close", conn)
	}
	if err := cw.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to half-close connection: %w", err)
	}

	raw, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("value service closed the connection without a response")
	}

	var envelope struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope.Type == "error" {
		return nil, fmt.Errorf("value service error: %s", envelope.Message)
	}
	return raw, nil
}

// Ping checks that the service is reachable and answering.
func (c *Client) Ping() error {
	raw, err := c.roundTrip(map[string]string{"type": "ping"})
	if err != nil {
		return err
	}
	var resp struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode ping response: %w", err)
	}
	if resp.Type != "pong" {
		return fmt.Errorf("unexpected response type %q", resp.Type)
	}
	return nil
}

// FetchKey retrieves the service public key, with its attestation document
// when the service runs enclaved.
func (c *Client) FetchKey() (*KeyResponse, error) {
	raw, err := c.roundTrip(map[string]string{"type": "key_request"})
	if err != nil {
		return nil, err
	}
	var resp KeyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode key response: %w", err)
	}
	return &resp, nil
}

// Reencrypt asks the service to reencrypt a handle's value to the requester's
// RSA public key. Denied unless the requester is on the value's ACL.
func (c *Client) Reencrypt(handle Handle, requester, requesterPublicKeyPEM string) (*EncryptedValue, error) {
	raw, err := c.roundTrip(ReencryptRequest{
		Type:               "reencrypt",
		Handle:             string(handle),
		Requester:          requester,
		RequesterPublicKey: requesterPublicKeyPEM,
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Type  string          `json:"type"`
		Value *EncryptedValue `json:"value"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode reencrypt response: %w", err)
	}
	if resp.Value == nil {
		return nil, errors.New("reencrypt response carried no value")
	}
	return resp.Value, nil
}
