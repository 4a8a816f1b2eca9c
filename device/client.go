// Package device is the HTTP/JSON control channel to the galvo/QPD
// controller. Every call is one synchronous POST; nothing is retried.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CK6170/Msectrax-go/models"
)

const DefaultURL = "http://127.0.0.1:8080/callback"

type Client struct {
	URL  string
	HTTP *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default client (5s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.HTTP = h }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.HTTP = &http.Client{Timeout: d} }
}

func NewClient(url string, opts ...Option) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{URL: url, HTTP: &http.Client{Timeout: 5 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Do posts one request and decodes the response variant.
func (c *Client) Do(ctx context.Context, req models.Request) (*models.Response, error) {
	if c == nil {
		return nil, fmt.Errorf("device client not connected")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", req.Name, err)
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTP.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Name, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w", req.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Request: req.Name, Code: resp.StatusCode, Body: excerpt(raw)}
	}
	var out models.Response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", req.Name, err)
	}
	return &out, nil
}

// SetState sends the closed-loop configuration and returns whatever the
// device echoed (the proxy answers with Empty or the new EchoState).
func (c *Client) SetState(ctx context.Context, s models.SetDeviceState) (*models.Response, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("SetState: %w", err)
	}
	return c.Do(ctx, models.SetState(s))
}

func (c *Client) QueryState(ctx context.Context) (*models.DeviceState, error) {
	resp, err := c.Do(ctx, models.QueryState())
	if err != nil {
		return nil, err
	}
	return resp.EchoState()
}

// QueryActualCycles is not part of the typed schema; the raw answer is returned.
func (c *Client) QueryActualCycles(ctx context.Context) (*models.Response, error) {
	return c.Do(ctx, models.QueryActualCycles())
}

func (c *Client) QueryAnalog(ctx context.Context) ([2]int16, error) {
	resp, err := c.Do(ctx, models.QueryAnalog())
	if err != nil {
		return [2]int16{}, err
	}
	return resp.EchoAnalog()
}

func (c *Client) QueryDatatypesVersion(ctx context.Context) (uint16, error) {
	resp, err := c.Do(ctx, models.QueryDatatypesVersion())
	if err != nil {
		return 0, err
	}
	return resp.EchoDatatypesVersion()
}

func (c *Client) SetGalvos(ctx context.Context, g models.Galvos) (*models.Response, error) {
	return c.Do(ctx, models.SetGalvos(g.DAC1, g.DAC2))
}

func (c *Client) Echo8(ctx context.Context, b [8]uint8) ([8]uint8, error) {
	resp, err := c.Do(ctx, models.EchoRequest8(b))
	if err != nil {
		return [8]uint8{}, err
	}
	return resp.EchoResponse8()
}

// CheckVersion fails when the firmware speaks another datatypes revision.
func (c *Client) CheckVersion(ctx context.Context) error {
	v, err := c.QueryDatatypesVersion(ctx)
	if err != nil {
		return err
	}
	if v != models.DatatypesVersion {
		return fmt.Errorf("%w: firmware %d, tools %d", ErrVersionMismatch, v, models.DatatypesVersion)
	}
	return nil
}

func excerpt(b []byte) string {
	const max = 256
	s := string(bytes.TrimSpace(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
