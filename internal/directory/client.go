package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const defaultClientTimeout = 10 * time.Second

// Client talks to a directory server over HTTP. Transport failures and 5xx
// responses are reported as ErrServiceUnavailable; they are never retried.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for the server at baseURL. A nil httpClient
// uses one with a 10 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Register(ctx context.Context, rec PeerRecord) (RegisterResult, error) {
	body, err := json.Marshal(registerRequest{
		Username: rec.Username,
		Address:  rec.Address,
		Port:     jsonPort(rec.Port),
	})
	if err != nil {
		return 0, err
	}

	resp, err := c.do(ctx, http.MethodPost, routeRegister, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return Created, nil
	case http.StatusOK:
		return Updated, nil
	case http.StatusBadRequest:
		return 0, fmt.Errorf("%w: %s", ErrInvalidRecord, readMessage(resp.Body))
	default:
		return 0, statusError(resp)
	}
}

func (c *Client) Lookup(ctx context.Context, username string) (PeerRecord, error) {
	path := routePeerInfo + "?" + url.Values{"username": {username}}.Encode()

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return PeerRecord{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return PeerRecord{}, fmt.Errorf("%w: %s", ErrNotFound, username)
	default:
		return PeerRecord{}, statusError(resp)
	}

	var rec PeerRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		return PeerRecord{}, fmt.Errorf("%w: decoding peer_info: %v", ErrServiceUnavailable, err)
	}
	return rec, nil
}

func (c *Client) List(ctx context.Context) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, routePeers, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var out peersResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding peers: %v", ErrServiceUnavailable, err)
	}
	return out.Peers, nil
}

// Watch streams the peer list to fn until ctx is cancelled or the server
// closes the stream. fn runs on the calling goroutine.
func (c *Client) Watch(ctx context.Context, fn func(peers []string)) error {
	wsURL, err := c.watchURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg peersResponse
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("%w: watch stream: %v", ErrServiceUnavailable, err)
		}
		fn(msg.Peers)
	}
}

func (c *Client) watchURL() (string, error) {
	u, err := url.Parse(c.baseURL + routeWatch)
	if err != nil {
		return "", fmt.Errorf("invalid directory url %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return resp, nil
}

func statusError(resp *http.Response) error {
	msg := readMessage(resp.Body)
	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s: %s", ErrServiceUnavailable, resp.Status, msg)
	}
	return fmt.Errorf("directory: unexpected status %s: %s", resp.Status, msg)
}

func readMessage(r io.Reader) string {
	var m messageResponse
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&m); err != nil {
		return ""
	}
	return m.Message
}

var _ Registry = (*Client)(nil)
