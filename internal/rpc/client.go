package rpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/bridge"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/core"
	"github.com/GG-O-BP/chzpuri-streaming-assistant/internal/metrics"
)

const breakerName = "backend-rpc"

type ClientOptions struct {
	HTTPClient *http.Client
	Metrics    *metrics.Engine
	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration
	// TripAfter is the number of consecutive transport failures that opens
	// the breaker.
	TripAfter uint32
}

// Client implements bridge.Backend against a remote Handler. Transport
// failures count against a circuit breaker; errors reported by the backend
// do not.
type Client struct {
	base    string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	metrics *metrics.Engine
}

var _ bridge.Backend = (*Client)(nil)

func NewClient(baseURL string, opts ClientOptions) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	timeout := opts.BreakerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	trip := opts.TripAfter
	if trip == 0 {
		trip = 5
	}
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		http:    hc,
		metrics: opts.Metrics,
	}
	c.metrics.SetBreakerState(breakerName, 0)
	c.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			var remote *RemoteError
			return err == nil || errors.As(err, &remote)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("rpc: breaker state", "name", name, "from", from.String(), "to", to.String())
			c.metrics.SetBreakerState(name, breakerGauge(to))
		},
	})
	return c
}

func (c *Client) Connect(ctx context.Context, channelID string) error {
	return c.do(ctx, bridge.CallConnect, connectArgs{ChannelID: channelID}, nil)
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, bridge.CallDisconnect, nil, nil)
}

func (c *Client) IsConnected(ctx context.Context) (bool, error) {
	var ok bool
	err := c.do(ctx, bridge.CallIsConnected, nil, &ok)
	return ok, err
}

func (c *Client) GetConnectionState(ctx context.Context) (string, error) {
	var state string
	err := c.do(ctx, bridge.CallGetConnectionState, nil, &state)
	return state, err
}

func (c *Client) GetMessages(ctx context.Context) ([]core.DisplayMessage, error) {
	var msgs []core.DisplayMessage
	err := c.do(ctx, bridge.CallGetMessages, nil, &msgs)
	return msgs, err
}

func (c *Client) StoreDisplayMessage(ctx context.Context, msg core.DisplayMessage) error {
	return c.do(ctx, bridge.CallStoreDisplayMessage, storeArgs{Message: msg}, nil)
}

func (c *Client) ClearDisplayMessages(ctx context.Context) error {
	return c.do(ctx, bridge.CallClearDisplayMessages, nil, nil)
}

func (c *Client) ForwardChatMessage(ctx context.Context, author, body string) error {
	return c.do(ctx, bridge.CallForwardChatMessage, forwardArgs{Username: author, Message: body}, nil)
}

func (c *Client) GetPlaylist(ctx context.Context) (core.PlaylistState, error) {
	var st core.PlaylistState
	err := c.do(ctx, bridge.CallGetPlaylist, nil, &st)
	return st, err
}

func (c *Client) MoveItem(ctx context.Context, from, to int) error {
	return c.do(ctx, bridge.CallMoveItem, moveArgs{From: from, To: to}, nil)
}

func (c *Client) PlayAtIndex(ctx context.Context, index int) error {
	return c.do(ctx, bridge.CallPlayAtIndex, indexArgs{Index: index}, nil)
}

func (c *Client) RemoveItem(ctx context.Context, index int) error {
	return c.do(ctx, bridge.CallRemoveItem, indexArgs{Index: index}, nil)
}

func (c *Client) SkipToNext(ctx context.Context) error {
	return c.do(ctx, bridge.CallSkipToNext, nil, nil)
}

func (c *Client) ClearPlaylist(ctx context.Context) error {
	return c.do(ctx, bridge.CallClearPlaylist, nil, nil)
}

func (c *Client) SetAutoplay(ctx context.Context, enabled bool) error {
	return c.do(ctx, bridge.CallSetAutoplay, autoplayArgs{Enabled: enabled}, nil)
}

// State reports the breaker state.
func (c *Client) State() gobreaker.State { return c.cb.State() }

func (c *Client) do(ctx context.Context, call string, args, out any) error {
	raw, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, call, args)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.IncBreakerRejected(breakerName)
		}
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(raw, out), "decode %s result", call)
}

func (c *Client) roundTrip(ctx context.Context, call string, args any) ([]byte, error) {
	var body io.Reader = http.NoBody
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", call)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+PathPrefix+call, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "rpc %s", call)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("rpc %s: status %d: %s", call, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(&env); err != nil {
		return nil, errors.Wrapf(err, "rpc %s: decode envelope", call)
	}
	if !env.OK {
		return nil, &RemoteError{Call: call, Message: env.Error}
	}
	return env.Result, nil
}

func breakerGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
