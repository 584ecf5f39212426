package feed

import (
	"context"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"

	"github.com/roach88/watergrant/internal/sawtooth"
)

// DefaultPollInterval bounds how long Receive blocks in the socket before
// it checks its context again.
const DefaultPollInterval = 250 * time.Millisecond

// Client is a validator event stream over a ZeroMQ DEALER socket.
type Client struct {
	url          string
	socket       *zmq.Socket
	timeout      time.Duration
	pollInterval time.Duration
	newID        func() string
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout bounds the wait for a subscribe or unsubscribe response.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPollInterval sets the socket receive timeout used between context
// checks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// Dial opens a DEALER socket connected to url, e.g. tcp://validator:4004.
// ZeroMQ connects in the background; the first request reveals whether
// the validator is reachable.
func Dial(url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:          url,
		timeout:      10 * time.Second,
		pollInterval: DefaultPollInterval,
		newID:        newCorrelationID,
	}
	for _, opt := range opts {
		opt(c)
	}

	socket, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return nil, fmt.Errorf("feed: create socket: %w", err)
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, fmt.Errorf("feed: set linger: %w", err)
	}
	if err := socket.SetRcvtimeo(c.pollInterval); err != nil {
		socket.Close()
		return nil, fmt.Errorf("feed: set receive timeout: %w", err)
	}
	if err := socket.Connect(url); err != nil {
		socket.Close()
		return nil, fmt.Errorf("feed: connect %s: %w", url, err)
	}
	c.socket = socket

	slog.Debug("feed connected", "url", url)
	return c, nil
}

// newCorrelationID returns a time-ordered UUIDv7, so request ids sort by
// send time in validator logs.
func newCorrelationID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Subscribe sends a subscribe request and waits for the response.
func (c *Client) Subscribe(ctx context.Context, subs []sawtooth.EventSubscription, lastKnownBlockIDs []string) error {
	req, err := sawtooth.MarshalSubscribeRequest(sawtooth.SubscribeRequest{
		Subscriptions:     subs,
		LastKnownBlockIDs: lastKnownBlockIDs,
	})
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	resp, err := c.request(ctx,
		sawtooth.MessageClientEventsSubscribeRequest,
		req,
		sawtooth.MessageClientEventsSubscribeResponse,
	)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	r, err := sawtooth.UnmarshalSubscribeResponse(resp.Content)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	switch r.Status {
	case sawtooth.StatusOK:
		return nil
	case sawtooth.StatusUnknownBlock:
		return fmt.Errorf("%w: %s", ErrUnknownBlock, r.ResponseMessage)
	case sawtooth.StatusInvalidFilter:
		return fmt.Errorf("%w: %s", ErrInvalidFilter, r.ResponseMessage)
	default:
		return fmt.Errorf("subscribe: status %s: %s", r.Status, r.ResponseMessage)
	}
}

// Unsubscribe sends an unsubscribe request and waits for the response.
// Event batches still in flight are discarded.
func (c *Client) Unsubscribe(ctx context.Context) error {
	resp, err := c.request(ctx,
		sawtooth.MessageClientEventsUnsubscribeRequest,
		nil,
		sawtooth.MessageClientEventsUnsubscribeResponse,
	)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	status, err := sawtooth.UnmarshalUnsubscribeResponse(resp.Content)
	if err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	if status != sawtooth.UnsubscribeOK {
		return fmt.Errorf("unsubscribe: status %s", status)
	}
	return nil
}

// Receive returns the events of the next CLIENT_EVENTS message. Ping
// requests are answered along the way.
func (c *Client) Receive(ctx context.Context) ([]sawtooth.Event, error) {
	for {
		msg, err := c.next(ctx)
		if err != nil {
			return nil, err
		}
		if msg.Type != sawtooth.MessageClientEvents {
			slog.Debug("feed: ignoring message", "type", msg.Type)
			continue
		}
		events, err := sawtooth.UnmarshalEventList(msg.Content)
		if err != nil {
			return nil, fmt.Errorf("receive: %w", err)
		}
		return events, nil
	}
}

// Close closes the socket. It is safe to call more than once.
func (c *Client) Close() error {
	if c.socket == nil {
		return nil
	}
	err := c.socket.Close()
	c.socket = nil
	return err
}

// request sends one message and waits for the reply carrying the same
// correlation id.
func (c *Client) request(ctx context.Context, typ sawtooth.MessageType, content []byte, want sawtooth.MessageType) (sawtooth.Message, error) {
	id := c.newID()
	if err := c.send(sawtooth.Message{Type: typ, CorrelationID: id, Content: content}); err != nil {
		return sawtooth.Message{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	for {
		msg, err := c.next(ctx)
		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				return sawtooth.Message{}, fmt.Errorf("%w: %s after %s", ErrTimeout, typ, c.timeout)
			}
			return sawtooth.Message{}, err
		}
		if msg.CorrelationID == id && msg.Type == want {
			return msg, nil
		}
		slog.Debug("feed: skipping message while waiting for reply",
			"type", msg.Type,
			"want", want,
		)
	}
}

// next returns the next message that is not a ping.
func (c *Client) next(ctx context.Context) (sawtooth.Message, error) {
	if c.socket == nil {
		return sawtooth.Message{}, ErrClosed
	}
	for {
		if err := ctx.Err(); err != nil {
			return sawtooth.Message{}, err
		}

		frames, err := c.socket.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			return sawtooth.Message{}, fmt.Errorf("feed: receive: %w", err)
		}
		if len(frames) == 0 {
			continue
		}

		msg, err := sawtooth.UnmarshalMessage(frames[len(frames)-1])
		if err != nil {
			return sawtooth.Message{}, fmt.Errorf("feed: %w", err)
		}
		if msg.Type == sawtooth.MessagePingRequest {
			if err := c.send(sawtooth.Message{
				Type:          sawtooth.MessagePingResponse,
				CorrelationID: msg.CorrelationID,
			}); err != nil {
				return sawtooth.Message{}, err
			}
			continue
		}
		return msg, nil
	}
}

func (c *Client) send(msg sawtooth.Message) error {
	if c.socket == nil {
		return ErrClosed
	}
	b, err := sawtooth.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if _, err := c.socket.SendBytes(b, 0); err != nil {
		return fmt.Errorf("feed: send %s: %w", msg.Type, err)
	}
	return nil
}
