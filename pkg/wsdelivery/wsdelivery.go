// Package wsdelivery carries queue operations to the authority over a
// websocket and feeds acknowledgments back into the queue. Sends are
// fire-and-forget as the queue requires: Send* methods only hand the
// frame to the writer goroutine and never wait for the round trip.
package wsdelivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/model/mop"
)

const (
	outboundBuffer = 64
	writeTimeout   = 10 * time.Second
)

// Acker receives delivery outcomes. *opqueue.Queue satisfies it.
type Acker interface {
	Confirm(id idwrap.IDWrap)
	Fail(id idwrap.IDWrap, retryable bool)
}

type opFrame struct {
	Kind      string        `json:"kind"`
	OpID      idwrap.IDWrap `json:"opId"`
	SessionID string        `json:"sessionId"`
	Verb      string        `json:"verb,omitempty"`
	Target    string        `json:"target,omitempty"`
	Payload   any           `json:"payload"`
}

type ackFrame struct {
	OpID      idwrap.IDWrap `json:"opId"`
	OK        bool          `json:"ok"`
	Retryable bool          `json:"retryable"`
	Error     string        `json:"error,omitempty"`
}

// Client is a DeliverySink backed by one websocket connection.
type Client struct {
	log       *slog.Logger
	conn      *websocket.Conn
	sessionID uuid.UUID

	acker  atomic.Pointer[Acker]
	out    chan opFrame
	group  *errgroup.Group
	cancel context.CancelFunc
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Dial connects to the authority and starts the read and write loops.
// Bind the queue with Bind before enqueueing work; acks that arrive
// while unbound are dropped with a warning.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("wsdelivery: dial %s: %w", url, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	group, groupCtx := errgroup.WithContext(runCtx)

	c := &Client{
		log:       slog.Default(),
		conn:      conn,
		sessionID: uuid.New(),
		out:       make(chan opFrame, outboundBuffer),
		group:     group,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	group.Go(func() error { return c.writeLoop(groupCtx) })
	group.Go(func() error { return c.readLoop(groupCtx) })
	return c, nil
}

// Bind attaches the queue that receives delivery outcomes.
func (c *Client) Bind(acker Acker) {
	c.acker.Store(&acker)
}

// SessionID identifies this connection in outbound frames.
func (c *Client) SessionID() string {
	return c.sessionID.String()
}

// Close tears down the connection and waits for both loops to exit.
func (c *Client) Close() error {
	c.cancel()
	err := c.conn.Close(websocket.StatusNormalClosure, "client closing")
	loopErr := c.group.Wait()
	if err != nil {
		return err
	}
	if loopErr != nil && !isClosed(loopErr) {
		return loopErr
	}
	return nil
}

func (c *Client) SendStructural(verb mop.Verb, target mop.Target, payload mop.StructuralPayload, id idwrap.IDWrap) {
	c.push(opFrame{
		Kind:      "structural",
		OpID:      id,
		SessionID: c.sessionID.String(),
		Verb:      verb.String(),
		Target:    target.String(),
		Payload:   payload,
	})
}

func (c *Client) SendSubblock(blockID idwrap.IDWrap, subblockID string, value any, id idwrap.IDWrap) {
	c.push(opFrame{
		Kind:      "subblock",
		OpID:      id,
		SessionID: c.sessionID.String(),
		Payload: mop.SubblockPayload{
			BlockID:    blockID,
			SubblockID: subblockID,
			Value:      value,
		},
	})
}

func (c *Client) SendVariable(variableID idwrap.IDWrap, field string, value any, id idwrap.IDWrap) {
	c.push(opFrame{
		Kind:      "variable",
		OpID:      id,
		SessionID: c.sessionID.String(),
		Payload: mop.VariablePayload{
			VariableID: variableID,
			Field:      field,
			Value:      value,
		},
	})
}

// push never blocks the queue. A full buffer means the connection is
// stalled; dropping here is safe because the queue's watchdog treats the
// missing ack as a failed delivery and retries.
func (c *Client) push(f opFrame) {
	select {
	case c.out <- f:
	default:
		c.log.Warn("wsdelivery: outbound buffer full, dropping frame",
			"opId", f.OpID, "kind", f.Kind)
	}
}

func (c *Client) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f := <-c.out:
			b, err := gojson.Marshal(f)
			if err != nil {
				c.log.Error("wsdelivery: marshal frame", "opId", f.OpID, "error", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.conn.Write(wctx, websocket.MessageText, b)
			cancel()
			if err != nil {
				return fmt.Errorf("wsdelivery: write: %w", err)
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("wsdelivery: read: %w", err)
		}
		var ack ackFrame
		if err := gojson.Unmarshal(data, &ack); err != nil {
			c.log.Warn("wsdelivery: malformed ack frame", "error", err)
			continue
		}

		ackerPtr := c.acker.Load()
		if ackerPtr == nil {
			c.log.Warn("wsdelivery: ack before queue bind, dropping", "opId", ack.OpID)
			continue
		}
		acker := *ackerPtr
		if ack.OK {
			acker.Confirm(ack.OpID)
			continue
		}
		c.log.Warn("wsdelivery: delivery rejected",
			"opId", ack.OpID, "retryable", ack.Retryable, "error", ack.Error)
		acker.Fail(ack.OpID, ack.Retryable)
	}
}

func isClosed(err error) bool {
	return websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled)
}
