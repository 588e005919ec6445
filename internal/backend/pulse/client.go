package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/replog/replog/internal/engine"
	"github.com/replog/replog/internal/model"
)

// requestTimeout bounds how long a correlated request waits for its ack.
const requestTimeout = 10 * time.Second

// errNoSession reports a write attempted without a live session. The
// frame is still queued for the next Connect, but the caller must not
// treat it as delivered.
var errNoSession = errors.New("pulse session not connected")

// frame is the wire envelope. One WebSocket session carries writes,
// acks, fetches, and the server's change feed.
type frame struct {
	Type     string                 `json:"type"`
	Seq      int64                  `json:"seq,omitempty"`
	UserID   string                 `json:"user_id,omitempty"`
	RecordID string                 `json:"record_id,omitempty"`
	Exercise *model.ExerciseRecord  `json:"exercise,omitempty"`
	Account  *model.AccountRecord   `json:"account,omitempty"`
	Records  []model.ExerciseRecord `json:"records,omitempty"`
	Deleted  bool                   `json:"deleted,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Frame types.
const (
	frameUpsert  = "upsert"
	frameDelete  = "delete"
	frameFetch   = "fetch"
	frameAccount = "account"
	frameAck     = "ack"
	frameError   = "error"
	frameChange  = "change"
)

// client speaks the Pulse session protocol and implements
// engine.RemoteClient.
//
// Writes issued while disconnected are queued in-session and flushed on
// the next successful Connect, but the push itself fails with
// errNoSession so records stay pending until the server acks them.
// Upserts are idempotent, so a frame delivered by the flush and again
// by a later retry is harmless.
type client struct {
	endpoint string
	token    string
	logger   *log.Logger

	seq atomic.Int64

	mu      sync.Mutex
	conn    *websocket.Conn
	queue   []frame
	pending map[int64]chan frame

	changes   chan engine.Change
	readDone  chan struct{}
	closeOnce sync.Once
}

func newClient(endpoint, token string, logger *log.Logger) *client {
	return &client{
		endpoint: endpoint,
		token:    token,
		logger:   logger,
		pending:  make(map[int64]chan frame),
		changes:  make(chan engine.Change, 64),
	}
}

// Connect dials the session and flushes any queued writes. Idempotent
// while a session is live.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	opts := &websocket.DialOptions{}
	if c.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.token}}
	}

	conn, _, err := websocket.Dial(ctx, c.endpoint, opts)
	if err != nil {
		return fmt.Errorf("failed to dial pulse session: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	c.mu.Lock()
	c.conn = conn
	queued := c.queue
	c.queue = nil
	c.readDone = make(chan struct{})
	c.mu.Unlock()

	go c.readLoop(conn)

	for _, f := range queued {
		if err := c.write(ctx, f); err != nil {
			c.logger.Printf("Failed to flush queued frame: %v", err)
			c.requeue(f)
			break
		}
	}
	if len(queued) > 0 {
		c.logger.Printf("Flushed %d queued frames", len(queued))
	}
	return nil
}

// Close tears the session down and closes the change feed.
func (c *client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	done := c.readDone
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
		<-done
	}
	c.closeOnce.Do(func() { close(c.changes) })
	return nil
}

func (c *client) readLoop(conn *websocket.Conn) {
	defer close(c.readDone)

	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.dropConn(conn)
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Printf("Discarding malformed frame: %v", err)
			continue
		}

		switch f.Type {
		case frameAck, frameError:
			c.mu.Lock()
			ch := c.pending[f.Seq]
			delete(c.pending, f.Seq)
			c.mu.Unlock()
			if ch != nil {
				ch <- f
			}
		case frameChange:
			if f.Exercise == nil {
				continue
			}
			change := engine.Change{Exercise: f.Exercise.Exercise(), Deleted: f.Deleted}
			select {
			case c.changes <- change:
			default:
				c.logger.Printf("Change feed full, dropping change for %s", f.Exercise.ID)
			}
		}
	}
}

// dropConn clears the session after a read failure so the next Connect
// re-dials. In-flight requests get an error frame.
func (c *client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		ch <- frame{Type: frameError, Seq: seq, Error: "session lost"}
	}
	c.mu.Unlock()
	_ = conn.Close(websocket.StatusGoingAway, "read failed")
}

func (c *client) write(ctx context.Context, f frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errNoSession
	}

	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *client) requeue(f frame) {
	c.mu.Lock()
	c.queue = append(c.queue, f)
	c.mu.Unlock()
}

// send delivers a write frame and waits for its ack. With no session
// the frame is queued for the next Connect and errNoSession is
// returned, so the record stays pending until a real ack lands.
func (c *client) send(ctx context.Context, f frame) error {
	c.mu.Lock()
	connected := c.conn != nil
	if !connected {
		c.queue = append(c.queue, f)
	}
	c.mu.Unlock()
	if !connected {
		return errNoSession
	}

	resp, err := c.request(ctx, f)
	if err != nil {
		return err
	}
	if resp.Type == frameError {
		return fmt.Errorf("pulse rejected %s: %s", f.Type, resp.Error)
	}
	return nil
}

// request writes a correlated frame and waits for its ack.
func (c *client) request(ctx context.Context, f frame) (frame, error) {
	f.Seq = c.seq.Add(1)
	ch := make(chan frame, 1)

	c.mu.Lock()
	c.pending[f.Seq] = ch
	c.mu.Unlock()

	if err := c.write(ctx, f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.Seq)
		c.mu.Unlock()
		return frame{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.Seq)
		c.mu.Unlock()
		return frame{}, fmt.Errorf("timed out waiting for %s ack: %w", f.Type, ctx.Err())
	}
}

// PushExercise implements engine.RemoteClient.
func (c *client) PushExercise(ctx context.Context, ex model.Exercise) error {
	rec := ex.Record()
	return c.send(ctx, frame{Type: frameUpsert, UserID: ex.UserID, Exercise: &rec})
}

// DeleteExercise implements engine.RemoteClient.
func (c *client) DeleteExercise(ctx context.Context, userID, id string) error {
	return c.send(ctx, frame{Type: frameDelete, UserID: userID, RecordID: id})
}

// FetchExercises implements engine.RemoteClient. Unlike writes, a fetch
// needs a live session and fails fast without one.
func (c *client) FetchExercises(ctx context.Context, userID string) ([]model.Exercise, error) {
	resp, err := c.request(ctx, frame{Type: frameFetch, UserID: userID})
	if err != nil {
		return nil, err
	}
	if resp.Type == frameError {
		return nil, fmt.Errorf("pulse rejected fetch: %s", resp.Error)
	}

	out := make([]model.Exercise, 0, len(resp.Records))
	for _, rec := range resp.Records {
		out = append(out, rec.Exercise())
	}
	return out, nil
}

// PushAccount implements engine.RemoteClient.
func (c *client) PushAccount(ctx context.Context, u *model.UserAccount) error {
	rec := u.Record()
	return c.send(ctx, frame{Type: frameAccount, UserID: u.ID, Account: &rec})
}

// Changes implements engine.RemoteClient.
func (c *client) Changes() <-chan engine.Change {
	return c.changes
}
