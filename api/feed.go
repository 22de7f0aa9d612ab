// Package api connects a session to an upstream territory feed over a
// websocket and routes incoming messages into the runtime: binary bulk
// snapshots and delta batches, plus the legacy keyed-update text format.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/unching-nasake/teien-seiryokuzu-sub002/truntime"
	"github.com/unching-nasake/teien-seiryokuzu-sub002/wire"
)

// resyncRequest asks the upstream for a fresh bulk snapshot after a
// message failed to decode or apply.
type resyncRequest struct {
	Type    string  `json:"type"`
	Version float64 `json:"version"`
	Reason  string  `json:"reason"`
}

// Feed is one upstream websocket subscription bound to a session. A
// dropped connection ends the feed; reconnecting is the caller's call.
type Feed struct {
	session *truntime.Session
	conn    *websocket.Conn
	log     *logrus.Entry

	// resync requests are throttled so a burst of bad messages does not
	// hammer the upstream with snapshot fetches
	resyncLimiter *rate.Limiter

	done chan struct{}
}

// Dial connects to the upstream feed endpoint.
func Dial(ctx context.Context, url string, session *truntime.Session) (*Feed, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial feed %s: %w", url, err)
	}
	return &Feed{
		session:       session,
		conn:          conn,
		log:           logrus.WithField("component", "feed"),
		resyncLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
		done:          make(chan struct{}),
	}, nil
}

// Run reads messages until the connection closes or the context is
// cancelled. It returns the terminal error, nil on a clean close.
func (f *Feed) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		f.conn.Close()
	}()
	defer close(f.done)

	for {
		msgType, data, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read feed: %w", err)
		}
		f.handle(msgType, data)
	}
}

// Done closes when the read loop has exited.
func (f *Feed) Done() <-chan struct{} { return f.done }

// Close tears the connection down.
func (f *Feed) Close() error { return f.conn.Close() }

func (f *Feed) handle(msgType int, data []byte) {
	var err error
	switch msgType {
	case websocket.BinaryMessage:
		if len(data) >= len(wire.Magic) && bytes.Equal(data[:len(wire.Magic)], wire.Magic[:]) {
			err = f.session.LoadSnapshot(data)
		} else {
			err = f.session.ApplyDeltaBatch(data)
		}
	case websocket.TextMessage:
		err = f.session.ApplyLegacyUpdates(data)
	default:
		return
	}

	if err != nil {
		f.log.WithError(err).Warn("rejected feed message")
		f.requestResync(err)
	}
}

// requestResync asks the upstream for a fresh snapshot, at most once per
// limiter window. A whole-message rejection leaves the grid at its last
// consistent state, so the resync closes the gap.
func (f *Feed) requestResync(cause error) {
	if !f.resyncLimiter.Allow() {
		return
	}
	req := resyncRequest{
		Type:    "resync",
		Version: f.session.Store().Version(),
		Reason:  reasonOf(cause),
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return
	}
	if err := f.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		f.log.WithError(err).Warn("resync request failed")
	}
}

func reasonOf(err error) string {
	var last error = err
	for {
		next := errors.Unwrap(last)
		if next == nil {
			return last.Error()
		}
		last = next
	}
}
