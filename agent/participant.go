package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"collabtext/internal/reconcile"
	"collabtext/internal/relay"
)

const writeWait = 10 * time.Second

// participant drives one reconciler per connection from a single goroutine:
// server messages and local edits are handled one at a time.
type participant struct {
	name  string
	log   *zap.Logger
	out   io.Writer
	lines <-chan string
}

// reconnect runs sessions against url until ctx is done or b gives up. Each
// session is a new participant. A session that got as far as init resets b
// when it ends, so time spent connected never counts against
// b.MaxElapsedTime and the next dial starts from the initial interval.
func (p *participant) reconnect(ctx context.Context, url string, b *backoff.ExponentialBackOff) error {
	return backoff.Retry(func() error {
		joined := false
		err := p.session(ctx, url, func() { joined = true })
		if joined {
			b.Reset()
		}
		if err != nil && ctx.Err() == nil {
			p.log.Warn("session ended", zap.Error(err))
		}
		return err
	}, backoff.WithContext(b, ctx))
}

// session runs one connection until it fails or ctx is done. onInit, if not
// nil, is called when the server assigns an identity.
func (p *participant) session(ctx context.Context, url string, onInit func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return errors.Wrapf(err, "dial %s", url)
	}
	defer conn.Close()

	rec := reconcile.New()
	var name *string
	if p.name != "" {
		name = &p.name
	}
	if err := send(conn, relay.Join{Name: name}); err != nil {
		return err
	}

	incoming := make(chan relay.Message)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			msg, err := relay.DecodeServer(raw)
			if err != nil {
				p.log.Debug("dropped message", zap.Error(err))
				continue
			}
			select {
			case incoming <- msg:
			case <-done:
				return
			}
		}
	}()

	lines := p.lines
	for {
		select {
		case msg := <-incoming:
			switch m := msg.(type) {
			case relay.Init:
				p.log.Info("joined session", zap.String("id", m.ID))
				if onInit != nil {
					onInit()
				}
			case relay.Presence:
				p.log.Info("participant joined", zap.String("id", m.ID), zap.String("name", m.Name))
			}
			changed, err := rec.Handle(msg)
			if err != nil {
				p.log.Warn("apply message", zap.String("type", msg.Type()), zap.Error(err))
				continue
			}
			if changed {
				fmt.Fprintln(p.out, rec.Text())
			}
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}
			if err := p.edit(conn, rec, line); err != nil {
				return err
			}
		case err := <-readErr:
			return errors.Wrap(err, "read")
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return ctx.Err()
		}
	}
}

// edit appends line as a paragraph, sends the snapshot if it changed and
// reports the caret at the end of the document.
func (p *participant) edit(conn *websocket.Conn, rec *reconcile.Reconciler, line string) error {
	snapshot, changed := rec.Edit(func(root *html.Node) {
		para := &html.Node{Type: html.ElementNode, DataAtom: atom.P, Data: "p"}
		para.AppendChild(&html.Node{Type: html.TextNode, Data: line})
		root.AppendChild(para)
	})
	if changed {
		if err := send(conn, relay.Update{HTML: snapshot}); err != nil {
			return err
		}
	}
	rec.SetCaret(rec.Len())
	return send(conn, relay.Cursor{Offset: rec.Caret()})
}

func send(conn *websocket.Conn, m relay.Message) error {
	buf, err := relay.Encode(m)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
		return errors.Wrapf(err, "send %s", m.Type())
	}
	return nil
}
