// Copyright 2024 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package wsbridge exposes a listen.Listener over a websocket connection,
// so a remote peek/tail client can subscribe to a shard's Progress/Updates
// stream without holding an in-process handle to the Machine.
package wsbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunjudev0213/materialize-sub000/logutil"
	"github.com/sunjudev0213/materialize-sub000/persist/listen"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wireEvent is listen.Event flattened to a JSON-friendly shape; Progress is
// marshaled as its upper-bound timestamp set and Batch as its hollow parts
// list, so a client never needs the internal trace types to decode a frame.
type wireEvent struct {
	ProgressUpper []uint64 `json:"progress_upper,omitempty"`
	BatchParts    []string `json:"batch_parts,omitempty"`
	BatchLen      uint64   `json:"batch_len,omitempty"`
}

// Handler upgrades an HTTP request to a websocket and pumps Listener.Poll
// results to it as JSON frames until the client disconnects or ctx is
// canceled. It never returns an error to the HTTP layer once the upgrade
// has succeeded: from that point on, failures are logged and the
// connection is closed.
func Handler(ctx context.Context, l *listen.Listener) http.HandlerFunc {
	log := logutil.New("wsbridge")
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "err", err)
			return
		}
		defer conn.Close()

		connCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go drainClient(connCtx, cancel, conn)

		for {
			events, err := l.Poll(connCtx)
			if err != nil {
				log.Debug("listener poll ended", "err", err)
				return
			}
			for _, ev := range events {
				frame := toWire(ev)
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(frame); err != nil {
					log.Debug("websocket write failed", "err", err)
					return
				}
			}
		}
	}
}

// drainClient discards whatever the client sends (this is a one-way feed)
// so the connection's read side stays unblocked, and cancels ctx once the
// client goes away.
func drainClient(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func toWire(ev listen.Event) wireEvent {
	var w wireEvent
	if ev.Batch != nil {
		w.BatchParts = ev.Batch.Parts
		w.BatchLen = ev.Batch.Len
	} else if t, ok := ev.Progress.Elem(); ok {
		w.ProgressUpper = []uint64{uint64(t)}
	}
	return w
}

// Dial connects to a wsbridge Handler and decodes frames as they arrive,
// sending each onto the returned channel until ctx is canceled or the
// server closes the connection.
func Dial(ctx context.Context, url string) (<-chan json.RawMessage, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	out := make(chan json.RawMessage, 16)
	go func() {
		defer close(out)
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case out <- json.RawMessage(data):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
