// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mapshell/mapshell/internal/events"
	"github.com/mapshell/mapshell/pkg/errutil"
)

// StreamMessage is one frame of the tree stream.
type StreamMessage struct {
	Type      string    `json:"type"`
	EventID   string    `json:"eventId,omitempty"`
	Tree      *TreeView `json:"tree,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream message types.
const (
	MessageTree = "tree"
	MessagePing = "ping"
)

// handleTreeStream sends the current tree on connect and again after
// every tree change. Clients only read; anything they send is discarded.
func (s *Server) handleTreeStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		errutil.LogWarn(r.Context(), s.logger, "tree stream rejected", ErrUpgrade(err))
		return
	}
	defer conn.Close() //nolint:errcheck // best effort on shutdown

	hub := s.rt.Hub()
	sub := hub.Subscribe(events.TypeTreeChanged)
	defer hub.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go s.readPump(conn, cancel)

	view := s.treeView()
	if err := s.write(conn, StreamMessage{Type: MessageTree, Tree: &view, Timestamp: time.Now()}); err != nil {
		return
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(s.writeTimeout))
				return
			}
			view := s.treeView()
			msg := StreamMessage{Type: MessageTree, EventID: e.ID.String(), Tree: &view, Timestamp: e.Timestamp}
			if err := s.write(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(conn, StreamMessage{Type: MessagePing, Timestamp: time.Now()}); err != nil {
				return
			}
		}
	}
}

func (s *Server) write(conn *websocket.Conn, msg StreamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Debug("tree stream write failed", "error", err)
		return err
	}
	return nil
}

func (s *Server) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("tree stream closed", "error", err)
			}
			return
		}
	}
}
