package webchat

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamWriteWait       = 10 * time.Second
	streamPongWait        = 60 * time.Second
	streamPingPeriod      = (streamPongWait * 9) / 10
	maxConsecutiveSendErr = 5
)

var streamUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleStream upgrades to a WebSocket and streams a conversation's
// activities starting from the given watermark, per spec §4.10: it first
// flushes the backlog since watermark, then relays live broadcasts,
// recovering from subscriber lag by re-reading the store rather than
// trusting the channel alone. The connection is closed after
// maxConsecutiveSendErr consecutive write failures.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.authenticateConversation(r, id); err != nil {
		writeErr(w, http.StatusUnauthorized, "E_UNAUTHORIZED", err.Error())
		return
	}

	var since *int64
	if raw := r.URL.Query().Get("watermark"); raw != "" {
		wm, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "E_BAD_WATERMARK", "watermark must be an integer")
			return
		}
		since = &wm
	}

	conn, err := streamUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", id).Msg("failed to upgrade webchat stream")
		return
	}
	defer conn.Close()

	ch, cancel, err := s.conversations.Subscribe(id)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "E_CONVERSATION_NOT_FOUND"})
		return
	}
	defer cancel()

	lastSent := int64(-1)
	if since != nil {
		lastSent = *since - 1
	}

	backlog, _, err := s.conversations.Activities(id, since)
	if err == nil {
		for _, a := range backlog {
			if a.Watermark <= lastSent {
				continue
			}
			if err := s.writeActivity(conn, a); err != nil {
				return
			}
			lastSent = a.Watermark
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		return nil
	})
	go drainReads(conn)

	consecutiveErrs := 0
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case stored, ok := <-ch:
			if !ok {
				return
			}
			if stored.Watermark <= lastSent {
				continue
			}
			// A watermark gap means the channel buffer dropped activities
			// while this subscriber was lagging; recover by re-reading
			// everything since our last confirmed send.
			if stored.Watermark > lastSent+1 {
				gapFrom := lastSent + 1
				recovered, _, err := s.conversations.Activities(id, &gapFrom)
				if err == nil {
					for _, a := range recovered {
						if a.Watermark <= lastSent {
							continue
						}
						if err := s.writeActivity(conn, a); err != nil {
							consecutiveErrs++
							break
						}
						lastSent = a.Watermark
						consecutiveErrs = 0
					}
					if consecutiveErrs >= maxConsecutiveSendErr {
						return
					}
					continue
				}
			}
			if err := s.writeActivity(conn, stored); err != nil {
				consecutiveErrs++
				if consecutiveErrs >= maxConsecutiveSendErr {
					return
				}
				continue
			}
			lastSent = stored.Watermark
			consecutiveErrs = 0
		}
	}
}

func (s *Server) writeActivity(conn *websocket.Conn, a StoredActivity) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(map[string]any{
		"activities": []Activity{a.Activity},
		"watermark":  strconv.FormatInt(a.Watermark, 10),
	})
}

// drainReads discards client frames so pong control frames are processed;
// the stream is server-push only.
func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
