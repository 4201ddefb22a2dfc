package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"clickerclicker.app/internal/protocol"
	"clickerclicker.app/internal/sim/engine"
)

// Server streams battle state to websocket clients and feeds their INPUT messages into the input
// counter.
type Server struct {
	eng   *engine.Engine
	input *engine.Counter
	hub   *Hub
	log   *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(eng *engine.Engine, input *engine.Counter, hub *Hub, logger *log.Logger) *Server {
	return &Server{
		eng:   eng,
		input: input,
		hub:   hub,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // local daemon
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, name, wantState := s.handshake(conn)
		if sessionID == "" {
			return
		}
		s.logf("ws session %s (%s) connected", sessionID, name)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Replies to bad client frames; the writer goroutine owns the connection for writes.
		replies := make(chan []byte, 4)
		var out chan []byte
		if wantState {
			out = s.hub.Subscribe()
			defer s.hub.Unsubscribe(out)
		}

		// Writer goroutine.
		go func() {
			for {
				var b []byte
				select {
				case <-ctx.Done():
					return
				case b = <-out:
				case b = <-replies:
				}
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeInput {
				s.reply(replies, protocol.ErrProtoBadRequest, "expected INPUT")
				continue
			}
			var in protocol.InputMsg
			if err := json.Unmarshal(msg, &in); err != nil || in.ProtocolVersion != protocol.Version {
				s.reply(replies, protocol.ErrProtoBadRequest, "bad INPUT")
				continue
			}
			if in.Clicks < 0 || in.Keys < 0 {
				s.reply(replies, protocol.ErrInvalidInput, "clicks and keys must be >= 0")
				continue
			}
			if limit := s.eng.Tuning().MaxInputPerBatch; in.Clicks > limit || in.Keys > limit {
				s.reply(replies, protocol.ErrInvalidInput, fmt.Sprintf("clicks and keys must be <= %d", limit))
				continue
			}
			s.input.Add(in.Clicks, in.Keys)
		}
		s.logf("ws session %s closed", sessionID)
	}
}

func (s *Server) handshake(conn *websocket.Conn) (sessionID, name string, wantState bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", "", false
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", "", false
	}
	name = strings.TrimSpace(hello.ClientName)
	if name == "" {
		name = "client"
	}
	wantState = hello.WantState == nil || *hello.WantState

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		TickRateHz:      s.eng.Tuning().TickRateHz,
		Stage:           s.eng.View().Stage,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", "", false
	}
	if wantState {
		// Current state right away so clients do not wait for the next tick.
		if err := writeJSON(conn, protocol.StateMsg{
			Type:            protocol.TypeState,
			ProtocolVersion: protocol.Version,
			Tick:            s.eng.Tick(),
			State:           s.eng.View(),
		}); err != nil {
			return "", "", false
		}
	}
	return welcome.SessionID, name, wantState
}

func (s *Server) reply(ch chan []byte, code, message string) {
	b, err := json.Marshal(protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         message,
	})
	if err != nil {
		return
	}
	select {
	case ch <- b:
	default:
	}
}

func (s *Server) logf(format string, args ...any) {
	if s.log != nil {
		s.log.Printf(format, args...)
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
