package main

import (
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"clickerclicker.app/internal/protocol"
)

// bot drives a local game daemon with synthetic clicks and keystrokes.
func main() {
	var (
		url      = flag.String("url", "ws://localhost:8787/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		every    = flag.Duration("every", 250*time.Millisecond, "input batch interval")
		maxClick = flag.Int("max_clicks", 3, "max clicks per batch")
		maxKeys  = flag.Int("max_keys", 6, "max keys per batch")
		watch    = flag.Bool("watch", true, "log stage/coins from STATE pushes")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      *name,
		WantState:       watch,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		var lastStage uint32
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil {
				continue
			}
			switch base.Type {
			case protocol.TypeWelcome:
				var w protocol.WelcomeMsg
				if err := json.Unmarshal(msg, &w); err != nil {
					continue
				}
				logger.Printf("WELCOME session=%s tick_rate=%d stage=%d", w.SessionID, w.TickRateHz, w.Stage)
			case protocol.TypeState:
				var st protocol.StateMsg
				if err := json.Unmarshal(msg, &st); err != nil {
					continue
				}
				if st.State.Stage != lastStage {
					lastStage = st.State.Stage
					logger.Printf("tick=%d stage=%d coins=%d units=%d/%d", st.Tick, st.State.Stage, st.State.Coins, len(st.State.PlayerUnits), len(st.State.EnemyUnits))
				}
			case protocol.TypeError:
				var em protocol.ErrorMsg
				if err := json.Unmarshal(msg, &em); err == nil {
					logger.Printf("ERROR %s: %s", em.Code, em.Message)
				}
			}
		}
	}()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(*every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
			return
		case <-done:
			logger.Printf("connection closed")
			return
		case <-ticker.C:
			in := protocol.InputMsg{
				Type:            protocol.TypeInput,
				ProtocolVersion: protocol.Version,
				Clicks:          rng.Intn(*maxClick + 1),
				Keys:            rng.Intn(*maxKeys + 1),
			}
			if in.Clicks == 0 && in.Keys == 0 {
				continue
			}
			if err := conn.WriteJSON(in); err != nil {
				logger.Printf("send INPUT: %v", err)
				return
			}
		}
	}
}
