package engine

import "time"

// Gameplay event types written to the event log.
const (
	EventStageClear     = "STAGE_CLEAR"
	EventDefeat         = "DEFEAT"
	EventStageReset     = "STAGE_RESET"
	EventPurchase       = "PURCHASE"
	EventAutoBuyStart   = "AUTO_BUY_START"
	EventAutoBuyStop    = "AUTO_BUY_STOP"
	EventAutoBuyExpired = "AUTO_BUY_EXPIRED"
	EventProgressImport = "PROGRESS_IMPORT"
	EventFreshState     = "FRESH_STATE"
)

type Event struct {
	TimeMS int64          `json:"ts"`
	Tick   uint64         `json:"tick"`
	Type   string         `json:"type"`
	Stage  uint32         `json:"stage"`
	Coins  uint64         `json:"coins"`
	Data   map[string]any `json:"data,omitempty"`
}

// EventSink receives events outside the engine lock. Errors are logged and dropped.
type EventSink interface {
	WriteEvent(Event) error
}

func (e *Engine) emitLocked(typ string, data map[string]any) {
	if e.events == nil {
		return
	}
	e.pendingEvents = append(e.pendingEvents, Event{
		TimeMS: e.now().UnixMilli(),
		Tick:   e.tick,
		Type:   typ,
		Stage:  e.st.Stage,
		Coins:  e.st.Coins,
		Data:   data,
	})
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}
