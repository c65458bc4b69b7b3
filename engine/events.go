package engine

import (
	"fmt"
	"time"
)

type EventKind string

const (
	EventStarted  EventKind = "started"
	EventTick     EventKind = "tick"
	EventSignal   EventKind = "signal"
	EventBuy      EventKind = "buy"
	EventSell     EventKind = "sell"
	EventRejected EventKind = "rejected"
	EventWarning  EventKind = "warning"
	EventError    EventKind = "error"
	EventStopped  EventKind = "stopped"
)

// StoppedMessage is the text of the terminal EventStopped marker.
const StoppedMessage = "loop stopped"

// Event is one observation from the runner, in order of occurrence.
type Event struct {
	Time     time.Time `json:"time"`
	Kind     EventKind `json:"kind"`
	Message  string    `json:"message"`
	Symbol   string    `json:"symbol,omitempty"`
	Signal   string    `json:"signal,omitempty"`
	Price    float64   `json:"price,omitempty"`
	Quantity float64   `json:"quantity,omitempty"`
	PnL      float64   `json:"pnl,omitempty"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

func (e Event) String() string {
	s := fmt.Sprintf("%s [%s] %s", e.Time.Format("2006-01-02 15:04:05"), e.Kind, e.Message)
	if e.Error != "" {
		s += ": " + e.Error
	}
	return s
}
