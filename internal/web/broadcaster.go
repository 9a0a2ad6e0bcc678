package web

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Event levels beyond the logrus ones.
const (
	LevelResult = "result" // analysis text of a finished capture
	LevelState  = "state"  // capture lifecycle: started, done, failed
)

// StatusEvent is one SSE payload.
type StatusEvent struct {
	Time   string `json:"t"`
	Level  string `json:"l,omitempty"`
	Msg    string `json:"msg"`
	Prompt string `json:"prompt,omitempty"`
}

// StatusBroadcaster fans status events out to SSE clients.
// Slow clients miss events rather than blocking the capture.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	bufSize int
	now     func() time.Time
}

// NewStatusBroadcaster creates a broadcaster with a 64-event buffer per client.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
		bufSize: 64,
		now:     time.Now,
	}
}

// Subscribe registers a client. The returned cancel func must be called on
// disconnect; it closes the channel.
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, b.bufSize)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Clients returns the number of subscribed clients.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *StatusBroadcaster) publish(evt StatusEvent) {
	evt.Time = b.now().Format(time.RFC3339)
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Broadcast sends {"t":...,"l":level,"msg":msg} to every client.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.publish(StatusEvent{Level: level, Msg: msg})
}

// BroadcastResult sends the answer to prompt. An empty prompt means the
// default one was used.
func (b *StatusBroadcaster) BroadcastResult(prompt, text string) {
	b.publish(StatusEvent{Level: LevelResult, Msg: text, Prompt: prompt})
}

// Hook returns a logrus hook that mirrors log entries to SSE clients.
func (b *StatusBroadcaster) Hook() logrus.Hook {
	return &broadcastHook{b: b}
}

type broadcastHook struct {
	b *StatusBroadcaster
}

func (h *broadcastHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *broadcastHook) Fire(e *logrus.Entry) error {
	msg := strings.TrimSpace(e.Message)
	if err, ok := e.Data[logrus.ErrorKey].(error); ok {
		msg = strings.TrimSpace(msg + ": " + err.Error())
	}
	if msg != "" {
		h.b.Broadcast(e.Level.String(), msg)
	}
	return nil
}
