package supervisor

import (
	"sync"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
	"github.com/drewfead/parley/internal/protocol"
)

// EventType identifies a supervisor event.
type EventType string

const (
	// EventData is one raw stdout line from a session.
	EventData EventType = "data"
	// EventStderr is one raw stderr line (pipe-mode sessions and runCommand).
	EventStderr EventType = "stderr"
	// EventExit fires exactly once when a session's process exits.
	EventExit EventType = "exit"
	// EventSessionID fires when the agent-native session id is discovered
	// in the output stream, for later resumption.
	EventSessionID EventType = "session-id"
	// EventUsage carries normalized usage extracted from the stream.
	EventUsage EventType = "usage"
	// EventAgentError carries a classified agent failure.
	EventAgentError EventType = "agent-error"
	// EventCommandExit fires when a runCommand execution finishes. Its
	// output never mixes with the session's interactive stream.
	EventCommandExit EventType = "command-exit"
)

// Event is one supervisor notification. Fields are populated per type.
type Event struct {
	Type      EventType
	SessionID string
	Time      time.Time

	Line     string // data, stderr
	ExitCode int    // exit, command-exit

	NativeID string               // session-id
	Usage    *protocol.UsageStats // usage
	Err      *agenterr.AgentError // agent-error

	Command string // command-exit: the command that ran
	Output  string // command-exit: combined stdout
}

// Subscription is a live event feed. Events for one session are delivered in
// production order. Each subscription is intended for a single consumer;
// fan-out to multiple readers of one channel loses ordering.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches the subscription. The channel is not closed, so late
// publishes never panic; readers should stop via their own signal.
func (s *Subscription) Cancel() { s.cancel() }

// notifier is the supervisor's multi-listener event bus.
type notifier struct {
	mu      sync.RWMutex
	nextID  int
	perSess map[string]map[int]chan Event
	global  map[int]chan Event
}

func newNotifier() *notifier {
	return &notifier{
		perSess: make(map[string]map[int]chan Event),
		global:  make(map[int]chan Event),
	}
}

// publish delivers ev to all matching subscribers without blocking. A full
// subscriber channel drops the event for that subscriber only.
func (n *notifier) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, ch := range n.perSess[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, ch := range n.global {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (n *notifier) subscribe(sessionID string, buf int) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan Event, buf)

	if sessionID == "" {
		n.global[id] = ch
	} else {
		if n.perSess[sessionID] == nil {
			n.perSess[sessionID] = make(map[int]chan Event)
		}
		n.perSess[sessionID][id] = ch
	}

	return &Subscription{
		C: ch,
		cancel: func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sessionID == "" {
				delete(n.global, id)
			} else if subs := n.perSess[sessionID]; subs != nil {
				delete(subs, id)
				if len(subs) == 0 {
					delete(n.perSess, sessionID)
				}
			}
		},
	}
}
