// Package groupchat coordinates multi-agent conversations: it buffers each
// participant's streaming output, advances turns by explicit mention or
// round-robin, and bridges failed participants into session recovery.
package groupchat

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drewfead/parley/internal/agenterr"
	"github.com/drewfead/parley/internal/logging"
	"github.com/drewfead/parley/internal/protocol"
	"github.com/drewfead/parley/internal/recovery"
	"github.com/drewfead/parley/internal/supervisor"
	"github.com/drewfead/parley/internal/transcript"
)

// Phase is a conversation's routing state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseTurn      Phase = "participant-turn"
	PhaseSynthesis Phase = "synthesis"
	PhaseClosed    Phase = "closed"
)

// Delivery is one completed message handed to the conversation's consumers.
type Delivery struct {
	ConversationID string
	Sender         string // mention name, or "moderator" for synthesis
	Agent          string
	Text           string
	Usage          *protocol.UsageStats
	Synthesis      bool
	Time           time.Time
}

// ErrClosed is returned by operations on a closed conversation.
var ErrClosed = fmt.Errorf("conversation closed")

var mentionRe = regexp.MustCompile(`@([A-Za-z0-9][A-Za-z0-9_-]*)`)

// Conversation routes turns between enrolled participants. Exactly one
// participant holds the active turn at a time; its events are applied in
// arrival order under the conversation lock.
type Conversation struct {
	id    string
	sup   *supervisor.Supervisor
	rec   *recovery.Manager
	store transcript.Store

	deliveries chan Delivery

	moderatorTimeout time.Duration

	mu           sync.Mutex
	participants []*Participant
	active       int // index into participants, -1 when no turn is live
	lastTurn     int // rotation position of the most recent turn holder
	phase        Phase
	usage        *protocol.UsageStats // folded across all completed turns
}

// Option customizes a Conversation.
type Option func(*Conversation)

// WithModeratorTimeout bounds the wall-clock time a synthesis process may run.
func WithModeratorTimeout(d time.Duration) Option {
	return func(c *Conversation) { c.moderatorTimeout = d }
}

// NewConversation creates an idle conversation. The transcript store may be
// nil, in which case history-dependent recovery falls back to bare respawn.
func NewConversation(id string, sup *supervisor.Supervisor, rec *recovery.Manager, store transcript.Store, opts ...Option) *Conversation {
	c := &Conversation{
		id:               id,
		sup:              sup,
		rec:              rec,
		store:            store,
		deliveries:       make(chan Delivery, 256),
		moderatorTimeout: 2 * time.Minute,
		active:           -1,
		lastTurn:         -1,
		phase:            PhaseIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the conversation id.
func (c *Conversation) ID() string { return c.id }

// Deliveries is the stream of completed messages. Single consumer; a full
// channel drops the oldest pending delivery rather than stalling routing.
func (c *Conversation) Deliveries() <-chan Delivery { return c.deliveries }

// AddParticipant enrolls a participant. Mention names must be unique within
// the conversation.
func (c *Conversation) AddParticipant(p *Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseClosed {
		return ErrClosed
	}
	for _, existing := range c.participants {
		if existing.MentionName == p.MentionName {
			return fmt.Errorf("mention name taken: %s", p.MentionName)
		}
	}
	c.participants = append(c.participants, p)
	return nil
}

// RemoveParticipant drops a participant from the rotation. An active turn
// held by the removed participant advances as though it produced no response.
func (c *Conversation) RemoveParticipant(mentionName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := -1
	for i, p := range c.participants {
		if p.MentionName == mentionName {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	wasActive := c.active == idx
	c.participants = append(c.participants[:idx], c.participants[idx+1:]...)
	if c.active > idx {
		c.active--
	}
	if c.lastTurn > idx {
		c.lastTurn--
	} else if c.lastTurn == idx {
		c.lastTurn = idx - 1
	}
	if wasActive {
		c.active = -1
		c.advanceLocked("")
	}
}

// Participants returns the current rotation in order.
func (c *Conversation) Participants() []*Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Participant, len(c.participants))
	copy(out, c.participants)
	return out
}

// Start opens the conversation with a user prompt delivered to the first
// non-failed participant.
func (c *Conversation) Start(ctx context.Context, prompt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseClosed {
		return ErrClosed
	}
	if len(c.participants) == 0 {
		return fmt.Errorf("conversation %s: no participants", c.id)
	}

	c.appendTranscript(ctx, &transcript.Message{
		ConversationID: c.id,
		Sender:         "user",
		Kind:           protocol.EventText,
		Text:           prompt,
	})

	first := c.nextIndexLocked(-1)
	if first < 0 {
		return fmt.Errorf("conversation %s: all participants failed", c.id)
	}
	c.beginTurnLocked(first, "user", prompt)
	return nil
}

// RouteAgentResponse feeds one normalized event from the active participant
// into the conversation. Partial text accumulates in the participant's
// buffer; a result event flushes it as the turn's full message and advances
// routing. Events from non-active participants are ignored.
func (c *Conversation) RouteAgentResponse(ctx context.Context, p *Participant, ev *protocol.Event) {
	if ev == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseClosed {
		return
	}
	if !c.isActiveLocked(p) {
		return
	}

	if id := p.parser.ExtractSessionID(ev); id != "" && p.NativeID == "" {
		p.NativeID = id
	}

	switch ev.Type {
	case protocol.EventText:
		if ev.IsPartial {
			p.Buffer.AddPartial(ev.Text)
		} else if ev.Text != "" {
			p.Buffer.SetFinal(ev.Text)
		}
	}
	// Classified stream errors reach HandleAgentError through the
	// supervisor bridge, not this path.

	if p.parser.IsResult(ev) {
		// Failed results carry their message on the record itself; nothing
		// streamed into the buffer first.
		if p.Buffer.Len() == 0 && ev.Text != "" {
			p.Buffer.SetFinal(ev.Text)
		}
		c.completeTurnLocked(ctx, p, p.parser.ExtractUsage(ev))
	}
}

// RouteModeratorResponse feeds an event from a moderator-role participant.
// Moderator turns route identically but their completed text never triggers
// mention-based redirection back into the rotation.
func (c *Conversation) RouteModeratorResponse(ctx context.Context, p *Participant, ev *protocol.Event) {
	if ev == nil || p.Role != RoleModerator {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseClosed || !c.isActiveLocked(p) {
		return
	}

	switch ev.Type {
	case protocol.EventText:
		if ev.IsPartial {
			p.Buffer.AddPartial(ev.Text)
		} else if ev.Text != "" {
			p.Buffer.SetFinal(ev.Text)
		}
	}

	if p.parser.IsResult(ev) {
		if p.Buffer.Len() == 0 && ev.Text != "" {
			p.Buffer.SetFinal(ev.Text)
		}
		text := p.Buffer.Flush()
		p.State = TurnResponded
		usage := p.parser.ExtractUsage(ev)
		if usage != nil {
			c.usage = protocol.SumUsage(c.usage, usage)
		}
		c.deliver(Delivery{
			ConversationID: c.id,
			Sender:         p.MentionName,
			Agent:          p.Agent,
			Text:           text,
			Usage:          usage,
			Time:           time.Now(),
		})
		c.appendTranscript(ctx, &transcript.Message{
			ConversationID: c.id,
			Sender:         p.MentionName,
			Agent:          p.Agent,
			Kind:           protocol.EventText,
			Text:           text,
		})
		c.active = -1
		c.advanceLocked("")
	}
}

// MarkParticipantResponded forces turn completion when no clean result event
// will arrive, such as after a manual interrupt. Whatever the buffer holds
// becomes the turn's message.
func (c *Conversation) MarkParticipantResponded(ctx context.Context, p *Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == PhaseClosed || !c.isActiveLocked(p) {
		return
	}
	c.completeTurnLocked(ctx, p, nil)
}

// HandleAgentError reacts to a classified failure of a participant's session.
// Recoverable failures during that participant's turn go through recovery;
// exhausted or unrecoverable ones mark the participant permanently failed and
// advance the rotation as though it produced no response.
func (c *Conversation) HandleAgentError(ctx context.Context, p *Participant, aerr *agenterr.AgentError) {
	c.mu.Lock()
	if c.phase == PhaseClosed || p.Failed {
		c.mu.Unlock()
		return
	}

	pendingTurn := c.isActiveLocked(p)
	if c.rec == nil || !c.rec.NeedsRecovery(aerr, pendingTurn) {
		c.failParticipantLocked(ctx, p, aerr)
		c.mu.Unlock()
		return
	}
	if p.RecoveryAttempts >= c.rec.MaxAttempts() {
		logging.Warn("participant exhausted recovery attempts",
			"conversation", c.id, "participant", p.MentionName, "attempts", p.RecoveryAttempts)
		c.failParticipantLocked(ctx, p, aerr)
		c.mu.Unlock()
		return
	}

	p.RecoveryAttempts++
	p.State = TurnRecovering
	attempt := p.RecoveryAttempts - 1
	c.mu.Unlock()

	go func() {
		if err := c.RespawnParticipantWithRecovery(ctx, p, attempt); err != nil {
			logging.Error("participant respawn failed",
				"conversation", c.id, "participant", p.MentionName, "error", err)
			c.mu.Lock()
			c.failParticipantLocked(ctx, p, aerr)
			c.mu.Unlock()
		}
	}()
}

// RespawnParticipantWithRecovery restarts a participant's session via the
// recovery manager. The session id is reused, so existing supervisor
// subscriptions re-attach to the new process automatically.
func (c *Conversation) RespawnParticipantWithRecovery(ctx context.Context, p *Participant, attempt int) error {
	if c.rec == nil {
		return fmt.Errorf("recovery disabled")
	}

	spec := recovery.RespawnSpec{
		SessionID:      p.Spawn.SessionID,
		Agent:          p.Spawn.Agent,
		Command:        p.Spawn.Command,
		Args:           p.Spawn.Args,
		Dir:            p.Spawn.Dir,
		Env:            p.Spawn.Env,
		Mode:           p.Spawn.Mode,
		NativeID:       p.NativeID,
		ResumeArgs:     p.ResumeArgs,
		ConversationID: c.id,
		Attempt:        attempt,
	}

	handle, err := c.rec.Respawn(ctx, spec)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	p.SessionID = handle.ID()
	if c.isActiveLocked(p) {
		p.State = TurnResponding
	} else {
		p.State = TurnWaiting
	}
	return nil
}

// SpawnModeratorSynthesis runs an ephemeral one-shot moderator whose prompt
// is the full transcript. It is not a standing participant: the process
// lives only for this call, bounded by the moderator timeout, and its final
// text is returned and delivered as a synthesis message.
func (c *Conversation) SpawnModeratorSynthesis(ctx context.Context, spawn supervisor.SpawnConfig) (string, error) {
	c.mu.Lock()
	if c.phase == PhaseClosed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	c.phase = PhaseSynthesis
	c.mu.Unlock()

	prompt, err := c.synthesisPrompt(ctx)
	if err != nil {
		return "", fmt.Errorf("synthesis %s: %w", c.id, err)
	}

	parser, err := protocol.ForAgent(spawn.Agent)
	if err != nil {
		return "", fmt.Errorf("synthesis %s: %w", c.id, err)
	}

	spawn.SessionID = c.id + "-synthesis-" + uuid.NewString()[:8]
	spawn.Prompt = prompt
	if spawn.Mode == "" {
		spawn.Mode = supervisor.ModePipe
	}

	sub := c.sup.Subscribe(spawn.SessionID)
	defer sub.Cancel()

	handle, err := c.sup.Spawn(ctx, spawn)
	if err != nil {
		return "", fmt.Errorf("synthesis %s: %w", c.id, err)
	}

	timer := time.NewTimer(c.moderatorTimeout)
	defer timer.Stop()

	var buf OutputBuffer
	for {
		select {
		case ev := <-sub.C:
			switch ev.Type {
			case supervisor.EventData:
				parsed := parser.ParseLine(ev.Line)
				if parsed == nil {
					continue
				}
				if parsed.Type == protocol.EventText {
					if parsed.IsPartial {
						buf.AddPartial(parsed.Text)
					} else if parsed.Text != "" {
						buf.SetFinal(parsed.Text)
					}
				}
				if parser.IsResult(parsed) {
					if buf.Len() == 0 && parsed.Text != "" {
						buf.SetFinal(parsed.Text)
					}
					text := c.finishSynthesis(ctx, spawn.Agent, buf.Flush())
					return text, nil
				}
			case supervisor.EventExit:
				if text := buf.Flush(); text != "" {
					return c.finishSynthesis(ctx, spawn.Agent, text), nil
				}
				return "", fmt.Errorf("synthesis %s: moderator exited with code %d before producing a result", c.id, ev.ExitCode)
			}
		case <-timer.C:
			c.sup.Kill(handle.ID())
			return "", fmt.Errorf("synthesis %s: moderator timed out after %s", c.id, c.moderatorTimeout)
		case <-ctx.Done():
			c.sup.Kill(handle.ID())
			return "", ctx.Err()
		}
	}
}

// Close archives the conversation. Further routing is rejected; participant
// processes are left to their owners.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == PhaseClosed {
		return
	}
	c.phase = PhaseClosed
	c.active = -1
}

// ReadOnlyState reports whether the conversation is archived: closed
// conversations accept no routing and no new participants.
func (c *Conversation) ReadOnlyState() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == PhaseClosed
}

// Phase returns the conversation's current routing phase.
func (c *Conversation) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Usage returns token and cost totals folded across every completed turn,
// or nil when no turn has reported usage.
func (c *Conversation) Usage() *protocol.UsageStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// ---- internals (conversation lock held) ----

func (c *Conversation) isActiveLocked(p *Participant) bool {
	return c.active >= 0 && c.active < len(c.participants) && c.participants[c.active] == p
}

// completeTurnLocked flushes the active participant's buffer, records and
// delivers the message, and routes to the next participant.
func (c *Conversation) completeTurnLocked(ctx context.Context, p *Participant, usage *protocol.UsageStats) {
	text := p.Buffer.Flush()
	p.State = TurnResponded
	if usage != nil {
		c.usage = protocol.SumUsage(c.usage, usage)
	}

	c.deliver(Delivery{
		ConversationID: c.id,
		Sender:         p.MentionName,
		Agent:          p.Agent,
		Text:           text,
		Usage:          usage,
		Time:           time.Now(),
	})
	c.appendTranscript(ctx, &transcript.Message{
		ConversationID: c.id,
		Sender:         p.MentionName,
		Agent:          p.Agent,
		Kind:           protocol.EventText,
		Text:           text,
		Usage:          usage,
	})

	c.active = -1
	c.advanceLocked(text)
}

// advanceLocked picks the next turn holder: an explicit live @mention in the
// completed text wins, otherwise the rotation proceeds round-robin from the
// previous holder, skipping failed participants.
func (c *Conversation) advanceLocked(completedText string) {
	if c.phase == PhaseClosed {
		return
	}

	prev := c.lastTurn
	sender := "user"
	if prev >= 0 && prev < len(c.participants) {
		sender = c.participants[prev].MentionName
	}

	if name := c.firstLiveMentionLocked(completedText, sender); name != "" {
		for i, p := range c.participants {
			if p.MentionName == name {
				c.beginTurnLocked(i, sender, completedText)
				return
			}
		}
	}

	next := c.nextIndexLocked(prev)
	if next < 0 {
		c.phase = PhaseIdle
		return
	}
	if completedText == "" {
		// Advancing past a failed or removed participant with nothing to
		// forward: the next holder just gets the turn, no message.
		c.activateLocked(next)
		return
	}
	c.beginTurnLocked(next, sender, completedText)
}

// nextIndexLocked returns the next non-failed participant after from,
// wrapping around, or -1 if none remain.
func (c *Conversation) nextIndexLocked(from int) int {
	n := len(c.participants)
	if n == 0 {
		return -1
	}
	for step := 1; step <= n; step++ {
		i := (from + step) % n
		if i < 0 {
			i += n
		}
		if !c.participants[i].Failed {
			return i
		}
	}
	return -1
}

// firstLiveMentionLocked returns the first @mention in text that names a
// non-failed participant other than the sender.
func (c *Conversation) firstLiveMentionLocked(text, sender string) string {
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if name == sender {
			continue
		}
		for _, p := range c.participants {
			if p.MentionName == name && !p.Failed {
				return name
			}
		}
	}
	return ""
}

// beginTurnLocked hands the turn to participants[i] and forwards the message
// that triggered it to that participant's process.
func (c *Conversation) beginTurnLocked(i int, sender, message string) {
	c.activateLocked(i)
	p := c.participants[i]
	if message != "" {
		c.sup.Write(p.SessionID, []byte(fmt.Sprintf("%s: %s\n", sender, message)))
	}
}

func (c *Conversation) activateLocked(i int) {
	c.active = i
	c.lastTurn = i
	c.phase = PhaseTurn
	p := c.participants[i]
	p.State = TurnResponding
	for j, other := range c.participants {
		if j != i && other.State == TurnResponded {
			other.State = TurnWaiting
		}
	}
}

// failParticipantLocked marks a participant permanently failed and, if it
// held the active turn, advances as though it produced no response.
func (c *Conversation) failParticipantLocked(ctx context.Context, p *Participant, aerr *agenterr.AgentError) {
	p.Failed = true
	p.State = TurnResponded
	logging.Warn("participant permanently failed",
		"conversation", c.id, "participant", p.MentionName, "kind", string(aerr.Kind))

	c.appendTranscript(ctx, &transcript.Message{
		ConversationID: c.id,
		Sender:         p.MentionName,
		Agent:          p.Agent,
		Kind:           protocol.EventError,
		Text:           aerr.Message,
	})

	if c.isActiveLocked(p) {
		c.active = -1
		c.advanceLocked("")
	}
}

func (c *Conversation) finishSynthesis(ctx context.Context, agent, text string) string {
	c.deliver(Delivery{
		ConversationID: c.id,
		Sender:         "moderator",
		Agent:          agent,
		Text:           text,
		Synthesis:      true,
		Time:           time.Now(),
	})
	c.appendTranscript(ctx, &transcript.Message{
		ConversationID: c.id,
		Sender:         "moderator",
		Agent:          agent,
		Kind:           protocol.EventText,
		Text:           text,
	})
	return text
}

func (c *Conversation) synthesisPrompt(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("Summarize the following multi-agent conversation. Highlight agreements, disagreements, and concrete conclusions.\n\n")

	if c.store != nil {
		msgs, err := c.store.All(ctx, c.id)
		if err != nil {
			return "", err
		}
		for _, msg := range msgs {
			if msg.Text == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Text)
		}
	}
	return b.String(), nil
}

func (c *Conversation) appendTranscript(ctx context.Context, msg *transcript.Message) {
	if c.store == nil {
		return
	}
	if _, err := c.store.Append(ctx, msg); err != nil {
		logging.Error("transcript append failed", "conversation", c.id, "error", err)
	}
}

// deliver pushes without blocking; when the consumer lags, the oldest
// pending delivery is dropped to keep routing live.
func (c *Conversation) deliver(d Delivery) {
	for {
		select {
		case c.deliveries <- d:
			return
		default:
			select {
			case <-c.deliveries:
			default:
			}
		}
	}
}
