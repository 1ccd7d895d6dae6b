package groupchat

import (
	"context"

	"github.com/drewfead/parley/internal/supervisor"
)

// Attach wires a participant's supervisor event stream into the router: raw
// output lines are parsed and routed, classified failures go through
// recovery. It returns a detach func. Because subscriptions key on session
// id and recovery reuses the id, a respawned process re-attaches to the same
// participant slot without re-subscribing.
func (c *Conversation) Attach(ctx context.Context, sup *supervisor.Supervisor, p *Participant) func() {
	sub := sup.Subscribe(p.SessionID)
	done := make(chan struct{})

	go func() {
		defer sub.Cancel()
		for {
			select {
			case ev := <-sub.C:
				c.dispatch(ctx, p, ev)
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() { close(done) }
}

func (c *Conversation) dispatch(ctx context.Context, p *Participant, ev supervisor.Event) {
	switch ev.Type {
	case supervisor.EventData:
		parsed := p.parser.ParseLine(ev.Line)
		if parsed == nil {
			return
		}
		if p.Role == RoleModerator {
			c.RouteModeratorResponse(ctx, p, parsed)
		} else {
			c.RouteAgentResponse(ctx, p, parsed)
		}
	case supervisor.EventSessionID:
		c.mu.Lock()
		if p.NativeID == "" {
			p.NativeID = ev.NativeID
		}
		c.mu.Unlock()
	case supervisor.EventAgentError:
		c.HandleAgentError(ctx, p, ev.Err)
	case supervisor.EventExit:
		// A clean exit mid-turn with no result event still ends the turn.
		if ev.ExitCode == 0 {
			c.MarkParticipantResponded(ctx, p)
		}
	}
}
