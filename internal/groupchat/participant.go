package groupchat

import (
	"github.com/drewfead/parley/internal/protocol"
	"github.com/drewfead/parley/internal/supervisor"
)

// Role distinguishes the moderator from ordinary participants.
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
)

// TurnState tracks where a participant stands in the current round.
type TurnState string

const (
	TurnWaiting    TurnState = "waiting"
	TurnResponding TurnState = "responding"
	TurnResponded  TurnState = "responded"
	TurnRecovering TurnState = "recovering"
)

// Participant is one agent session enrolled in a conversation. The recovery
// attempt counter lives here because participants recover independently, each
// against its own ceiling.
type Participant struct {
	SessionID   string
	Agent       string
	MentionName string
	Role        Role
	State       TurnState

	Buffer OutputBuffer

	// Spawn is the participant's original spawn configuration, kept so
	// recovery can restart the session with identical parameters.
	Spawn supervisor.SpawnConfig

	// ResumeArgs is the agent's resume argument template ("{id}" expands
	// to NativeID). Empty when the agent cannot resume natively.
	ResumeArgs []string

	// NativeID is the agent-native session id captured from the stream.
	NativeID string

	RecoveryAttempts int
	Failed           bool

	parser protocol.Parser
}

// NewParticipant enrolls a session under a mention name. The spawn config is
// retained for recovery; the parser is resolved from its agent field.
func NewParticipant(mentionName string, role Role, spawn supervisor.SpawnConfig, resumeArgs []string) (*Participant, error) {
	parser, err := protocol.ForAgent(spawn.Agent)
	if err != nil {
		return nil, err
	}
	return &Participant{
		SessionID:   spawn.SessionID,
		Agent:       parser.Agent(),
		MentionName: mentionName,
		Role:        role,
		State:       TurnWaiting,
		Spawn:       spawn,
		ResumeArgs:  resumeArgs,
		parser:      parser,
	}, nil
}

// Parser returns the participant's protocol parser.
func (p *Participant) Parser() protocol.Parser { return p.parser }
