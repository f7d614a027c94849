package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voicefront/internal/store"
)

var (
	ErrNumberNotFound  = errors.New("session: number not found")
	ErrSessionNotFound = errors.New("session: not found")
)

// maxTurns bounds the retained conversation window; older turns are
// silently discarded so prompt size stays fixed.
const maxTurns = 10

const (
	defaultGreeting = "Hello, thank you for calling. How can I help you today?"
	defaultPersona  = "You are a polite AI receptionist. Greet callers warmly, note their reason for calling, and ask if they need a callback."
)

type Role string

const (
	RoleCaller Role = "caller"
	RoleAgent  Role = "agent"
)

type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Session is a read-only snapshot of one live call's conversation state.
type Session struct {
	CallSID       string `json:"call_sid"`
	UserID        string `json:"user_id"`
	GreetingText  string `json:"greeting_text"`
	PersonaPrompt string `json:"persona_prompt"`
	Turns         []Turn `json:"turns"`
}

// liveSession is the mutable registry entry. Its mutex serializes all
// operations on one call; the registry mutex only guards the map itself,
// so a slow operation on one call never delays another.
type liveSession struct {
	mu sync.Mutex

	callSID       string
	userID        string
	greetingText  string
	personaPrompt string
	turns         []Turn
}

func (ls *liveSession) snapshot() Session {
	turns := make([]Turn, len(ls.turns))
	copy(turns, ls.turns)
	return Session{
		CallSID:       ls.callSID,
		UserID:        ls.userID,
		GreetingText:  ls.greetingText,
		PersonaPrompt: ls.personaPrompt,
		Turns:         turns,
	}
}

// Replier produces the agent's next utterance from the retained window.
type Replier interface {
	Reply(ctx context.Context, personaPrompt string, turns []Turn) (string, error)
}

// Registry owns all live call sessions for this process. Sessions are
// ephemeral: a restart drops them, and the next event for a still-active
// call recreates one without prior context.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*liveSession

	store   store.Store
	replier Replier
	clock   func() time.Time
}

func NewRegistry(st store.Store, replier Replier) *Registry {
	return &Registry{
		sessions: make(map[string]*liveSession),
		store:    st,
		replier:  replier,
		clock:    time.Now,
	}
}

// Create resolves the owning user from the dialed number, loads the active
// agent persona (built-in default when none is active), inserts the Call
// row as in-progress, and registers the session. A second Create for the
// same call SID replaces the prior session wholesale.
func (r *Registry) Create(ctx context.Context, callSID, fromNumber, toNumber string) (Session, error) {
	num, err := r.store.GetNumberByE164(ctx, toNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: %s", ErrNumberNotFound, toNumber)
		}
		return Session{}, err
	}

	greeting, persona := defaultGreeting, defaultPersona
	cfg, err := r.store.GetActiveAgentConfig(ctx, num.UserID)
	switch {
	case err == nil:
		if cfg.GreetingText != "" {
			greeting = cfg.GreetingText
		}
		if cfg.PersonaPrompt != "" {
			persona = cfg.PersonaPrompt
		}
	case errors.Is(err, store.ErrNotFound):
		// no active persona; keep defaults
	default:
		return Session{}, err
	}

	now := r.clock().UTC()
	if _, err := r.store.UpsertCallBySID(ctx, store.UpsertCallParams{
		TwilioCallSID: callSID,
		UserID:        num.UserID,
		FromNumber:    fromNumber,
		ToNumber:      toNumber,
		Status:        store.CallStatusInProgress,
		StartedAt:     &now,
	}); err != nil {
		return Session{}, err
	}

	ls := &liveSession{
		callSID:       callSID,
		userID:        num.UserID,
		greetingText:  greeting,
		personaPrompt: persona,
	}

	r.mu.Lock()
	r.sessions[callSID] = ls
	r.mu.Unlock()

	return ls.snapshot(), nil
}

// Get returns a snapshot of the session, or ok=false when absent.
func (r *Registry) Get(callSID string) (Session, bool) {
	r.mu.Lock()
	ls, ok := r.sessions[callSID]
	r.mu.Unlock()
	if !ok {
		return Session{}, false
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.snapshot(), true
}

// AppendTurn appends one turn to the call's history, retaining only the
// most recent maxTurns entries.
func (r *Registry) AppendTurn(callSID string, role Role, text string) error {
	r.mu.Lock()
	ls, ok := r.sessions[callSID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, callSID)
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.append(role, text)
	return nil
}

func (ls *liveSession) append(role Role, text string) {
	ls.turns = append(ls.turns, Turn{Role: role, Text: text})
	if len(ls.turns) > maxTurns {
		ls.turns = ls.turns[len(ls.turns)-maxTurns:]
	}
}

// ProcessCallerText appends the caller's utterance, asks the replier for
// the agent's response over the retained window, appends it, and returns
// it. The per-session lock is held across the replier call: turns for one
// call must land in arrival order, and serializing here is what guarantees
// it. The cost is that AppendTurn, Get, and a concurrent ProcessCallerText
// for the same call wait behind an in-flight reply (End only touches the
// registry map, so it never blocks). Other calls are unaffected: the
// registry lock is released before the replier is called.
func (r *Registry) ProcessCallerText(ctx context.Context, callSID, text string) (string, error) {
	r.mu.Lock()
	ls, ok := r.sessions[callSID]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSessionNotFound, callSID)
	}
	if r.replier == nil {
		return "", errors.New("session: replier not configured")
	}

	ls.mu.Lock()
	defer ls.mu.Unlock()

	ls.append(RoleCaller, text)

	window := make([]Turn, len(ls.turns))
	copy(window, ls.turns)

	reply, err := r.replier.Reply(ctx, ls.personaPrompt, window)
	if err != nil {
		return "", fmt.Errorf("session: reply: %w", err)
	}

	ls.append(RoleAgent, reply)
	return reply, nil
}

// End removes the session. Ending an absent session is a no-op.
func (r *Registry) End(callSID string) {
	r.mu.Lock()
	delete(r.sessions, callSID)
	r.mu.Unlock()
}

// Len reports the number of live sessions (metrics/tests).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
