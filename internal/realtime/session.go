//go:generate go run go.uber.org/mock/mockgen -source=session.go -destination=../mocks/mock_token_validator.go -package=mocks
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TokenValidator is the identity collaborator.
// Returns userID, display name, error.
type TokenValidator interface {
	ValidateToken(tokenString string) (string, string, error)
}

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateIdle
	StateInProject
	StateInProjectAndChannel
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateIdle:
		return "idle"
	case StateInProject:
		return "in_project"
	case StateInProjectAndChannel:
		return "in_project_and_channel"
	case StateDisconnected:
		return "disconnected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Controller drives connections through authenticate, register, join/leave
// and disconnect. Reconnecting clients get a brand new Session.
type Controller struct {
	engine    *Engine
	validator TokenValidator
	log       *zap.Logger
	now       func() time.Time
}

func NewController(engine *Engine, validator TokenValidator, log *zap.Logger) *Controller {
	return &Controller{
		engine:    engine,
		validator: validator,
		log:       log.With(zap.String("component", "session-controller")),
		now:       time.Now,
	}
}

// Authenticate verifies the bearer credential before anything is registered.
func (c *Controller) Authenticate(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrAuthenticationFailed)
	}
	userID, name, err := c.validator.ValidateToken(token)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: token without subject", ErrAuthenticationFailed)
	}
	return Identity{UserID: UserID(userID), DisplayName: name}, nil
}

// Open registers an authenticated transport and returns its Session.
// On error nothing is retained and the caller must close the transport.
func (c *Controller) Open(ctx context.Context, identity Identity, transport Sink) (*Session, error) {
	s := &Session{
		id:        ConnID(uuid.NewString()),
		identity:  identity,
		engine:    c.engine,
		transport: transport,
		projects:  make(set[ProjectID]),
		state:     StateConnecting,
	}
	s.log = c.log.With(zap.String("conn_id", string(s.id)), zap.String("user_id", string(identity.UserID)))

	conn := NewConnection(s.id, identity, s, c.now())
	if err := c.engine.Register(ctx, conn); err != nil {
		s.log.Warn("session rejected", zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.mu.Unlock()
	s.log.Info("session opened")
	return s, nil
}

// Session is the per-connection state machine. Intents are handled strictly
// in the order the transport reads them. The Session is also the Sink the
// engine writes to: acknowledgments flowing out update its state.
type Session struct {
	id        ConnID
	identity  Identity
	engine    *Engine
	transport Sink
	log       *zap.Logger

	mu       sync.Mutex
	state    State
	projects set[ProjectID]
	channel  ChannelID

	closeOnce sync.Once
}

func (s *Session) ID() ConnID { return s.id }

func (s *Session) Identity() Identity { return s.identity }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleFrame decodes a raw inbound frame. Undecodable frames get an error
// event; the connection stays open.
func (s *Session) HandleFrame(data []byte) {
	intent, err := DecodeIntent(data)
	if err != nil {
		s.log.Warn("invalid intent", zap.Error(err))
		s.transport.Send(ErrorEvent{Code: "invalid_intent", Message: err.Error()})
		return
	}
	s.Handle(intent)
}

func (s *Session) Handle(intent Intent) {
	if s.State() == StateDisconnected {
		return
	}
	s.engine.Dispatch(s.id, intent)

	if in, ok := intent.(LeaveProject); ok {
		s.mu.Lock()
		delete(s.projects, in.ProjectID)
		s.refreshLocked()
		s.mu.Unlock()
	}
}

// Send implements Sink for the engine.
func (s *Session) Send(evt Event) bool {
	s.observe(evt)
	return s.transport.Send(evt)
}

// Close runs the disconnect cleanup exactly once, whatever the cause.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.engine.Disconnect(s.id)

		s.mu.Lock()
		s.state = StateDisconnected
		s.projects = make(set[ProjectID])
		s.channel = ""
		s.mu.Unlock()
		s.log.Info("session closed")
	})
}

func (s *Session) observe(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return
	}

	switch e := evt.(type) {
	case JoinedProject:
		s.projects[e.ProjectID] = struct{}{}
	case JoinedChannel:
		s.channel = e.ChannelID
	case LeftChannel:
		if s.channel == e.ChannelID {
			s.channel = ""
		}
	case MemberRemoved:
		if e.RemovedUserID == s.identity.UserID {
			delete(s.projects, e.ProjectID)
		}
	default:
		return
	}
	s.refreshLocked()
}

func (s *Session) refreshLocked() {
	switch {
	case len(s.projects) > 0 && s.channel != "":
		s.state = StateInProjectAndChannel
	case len(s.projects) > 0:
		s.state = StateInProject
	default:
		s.state = StateIdle
	}
}

// IsAuthError reports whether err should be answered with 401.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed)
}
