package realtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recorder is an in-memory Sink.
type recorder struct {
	mu     sync.Mutex
	events []Event
	gone   bool
}

func (r *recorder) Send(evt Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gone {
		return false
	}
	r.events = append(r.events, evt)
	return true
}

func (r *recorder) hangUp() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gone = true
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recorder) ofType(t EventType) []Event {
	var out []Event
	for _, evt := range r.all() {
		if evt.EventType() == t {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func startEngine(t *testing.T) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(zap.NewNop())
	go engine.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-engine.Done()
	})
	return engine
}

func connect(t *testing.T, engine *Engine, id ConnID, user UserID) *recorder {
	t.Helper()
	rec := &recorder{}
	conn := NewConnection(id, Identity{UserID: user, DisplayName: string(user)}, rec, time.Now())
	require.NoError(t, engine.Register(context.Background(), conn))
	return rec
}

// barrier returns once every request sent before it has been applied.
func barrier(t *testing.T, engine *Engine) {
	t.Helper()
	_, err := engine.Snapshot(context.Background(), "")
	require.NoError(t, err)
}

func snapshotUsers(t *testing.T, engine *Engine, projectID ProjectID) []UserID {
	t.Helper()
	snapshot, err := engine.Snapshot(context.Background(), projectID)
	require.NoError(t, err)
	users := make([]UserID, 0, len(snapshot.Users))
	for _, u := range snapshot.Users {
		users = append(users, u.UserID)
	}
	return users
}

func envelope(projectID ProjectID, channelID ChannelID, sender UserID, content string) Envelope {
	return Envelope{
		MessageID: "m-" + content,
		ChannelID: channelID,
		ProjectID: projectID,
		SenderID:  sender,
		Content:   content,
		CreatedAt: time.Now(),
	}
}
