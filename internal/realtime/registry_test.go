package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegistry_Register_Multiple_Connections_Same_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	// Given a user with two tabs
	req.NoError(registry.Register(NewConnection("c1", Identity{UserID: "alice"}, &recorder{}, time.Now())))
	req.NoError(registry.Register(NewConnection("c2", Identity{UserID: "alice"}, &recorder{}, time.Now())))

	// Then both are tracked under the same user
	req.True(registry.IsUserOnline("alice"))
	req.ElementsMatch([]ConnID{"c1", "c2"}, registry.ConnectionsFor("alice"))
	req.Equal(2, registry.Len())
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	req.NoError(registry.Register(NewConnection("c1", Identity{UserID: "alice"}, &recorder{}, time.Now())))

	// When the same connection id is registered again
	err := registry.Register(NewConnection("c1", Identity{UserID: "bob"}, &recorder{}, time.Now()))

	// Then it is rejected and the original is untouched
	req.ErrorIs(err, ErrDuplicateConnection)
	conn, ok := registry.Get("c1")
	req.True(ok)
	req.Equal(UserID("alice"), conn.UserID)
	req.False(registry.IsUserOnline("bob"))
}

func TestRegistry_Unregister_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	req.NoError(registry.Register(NewConnection("c1", Identity{UserID: "alice"}, &recorder{}, time.Now())))

	req.NotNil(registry.Unregister("c1"))
	req.Nil(registry.Unregister("c1"))
	req.Nil(registry.Unregister("never-registered"))

	req.False(registry.IsUserOnline("alice"))
	req.Empty(registry.ConnectionsFor("alice"))
	req.Empty(registry.byUser)
}

func TestRegistry_User_Stays_Online_While_One_Connection_Remains(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	req.NoError(registry.Register(NewConnection("c1", Identity{UserID: "alice"}, &recorder{}, time.Now())))
	req.NoError(registry.Register(NewConnection("c2", Identity{UserID: "alice"}, &recorder{}, time.Now())))

	registry.Unregister("c1")

	req.True(registry.IsUserOnline("alice"))
	req.Equal([]ConnID{"c2"}, registry.ConnectionsFor("alice"))
}
