package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEngine_Channel_And_Project_Delivery(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	// Given A is in P1 and viewing general, B is in P1 only
	a := connect(t, engine, "A", "alice")
	b := connect(t, engine, "B", "bob")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})
	engine.Dispatch("B", JoinProject{ProjectID: "P1"})

	// When a message is sent to general
	msg := envelope("P1", "general", "carol", "hello")
	report, err := engine.Deliver(ctx, msg, "General")
	req.NoError(err)

	// Then A gets both deliveries
	req.Equal([]ConnID{"A"}, report.Channel.Delivered)
	req.ElementsMatch([]ConnID{"A", "B"}, report.Project.Delivered)
	req.Equal([]Event{NewMessage{ChannelID: "general", Message: msg}}, a.ofType(EventNewMessage))
	req.Len(a.ofType(EventNewMessageGlobal), 1)

	// And B only learns about it through the project-scoped event
	req.Empty(b.ofType(EventNewMessage))
	global := b.ofType(EventNewMessageGlobal)
	req.Len(global, 1)
	req.Equal(ChannelID("general"), global[0].(NewMessageGlobal).ChannelID)
	req.Equal("General", global[0].(NewMessageGlobal).ChannelName)
}

func TestEngine_Channel_Switch_Without_Leave(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	a := connect(t, engine, "A", "alice")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})
	engine.Dispatch("A", JoinChannel{ChannelID: "random"})

	general, err := engine.Deliver(ctx, envelope("P1", "general", "bob", "to general"), "general")
	req.NoError(err)
	random, err := engine.Deliver(ctx, envelope("P1", "random", "bob", "to random"), "random")
	req.NoError(err)

	// A occupies random only
	req.Empty(general.Channel.Delivered)
	req.Equal([]ConnID{"A"}, random.Channel.Delivered)
	messages := a.ofType(EventNewMessage)
	req.Len(messages, 1)
	req.Equal(ChannelID("random"), messages[0].(NewMessage).ChannelID)
	req.Equal([]Event{JoinedChannel{ChannelID: "general"}, JoinedChannel{ChannelID: "random"}}, a.ofType(EventJoinedChannel))
}

func TestEngine_Two_Tabs_One_Disconnects(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	// Given two tabs of alice and an observer in P1
	connect(t, engine, "A1", "alice")
	connect(t, engine, "A2", "alice")
	observer := connect(t, engine, "O", "olivia")
	engine.Dispatch("O", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A1", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A2", JoinProject{ProjectID: "P1"})
	barrier(t, engine)
	observer.reset()

	// When A1 disconnects
	engine.Disconnect("A1")

	// Then alice is still listed exactly once
	req.ElementsMatch([]UserID{"alice", "olivia"}, snapshotUsers(t, engine, "P1"))
	online := observer.ofType(EventProjectOnlineUsers)
	req.Len(online, 1)
	req.Len(online[0].(ProjectOnlineUsers).Users, 2)
	// And nobody is told alice left
	req.Empty(observer.ofType(EventUserLeftProject))
}

func TestEngine_Abrupt_Disconnect_Clears_Presence(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	connect(t, engine, "A", "alice")
	observer := connect(t, engine, "O", "olivia")
	engine.Dispatch("O", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})
	barrier(t, engine)
	req.ElementsMatch([]UserID{"alice", "olivia"}, snapshotUsers(t, engine, "P1"))
	observer.reset()

	// When A goes away without leave_project
	engine.Disconnect("A")

	req.Equal([]UserID{"olivia"}, snapshotUsers(t, engine, "P1"))
	req.Equal([]Event{UserLeftProject{ProjectID: "P1", UserID: "alice", UserName: "alice"}}, observer.ofType(EventUserLeftProject))
	online := observer.ofType(EventProjectOnlineUsers)
	req.Len(online, 1)
	req.Equal([]UserID{"olivia"}, []UserID{online[0].(ProjectOnlineUsers).Users[0].UserID})

	// And A no longer receives channel traffic
	report, err := engine.Deliver(context.Background(), envelope("P1", "general", "olivia", "still there?"), "general")
	req.NoError(err)
	req.Empty(report.Channel.Delivered)

	// Disconnecting again is harmless
	engine.Disconnect("A")
	barrier(t, engine)
}

func TestEngine_LeaveChannel_Twice(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	a := connect(t, engine, "A", "alice")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})
	engine.Dispatch("A", LeaveChannel{ChannelID: "general"})
	barrier(t, engine)
	before := len(a.all())

	// When the leave is retried
	engine.Dispatch("A", LeaveChannel{ChannelID: "general"})
	barrier(t, engine)

	// Then nothing more is emitted
	req.Len(a.all(), before)
	req.Equal([]Event{LeftChannel{ChannelID: "general"}}, a.ofType(EventLeftChannel))
}

func TestEngine_Empty_Channel_Still_Notifies_Project(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	b := connect(t, engine, "B", "bob")
	engine.Dispatch("B", JoinProject{ProjectID: "P1"})

	report, err := engine.Deliver(context.Background(), envelope("P1", "quiet", "alice", "anyone?"), "quiet")

	req.NoError(err)
	req.Empty(report.Channel.Delivered)
	req.Empty(report.Channel.Skipped)
	req.Equal([]ConnID{"B"}, report.Project.Delivered)
	req.Len(b.ofType(EventNewMessageGlobal), 1)
}

func TestEngine_JoinProject_Twice(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	a := connect(t, engine, "A", "alice")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	barrier(t, engine)

	// Membership is unchanged by the retry; only the ack repeats
	req.Equal([]UserID{"alice"}, snapshotUsers(t, engine, "P1"))
	req.Len(a.ofType(EventProjectOnlineUsers), 1)
	acks := a.ofType(EventJoinedProject)
	req.Len(acks, 2)
	req.Equal(acks[0], acks[1])
}

func TestEngine_Join_And_Leave_Advisories(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	observer := connect(t, engine, "O", "olivia")
	a := connect(t, engine, "A", "alice")
	engine.Dispatch("O", JoinProject{ProjectID: "P1"})
	barrier(t, engine)
	observer.reset()

	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", LeaveProject{ProjectID: "P1"})
	barrier(t, engine)

	req.Equal([]Event{UserJoinedProject{ProjectID: "P1", UserID: "alice", UserName: "alice"}}, observer.ofType(EventUserJoinedProject))
	req.Equal([]Event{UserLeftProject{ProjectID: "P1", UserID: "alice", UserName: "alice"}}, observer.ofType(EventUserLeftProject))
	// The joiner is not told about itself
	req.Empty(a.ofType(EventUserJoinedProject))
	req.Equal([]UserID{"olivia"}, snapshotUsers(t, engine, "P1"))
}

func TestEngine_RequestOnlineUsers_And_Ping(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	connect(t, engine, "B", "bob")
	a := connect(t, engine, "A", "alice")
	engine.Dispatch("B", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", RequestOnlineUsers{ProjectID: "P1"})
	engine.Dispatch("A", Ping{Payload: []byte(`{"n":1}`)})
	barrier(t, engine)

	online := a.ofType(EventProjectOnlineUsers)
	req.Len(online, 1)
	req.Equal(UserID("bob"), online[0].(ProjectOnlineUsers).Users[0].UserID)
	req.Equal([]Event{Pong{Payload: []byte(`{"n":1}`)}}, a.ofType(EventPong))
	// Asking does not join
	req.Equal([]UserID{"bob"}, snapshotUsers(t, engine, "P1"))
}

func TestEngine_Duplicate_Register(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	connect(t, engine, "A", "alice")

	err := engine.Register(context.Background(), NewConnection("A", Identity{UserID: "mallory"}, &recorder{}, time.Now()))

	req.ErrorIs(err, ErrDuplicateConnection)
}

func TestEngine_Unknown_Connection_Intent_Is_Ignored(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)

	engine.Dispatch("ghost", JoinProject{ProjectID: "P1"})

	req.Empty(snapshotUsers(t, engine, "P1"))
}

func TestEngine_ChannelCreated(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	in := connect(t, engine, "A", "alice")
	out := connect(t, engine, "B", "bob")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("B", JoinProject{ProjectID: "P2"})

	channel := Channel{ID: "design", ProjectID: "P1", Name: "design"}
	req.NoError(engine.ChannelCreated(ctx, channel))
	barrier(t, engine)

	req.Equal([]Event{ChannelCreated{ProjectID: "P1", Channel: channel}}, in.ofType(EventChannelCreated))
	req.Empty(out.ofType(EventChannelCreated))
}

func TestEngine_RemoveMember_Evicts_All_Connections(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	// Given alice has two tabs in P1, one viewing a P1 channel, and is also in P2
	a1 := connect(t, engine, "A1", "alice")
	connect(t, engine, "A2", "alice")
	owner := connect(t, engine, "O", "olivia")
	engine.Dispatch("O", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A1", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A1", JoinProject{ProjectID: "P2"})
	engine.Dispatch("A2", JoinProject{ProjectID: "P1"})
	req.NoError(engine.ChannelCreated(ctx, Channel{ID: "general", ProjectID: "P1", Name: "general"}))
	engine.Dispatch("A1", JoinChannel{ChannelID: "general"})
	barrier(t, engine)
	owner.reset()

	// When olivia removes alice from P1
	req.NoError(engine.RemoveMember(ctx, "P1", "alice", "olivia"))
	barrier(t, engine)

	// Then everyone in the room, alice included, is told
	removed := MemberRemoved{ProjectID: "P1", RemovedUserID: "alice", RemovedBy: "olivia"}
	req.Equal([]Event{removed}, owner.ofType(EventMemberRemoved))
	req.Equal([]Event{removed}, a1.ofType(EventMemberRemoved))
	req.Equal([]Event{LeftChannel{ChannelID: "general"}}, a1.ofType(EventLeftChannel))
	req.Len(owner.ofType(EventUserLeftProject), 1)

	// And alice is gone from P1 but not from P2
	req.Equal([]UserID{"olivia"}, snapshotUsers(t, engine, "P1"))
	req.Equal([]UserID{"alice"}, snapshotUsers(t, engine, "P2"))

	report, err := engine.Deliver(ctx, envelope("P1", "general", "olivia", "bye"), "general")
	req.NoError(err)
	req.Equal([]ConnID{"O"}, report.Project.Delivered)
	req.Empty(report.Channel.Delivered)
}

func TestEngine_RemoveMember_Channel_Of_Unknown_Project(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	// Given alice views general, whose project the engine has never been told about
	a := connect(t, engine, "A", "alice")
	connect(t, engine, "O", "olivia")
	engine.Dispatch("O", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})
	barrier(t, engine)

	// When alice is removed from P1 and a P1 message then lands in general
	req.NoError(engine.RemoveMember(ctx, "P1", "alice", "olivia"))
	report, err := engine.Deliver(ctx, envelope("P1", "general", "olivia", "secret"), "general")
	req.NoError(err)

	// Then alice sees neither delivery
	req.Empty(report.Channel.Delivered)
	req.Equal([]ConnID{"O"}, report.Project.Delivered)
	req.Empty(a.ofType(EventNewMessage))
	req.Empty(a.ofType(EventNewMessageGlobal))
	req.Equal([]Event{LeftChannel{ChannelID: "general"}}, a.ofType(EventLeftChannel))
}

func TestEngine_RemoveMember_Keeps_Channel_Of_Other_Project(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	// Given alice is in P1 and P2 and views a channel of P2 unknown to the engine
	a := connect(t, engine, "A", "alice")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinProject{ProjectID: "P2"})
	engine.Dispatch("A", JoinChannel{ChannelID: "p2-general"})
	barrier(t, engine)

	// When she is removed from P1
	req.NoError(engine.RemoveMember(ctx, "P1", "alice", "olivia"))

	// Then P2 channel traffic still reaches her
	report, err := engine.Deliver(ctx, envelope("P2", "p2-general", "bob", "hi"), "general")
	req.NoError(err)
	req.Equal([]ConnID{"A"}, report.Channel.Delivered)
	req.Empty(a.ofType(EventLeftChannel))
}

func TestEngine_JoinChannel_Requires_A_Project(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	a := connect(t, engine, "A", "alice")

	// When alice joins a channel without being in any project
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})
	report, err := engine.Deliver(ctx, envelope("P1", "general", "bob", "hi"), "general")
	req.NoError(err)

	// Then the intent is absorbed: no ack, no occupancy
	req.Empty(a.ofType(EventJoinedChannel))
	req.Empty(report.Channel.Delivered)
	req.Empty(a.ofType(EventError))
}

func TestEngine_Leaving_Last_Project_Leaves_Channel(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	a := connect(t, engine, "A", "alice")
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Dispatch("A", JoinChannel{ChannelID: "general"})

	// When
	engine.Dispatch("A", LeaveProject{ProjectID: "P1"})
	report, err := engine.Deliver(ctx, envelope("P1", "general", "bob", "hi"), "general")
	req.NoError(err)

	// Then
	req.Equal([]Event{LeftChannel{ChannelID: "general"}}, a.ofType(EventLeftChannel))
	req.Empty(report.Channel.Delivered)
}

func TestEngine_Per_Channel_Order(t *testing.T) {
	req := require.New(t)
	engine := startEngine(t)
	ctx := context.Background()

	a := connect(t, engine, "A", "alice")
	b := connect(t, engine, "B", "bob")
	for _, id := range []ConnID{"A", "B"} {
		engine.Dispatch(id, JoinProject{ProjectID: "P1"})
		engine.Dispatch(id, JoinChannel{ChannelID: "general"})
	}

	for _, content := range []string{"1", "2", "3", "4", "5"} {
		_, err := engine.Deliver(ctx, envelope("P1", "general", "carol", content), "general")
		req.NoError(err)
	}

	req.Equal(a.ofType(EventNewMessage), b.ofType(EventNewMessage))
	req.Len(a.ofType(EventNewMessage), 5)
	req.Equal("5", a.ofType(EventNewMessage)[4].(NewMessage).Message.Content)
}

func TestEngine_Stopped(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(zap.NewNop())
	go engine.Run(ctx)
	cancel()
	<-engine.Done()

	_, err := engine.Snapshot(context.Background(), "P1")
	req.ErrorIs(err, ErrEngineStopped)
	_, err = engine.Deliver(context.Background(), envelope("P1", "general", "a", "x"), "general")
	req.ErrorIs(err, ErrEngineStopped)
	req.ErrorIs(engine.Register(context.Background(), NewConnection("A", Identity{UserID: "a"}, &recorder{}, time.Now())), ErrEngineStopped)

	// Fire-and-forget calls return instead of blocking
	engine.Dispatch("A", JoinProject{ProjectID: "P1"})
	engine.Disconnect("A")
}
