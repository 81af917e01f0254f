package realtime

import (
	"context"

	"go.uber.org/zap"
)

type registerRequest struct {
	conn  *Connection
	reply chan error
}

type unregisterRequest struct {
	id   ConnID
	done chan struct{}
}

type intentRequest struct {
	id     ConnID
	intent Intent
}

type deliveryRequest struct {
	envelope    Envelope
	channelName string
	reply       chan DeliveryReport
}

type snapshotRequest struct {
	projectID ProjectID
	reply     chan PresenceSnapshot
}

// notice is an event raised by an external collaborator (REST producers).
type notice interface {
	isNotice()
}

type channelCreatedNotice struct {
	channel Channel
}

type memberRemovedNotice struct {
	projectID ProjectID
	userID    UserID
	removedBy UserID
}

func (channelCreatedNotice) isNotice() {}
func (memberRemovedNotice) isNotice()  {}

// Engine owns the registry, the tracker and the room indexes. Run is the only
// goroutine that touches them; everything else talks to it through channels.
// Because one goroutine dispatches every delivery, all occupants of a channel
// observe its messages in the same order.
type Engine struct {
	registry    *Registry
	tracker     *Tracker
	broadcaster *Broadcaster
	publisher   *Publisher

	// channel -> owning project, learned from deliveries and channel_created
	channelProjects map[ChannelID]ProjectID

	register   chan registerRequest
	unregister chan unregisterRequest
	intents    chan intentRequest
	deliveries chan deliveryRequest
	queries    chan snapshotRequest
	notices    chan notice
	done       chan struct{}

	log *zap.Logger
}

func NewEngine(log *zap.Logger) *Engine {
	e := &Engine{
		channelProjects: make(map[ChannelID]ProjectID),
		register:        make(chan registerRequest),
		unregister:      make(chan unregisterRequest),
		intents:         make(chan intentRequest),
		deliveries:      make(chan deliveryRequest),
		queries:         make(chan snapshotRequest),
		notices:         make(chan notice),
		done:            make(chan struct{}),
		log:             log.With(zap.String("component", "realtime-engine")),
	}
	e.registry = NewRegistry()
	e.tracker = NewTracker(func(projectID ProjectID, trigger ConnID) {
		e.publisher.OnMembershipChanged(projectID, trigger)
	})
	e.broadcaster = NewBroadcaster(e.registry, e.tracker, e.log)
	e.publisher = NewPublisher(e.registry, e.tracker, e.broadcaster)
	return e
}

// Run processes requests until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)
	e.log.Info("engine started")

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopped", zap.Int("connections", e.registry.Len()))
			return

		case req := <-e.register:
			req.reply <- e.handleRegister(req.conn)

		case req := <-e.unregister:
			e.handleDisconnect(req.id)
			close(req.done)

		case req := <-e.intents:
			e.handleIntent(req.id, req.intent)

		case req := <-e.deliveries:
			req.reply <- e.handleDelivery(req.envelope, req.channelName)

		case req := <-e.queries:
			req.reply <- e.publisher.Snapshot(req.projectID)

		case n := <-e.notices:
			e.handleNotice(n)
		}
	}
}

// Done is closed once Run has returned.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) Register(ctx context.Context, conn *Connection) error {
	reply := make(chan error, 1)
	select {
	case e.register <- registerRequest{conn: conn, reply: reply}:
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-reply
}

// Disconnect removes the connection from every room and the registry, and
// returns only when cleanup has been applied. It is idempotent.
func (e *Engine) Disconnect(id ConnID) {
	done := make(chan struct{})
	select {
	case e.unregister <- unregisterRequest{id: id, done: done}:
		<-done
	case <-e.done:
	}
}

// Dispatch hands one inbound intent to the engine. Intents from a single
// caller are applied in call order.
func (e *Engine) Dispatch(id ConnID, intent Intent) {
	select {
	case e.intents <- intentRequest{id: id, intent: intent}:
	case <-e.done:
	}
}

// Deliver performs both the channel-scoped and the project-scoped delivery
// of an already-persisted message.
func (e *Engine) Deliver(ctx context.Context, envelope Envelope, channelName string) (DeliveryReport, error) {
	reply := make(chan DeliveryReport, 1)
	select {
	case e.deliveries <- deliveryRequest{envelope: envelope, channelName: channelName, reply: reply}:
	case <-e.done:
		return DeliveryReport{}, ErrEngineStopped
	case <-ctx.Done():
		return DeliveryReport{}, ctx.Err()
	}
	return <-reply, nil
}

func (e *Engine) Snapshot(ctx context.Context, projectID ProjectID) (PresenceSnapshot, error) {
	reply := make(chan PresenceSnapshot, 1)
	select {
	case e.queries <- snapshotRequest{projectID: projectID, reply: reply}:
	case <-e.done:
		return PresenceSnapshot{}, ErrEngineStopped
	case <-ctx.Done():
		return PresenceSnapshot{}, ctx.Err()
	}
	return <-reply, nil
}

func (e *Engine) ChannelCreated(ctx context.Context, channel Channel) error {
	return e.notify(ctx, channelCreatedNotice{channel: channel})
}

// RemoveMember tells the project room that userID was removed and evicts
// every connection of that user from the room.
func (e *Engine) RemoveMember(ctx context.Context, projectID ProjectID, userID, removedBy UserID) error {
	return e.notify(ctx, memberRemovedNotice{projectID: projectID, userID: userID, removedBy: removedBy})
}

func (e *Engine) notify(ctx context.Context, n notice) error {
	select {
	case e.notices <- n:
		return nil
	case <-e.done:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ---------------------------------------------
// Handlers (Run goroutine only)
// ---------------------------------------------

func (e *Engine) handleRegister(conn *Connection) error {
	if err := e.registry.Register(conn); err != nil {
		e.log.Warn("connection rejected", zap.String("conn_id", string(conn.ID)), zap.Error(err))
		return err
	}
	e.log.Debug("connection registered",
		zap.String("conn_id", string(conn.ID)),
		zap.String("user_id", string(conn.UserID)))
	return nil
}

func (e *Engine) handleDisconnect(id ConnID) {
	conn, ok := e.registry.Get(id)
	if !ok {
		return
	}

	affected := e.tracker.RemoveConnection(id)
	e.registry.Unregister(id)

	for _, projectID := range affected {
		e.publisher.OnMembershipChanged(projectID, "")
		e.announceLeft(projectID, conn)
	}
	e.log.Debug("connection removed",
		zap.String("conn_id", string(id)),
		zap.String("user_id", string(conn.UserID)),
		zap.Int("projects", len(affected)))
}

func (e *Engine) handleIntent(id ConnID, intent Intent) {
	conn, ok := e.registry.Get(id)
	if !ok {
		e.log.Debug("intent from unknown connection",
			zap.String("conn_id", string(id)),
			zap.String("intent", string(intent.IntentType())))
		return
	}

	switch in := intent.(type) {
	case JoinProject:
		e.joinProject(conn, in.ProjectID)

	case LeaveProject:
		if !e.tracker.LeaveProject(id, in.ProjectID) {
			e.absorb(conn, intent)
			return
		}
		e.announceLeft(in.ProjectID, conn)
		if len(e.tracker.ProjectsOf(id)) == 0 {
			e.leaveCurrentChannel(id)
		}

	case JoinChannel:
		// Channels live inside projects: a connection outside every project cannot view one.
		if len(e.tracker.ProjectsOf(id)) == 0 {
			e.absorb(conn, intent)
			return
		}
		if previous, changed := e.tracker.JoinChannel(id, in.ChannelID); changed && previous != "" {
			e.log.Debug("channel switched",
				zap.String("conn_id", string(id)),
				zap.String("from", string(previous)),
				zap.String("to", string(in.ChannelID)))
		}
		// Re-confirmed even when already joined, so blind retries get their ack.
		e.broadcaster.ToConnection(id, JoinedChannel{ChannelID: in.ChannelID})

	case LeaveChannel:
		if !e.tracker.LeaveChannel(id, in.ChannelID) {
			e.absorb(conn, intent)
			return
		}
		e.broadcaster.ToConnection(id, LeftChannel{ChannelID: in.ChannelID})

	case RequestOnlineUsers:
		snapshot := e.publisher.Snapshot(in.ProjectID)
		e.broadcaster.ToConnection(id, ProjectOnlineUsers{ProjectID: snapshot.ProjectID, Users: snapshot.Users})

	case Ping:
		e.broadcaster.ToConnection(id, Pong{Payload: in.Payload})
	}
}

func (e *Engine) joinProject(conn *Connection, projectID ProjectID) {
	if e.tracker.InProject(conn.ID, projectID) {
		e.publisher.Acknowledge(conn.ID, e.publisher.Snapshot(projectID))
		return
	}
	if !e.publisher.UserPresent(projectID, conn.UserID) {
		e.broadcaster.ToProject(projectID, UserJoinedProject{
			ProjectID: projectID,
			UserID:    conn.UserID,
			UserName:  conn.DisplayName,
		})
	}
	e.tracker.JoinProject(conn.ID, projectID)
}

func (e *Engine) announceLeft(projectID ProjectID, conn *Connection) {
	if e.publisher.UserPresent(projectID, conn.UserID) {
		return
	}
	e.broadcaster.ToProject(projectID, UserLeftProject{
		ProjectID: projectID,
		UserID:    conn.UserID,
		UserName:  conn.DisplayName,
	})
}

func (e *Engine) leaveCurrentChannel(id ConnID) {
	channelID, ok := e.tracker.ChannelOf(id)
	if !ok {
		return
	}
	e.tracker.LeaveChannel(id, channelID)
	e.broadcaster.ToConnection(id, LeftChannel{ChannelID: channelID})
}

func (e *Engine) absorb(conn *Connection, intent Intent) {
	e.log.Debug("no-op intent",
		zap.String("conn_id", string(conn.ID)),
		zap.String("intent", string(intent.IntentType())),
		zap.NamedError("reason", ErrInvalidMembershipTransition))
}

func (e *Engine) handleDelivery(envelope Envelope, channelName string) DeliveryReport {
	e.channelProjects[envelope.ChannelID] = envelope.ProjectID

	report := DeliveryReport{
		Channel: e.broadcaster.DeliverToChannel(envelope),
		Project: e.broadcaster.DeliverToProject(envelope, channelName),
	}
	e.log.Debug("message delivered",
		zap.String("message_id", envelope.MessageID),
		zap.String("channel_id", string(envelope.ChannelID)),
		zap.Int("channel_targets", len(report.Channel.Delivered)),
		zap.Int("project_targets", len(report.Project.Delivered)))
	return report
}

func (e *Engine) handleNotice(n notice) {
	switch v := n.(type) {
	case channelCreatedNotice:
		e.channelProjects[v.channel.ID] = v.channel.ProjectID
		e.broadcaster.ToProject(v.channel.ProjectID, ChannelCreated{ProjectID: v.channel.ProjectID, Channel: v.channel})

	case memberRemovedNotice:
		e.evictMember(v.projectID, v.userID, v.removedBy)
	}
}

func (e *Engine) evictMember(projectID ProjectID, userID, removedBy UserID) {
	// The removed user is still in the room here, so they learn about it too.
	e.broadcaster.ToProject(projectID, MemberRemoved{
		ProjectID:     projectID,
		RemovedUserID: userID,
		RemovedBy:     removedBy,
	})

	var evicted *Connection
	for _, id := range e.registry.ConnectionsFor(userID) {
		conn, _ := e.registry.Get(id)
		if !e.tracker.LeaveProject(id, projectID) {
			continue
		}
		evicted = conn

		// The channel goes too when it belongs to the project, or when it cannot
		// belong to anything the connection is still a member of.
		channelID, ok := e.tracker.ChannelOf(id)
		if ok && (e.channelProjects[channelID] == projectID || len(e.tracker.ProjectsOf(id)) == 0) {
			e.leaveCurrentChannel(id)
		}
	}
	if evicted != nil {
		e.announceLeft(projectID, evicted)
	}
	e.log.Info("member evicted",
		zap.String("project_id", string(projectID)),
		zap.String("user_id", string(userID)),
		zap.String("removed_by", string(removedBy)))
}
