package realtime

import "github.com/samber/lo"

// MembershipChangeFunc is invoked by the Tracker after a join or leave that
// actually changed a project room. trigger is the connection that caused it.
type MembershipChangeFunc func(projectID ProjectID, trigger ConnID)

// Tracker records which project rooms and which single channel room each
// connection occupies. It is not safe for concurrent use; the Engine goroutine owns it.
type Tracker struct {
	projects     map[ProjectID]set[ConnID]
	connProjects map[ConnID]set[ProjectID]

	channels    map[ChannelID]set[ConnID]
	connChannel map[ConnID]ChannelID

	onChange MembershipChangeFunc
}

func NewTracker(onChange MembershipChangeFunc) *Tracker {
	if onChange == nil {
		onChange = func(ProjectID, ConnID) {}
	}
	return &Tracker{
		projects:     make(map[ProjectID]set[ConnID]),
		connProjects: make(map[ConnID]set[ProjectID]),
		channels:     make(map[ChannelID]set[ConnID]),
		connChannel:  make(map[ConnID]ChannelID),
		onChange:     onChange,
	}
}

// JoinProject is idempotent. It reports whether the room changed.
func (t *Tracker) JoinProject(conn ConnID, projectID ProjectID) bool {
	if t.InProject(conn, projectID) {
		return false
	}
	addTo(t.projects, projectID, conn)
	addTo(t.connProjects, conn, projectID)
	t.onChange(projectID, conn)
	return true
}

// LeaveProject only touches this connection; other tabs of the same user keep their membership.
func (t *Tracker) LeaveProject(conn ConnID, projectID ProjectID) bool {
	if !t.InProject(conn, projectID) {
		return false
	}
	removeFrom(t.projects, projectID, conn)
	removeFrom(t.connProjects, conn, projectID)
	t.onChange(projectID, conn)
	return true
}

// JoinChannel leaves the current channel and enters the new one in a single
// step, so no delivery ever sees the connection in two channels.
// It returns the channel that was left, if any, and whether anything changed.
func (t *Tracker) JoinChannel(conn ConnID, channelID ChannelID) (ChannelID, bool) {
	current, occupied := t.connChannel[conn]
	if occupied && current == channelID {
		return "", false
	}
	if occupied {
		removeFrom(t.channels, current, conn)
	}
	addTo(t.channels, channelID, conn)
	t.connChannel[conn] = channelID
	return current, true
}

// LeaveChannel only applies when channelID is the connection's current
// channel; stale leaves racing a newer join are ignored.
func (t *Tracker) LeaveChannel(conn ConnID, channelID ChannelID) bool {
	current, occupied := t.connChannel[conn]
	if !occupied || current != channelID {
		return false
	}
	removeFrom(t.channels, channelID, conn)
	delete(t.connChannel, conn)
	return true
}

// RemoveConnection drops every membership of conn and returns the projects it
// was in. The hook is not invoked; the caller recomputes presence once the
// connection is fully gone.
func (t *Tracker) RemoveConnection(conn ConnID) []ProjectID {
	if current, occupied := t.connChannel[conn]; occupied {
		removeFrom(t.channels, current, conn)
		delete(t.connChannel, conn)
	}

	affected := lo.Keys(t.connProjects[conn])
	for _, projectID := range affected {
		removeFrom(t.projects, projectID, conn)
	}
	delete(t.connProjects, conn)
	return affected
}

func (t *Tracker) InProject(conn ConnID, projectID ProjectID) bool {
	_, ok := t.connProjects[conn][projectID]
	return ok
}

// ChannelOf returns the single channel conn occupies.
func (t *Tracker) ChannelOf(conn ConnID) (ChannelID, bool) {
	channelID, ok := t.connChannel[conn]
	return channelID, ok
}

func (t *Tracker) ProjectsOf(conn ConnID) []ProjectID {
	return lo.Keys(t.connProjects[conn])
}

func (t *Tracker) ProjectMembers(projectID ProjectID) []ConnID {
	return lo.Keys(t.projects[projectID])
}

func (t *Tracker) ChannelOccupants(channelID ChannelID) []ConnID {
	return lo.Keys(t.channels[channelID])
}

func addTo[K, V comparable](index map[K]set[V], key K, value V) {
	if _, ok := index[key]; !ok {
		index[key] = make(set[V])
	}
	index[key][value] = struct{}{}
}

func removeFrom[K, V comparable](index map[K]set[V], key K, value V) {
	members, ok := index[key]
	if !ok {
		return
	}
	delete(members, value)
	if len(members) == 0 {
		delete(index, key)
	}
}
