package realtime

import (
	"sort"

	"github.com/samber/lo"
)

// Publisher derives who is online in a project from the Registry and the
// Tracker. Every change re-broadcasts the full snapshot; deltas are advisory only.
type Publisher struct {
	registry    *Registry
	tracker     *Tracker
	broadcaster *Broadcaster
}

func NewPublisher(registry *Registry, tracker *Tracker, broadcaster *Broadcaster) *Publisher {
	return &Publisher{registry: registry, tracker: tracker, broadcaster: broadcaster}
}

// Snapshot lists each user once, with the earliest authentication time among
// their connections in the room. Connections missing from the registry are ignored.
func (p *Publisher) Snapshot(projectID ProjectID) PresenceSnapshot {
	byUser := make(map[UserID]OnlineUser)
	for _, id := range p.tracker.ProjectMembers(projectID) {
		conn, ok := p.registry.Get(id)
		if !ok {
			continue
		}
		existing, seen := byUser[conn.UserID]
		if seen && !conn.AuthenticatedAt.Before(existing.ConnectedSince) {
			continue
		}
		byUser[conn.UserID] = OnlineUser{
			UserID:         conn.UserID,
			DisplayName:    conn.DisplayName,
			ConnectedSince: conn.AuthenticatedAt,
		}
	}

	users := lo.Values(byUser)
	sort.Slice(users, func(i, j int) bool {
		if users[i].DisplayName != users[j].DisplayName {
			return users[i].DisplayName < users[j].DisplayName
		}
		return users[i].UserID < users[j].UserID
	})
	return PresenceSnapshot{ProjectID: projectID, Users: users}
}

// UserPresent reports whether any connection of userID is in the project room.
func (p *Publisher) UserPresent(projectID ProjectID, userID UserID) bool {
	for _, id := range p.registry.ConnectionsFor(userID) {
		if p.tracker.InProject(id, projectID) {
			return true
		}
	}
	return false
}

// OnMembershipChanged broadcasts the recomputed snapshot to the room and, when
// the triggering connection is now a member, acknowledges its join.
func (p *Publisher) OnMembershipChanged(projectID ProjectID, trigger ConnID) {
	snapshot := p.Snapshot(projectID)
	p.broadcaster.ToProject(projectID, ProjectOnlineUsers{
		ProjectID: projectID,
		Users:     snapshot.Users,
	})
	if trigger != "" && p.tracker.InProject(trigger, projectID) {
		p.Acknowledge(trigger, snapshot)
	}
}

func (p *Publisher) Acknowledge(conn ConnID, snapshot PresenceSnapshot) {
	p.broadcaster.ToConnection(conn, JoinedProject{
		ProjectID: snapshot.ProjectID,
		Users:     snapshot.Users,
	})
}
