package realtime

import (
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Broadcaster resolves rooms to live connections and enqueues events on them.
// Delivery is fire-and-forget: a target whose transport is gone is skipped,
// never retried and never queued.
type Broadcaster struct {
	registry *Registry
	tracker  *Tracker
	log      *zap.Logger
}

func NewBroadcaster(registry *Registry, tracker *Tracker, log *zap.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, tracker: tracker, log: log}
}

// DeliverToChannel reaches the connections currently viewing msg.ChannelID.
// An occupant that is not a member of msg.ProjectID is not a target.
func (b *Broadcaster) DeliverToChannel(msg Envelope) DeliveryResult {
	evt := NewMessage{ChannelID: msg.ChannelID, Message: msg}
	targets := lo.Filter(b.tracker.ChannelOccupants(msg.ChannelID), func(id ConnID, _ int) bool {
		return b.tracker.InProject(id, msg.ProjectID)
	})
	return b.sendAll(targets, evt)
}

// DeliverToProject reaches every member of msg.ProjectID's room, whichever
// channel they are looking at, so they can update unread counters.
func (b *Broadcaster) DeliverToProject(msg Envelope, channelName string) DeliveryResult {
	evt := NewMessageGlobal{
		ProjectID:   msg.ProjectID,
		ChannelID:   msg.ChannelID,
		ChannelName: channelName,
		Message:     msg,
	}
	return b.sendAll(b.tracker.ProjectMembers(msg.ProjectID), evt)
}

// ToProject fans any event out to a project room.
func (b *Broadcaster) ToProject(projectID ProjectID, evt Event) DeliveryResult {
	return b.sendAll(b.tracker.ProjectMembers(projectID), evt)
}

// ToConnection is a point-to-point send.
func (b *Broadcaster) ToConnection(id ConnID, evt Event) bool {
	conn, ok := b.registry.Get(id)
	if !ok {
		b.skip(id, evt)
		return false
	}
	if !conn.sink.Send(evt) {
		b.skip(id, evt)
		return false
	}
	return true
}

func (b *Broadcaster) sendAll(targets []ConnID, evt Event) DeliveryResult {
	result := DeliveryResult{Delivered: make([]ConnID, 0, len(targets))}
	for _, id := range targets {
		if b.ToConnection(id, evt) {
			result.Delivered = append(result.Delivered, id)
		} else {
			result.Skipped = append(result.Skipped, id)
		}
	}
	return result
}

func (b *Broadcaster) skip(id ConnID, evt Event) {
	b.log.Debug("delivery skipped",
		zap.String("conn_id", string(id)),
		zap.String("event", string(evt.EventType())),
		zap.NamedError("reason", ErrDeliveryTargetGone))
}
