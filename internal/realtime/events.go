package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// frame is the JSON shape of every websocket message in both directions.
type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ---------------------------------------------
// Inbound intents (client -> engine)
// ---------------------------------------------

type IntentType string

const (
	IntentJoinProject        IntentType = "join_project"
	IntentLeaveProject       IntentType = "leave_project"
	IntentJoinChannel        IntentType = "join_channel"
	IntentLeaveChannel       IntentType = "leave_channel"
	IntentRequestOnlineUsers IntentType = "request_online_users"
	IntentPing               IntentType = "ping"
)

// Intent is a closed set: only the types in this file implement it.
type Intent interface {
	IntentType() IntentType
	isIntent()
}

type JoinProject struct {
	ProjectID ProjectID `json:"projectId" validate:"required,max=128"`
}

type LeaveProject struct {
	ProjectID ProjectID `json:"projectId" validate:"required,max=128"`
}

type JoinChannel struct {
	ChannelID ChannelID `json:"channelId" validate:"required,max=128"`
}

type LeaveChannel struct {
	ChannelID ChannelID `json:"channelId" validate:"required,max=128"`
}

type RequestOnlineUsers struct {
	ProjectID ProjectID `json:"projectId" validate:"required,max=128"`
}

// Ping is the liveness probe; its payload is opaque and echoed back unchanged.
type Ping struct {
	Payload json.RawMessage
}

func (JoinProject) IntentType() IntentType        { return IntentJoinProject }
func (LeaveProject) IntentType() IntentType       { return IntentLeaveProject }
func (JoinChannel) IntentType() IntentType        { return IntentJoinChannel }
func (LeaveChannel) IntentType() IntentType       { return IntentLeaveChannel }
func (RequestOnlineUsers) IntentType() IntentType { return IntentRequestOnlineUsers }
func (Ping) IntentType() IntentType               { return IntentPing }

func (JoinProject) isIntent()        {}
func (LeaveProject) isIntent()       {}
func (JoinChannel) isIntent()        {}
func (LeaveChannel) isIntent()       {}
func (RequestOnlineUsers) isIntent() {}
func (Ping) isIntent()               {}

// DecodeIntent parses one inbound frame. Every failure wraps ErrInvalidIntent.
func DecodeIntent(data []byte) (Intent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}

	var intent Intent
	switch IntentType(f.Type) {
	case IntentJoinProject:
		intent = &JoinProject{}
	case IntentLeaveProject:
		intent = &LeaveProject{}
	case IntentJoinChannel:
		intent = &JoinChannel{}
	case IntentLeaveChannel:
		intent = &LeaveChannel{}
	case IntentRequestOnlineUsers:
		intent = &RequestOnlineUsers{}
	case IntentPing:
		return Ping{Payload: f.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidIntent, f.Type)
	}

	if len(f.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrInvalidIntent, f.Type)
	}
	if err := json.Unmarshal(f.Payload, intent); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidIntent, f.Type, err)
	}
	if err := validate.Struct(intent); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidIntent, f.Type, err)
	}

	switch v := intent.(type) {
	case *JoinProject:
		return *v, nil
	case *LeaveProject:
		return *v, nil
	case *JoinChannel:
		return *v, nil
	case *LeaveChannel:
		return *v, nil
	case *RequestOnlineUsers:
		return *v, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidIntent, f.Type)
}

// EncodeIntent is the client-side counterpart of DecodeIntent.
func EncodeIntent(intent Intent) ([]byte, error) {
	if p, ok := intent.(Ping); ok {
		return json.Marshal(frame{Type: string(IntentPing), Payload: p.Payload})
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Type: string(intent.IntentType()), Payload: payload})
}

// ---------------------------------------------
// Outbound events (engine -> client)
// ---------------------------------------------

type EventType string

const (
	EventProjectOnlineUsers EventType = "project_online_users"
	EventUserJoinedProject  EventType = "user_joined_project"
	EventUserLeftProject    EventType = "user_left_project"
	EventNewMessage         EventType = "new_message"
	EventNewMessageGlobal   EventType = "new_message_global"
	EventChannelCreated     EventType = "channel_created"
	EventMemberRemoved      EventType = "member_removed"
	EventJoinedProject      EventType = "joined_project"
	EventJoinedChannel      EventType = "joined_channel"
	EventLeftChannel        EventType = "left_channel"
	EventPong               EventType = "pong"
	EventError              EventType = "error"
)

// Event is a closed set: only the types in this file implement it.
type Event interface {
	EventType() EventType
	isEvent()
}

type ProjectOnlineUsers struct {
	ProjectID ProjectID    `json:"projectId"`
	Users     []OnlineUser `json:"users"`
}

type UserJoinedProject struct {
	ProjectID ProjectID `json:"projectId"`
	UserID    UserID    `json:"userId"`
	UserName  string    `json:"userName"`
}

type UserLeftProject struct {
	ProjectID ProjectID `json:"projectId"`
	UserID    UserID    `json:"userId"`
	UserName  string    `json:"userName"`
}

type NewMessage struct {
	ChannelID ChannelID `json:"channelId"`
	Message   Envelope  `json:"message"`
}

type NewMessageGlobal struct {
	ProjectID   ProjectID `json:"projectId"`
	ChannelID   ChannelID `json:"channelId"`
	ChannelName string    `json:"channelName"`
	Message     Envelope  `json:"message"`
}

type ChannelCreated struct {
	ProjectID ProjectID `json:"projectId"`
	Channel   Channel   `json:"channel"`
}

type MemberRemoved struct {
	ProjectID     ProjectID `json:"projectId"`
	RemovedUserID UserID    `json:"removedUserId"`
	RemovedBy     UserID    `json:"removedBy"`
}

// JoinedProject acknowledges join_project and carries the snapshot so the
// new arrival does not need a second round trip.
type JoinedProject struct {
	ProjectID ProjectID    `json:"projectId"`
	Users     []OnlineUser `json:"users"`
}

type JoinedChannel struct {
	ChannelID ChannelID `json:"channelId"`
}

type LeftChannel struct {
	ChannelID ChannelID `json:"channelId"`
}

type Pong struct {
	Payload json.RawMessage
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ProjectOnlineUsers) EventType() EventType { return EventProjectOnlineUsers }
func (UserJoinedProject) EventType() EventType  { return EventUserJoinedProject }
func (UserLeftProject) EventType() EventType    { return EventUserLeftProject }
func (NewMessage) EventType() EventType         { return EventNewMessage }
func (NewMessageGlobal) EventType() EventType   { return EventNewMessageGlobal }
func (ChannelCreated) EventType() EventType     { return EventChannelCreated }
func (MemberRemoved) EventType() EventType      { return EventMemberRemoved }
func (JoinedProject) EventType() EventType      { return EventJoinedProject }
func (JoinedChannel) EventType() EventType      { return EventJoinedChannel }
func (LeftChannel) EventType() EventType        { return EventLeftChannel }
func (Pong) EventType() EventType               { return EventPong }
func (ErrorEvent) EventType() EventType         { return EventError }

func (ProjectOnlineUsers) isEvent() {}
func (UserJoinedProject) isEvent()  {}
func (UserLeftProject) isEvent()    {}
func (NewMessage) isEvent()         {}
func (NewMessageGlobal) isEvent()   {}
func (ChannelCreated) isEvent()     {}
func (MemberRemoved) isEvent()      {}
func (JoinedProject) isEvent()      {}
func (JoinedChannel) isEvent()      {}
func (LeftChannel) isEvent()        {}
func (Pong) isEvent()               {}
func (ErrorEvent) isEvent()         {}

// EncodeEvent renders an event as a {"type","payload"} frame.
func EncodeEvent(evt Event) ([]byte, error) {
	if p, ok := evt.(Pong); ok {
		return json.Marshal(frame{Type: string(EventPong), Payload: p.Payload})
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{Type: string(evt.EventType()), Payload: payload})
}

// DecodeEvent is used by clients (the load tester, tests) to read server frames.
func DecodeEvent(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	var err error
	switch EventType(f.Type) {
	case EventProjectOnlineUsers:
		var e ProjectOnlineUsers
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventUserJoinedProject:
		var e UserJoinedProject
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventUserLeftProject:
		var e UserLeftProject
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventNewMessage:
		var e NewMessage
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventNewMessageGlobal:
		var e NewMessageGlobal
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventChannelCreated:
		var e ChannelCreated
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventMemberRemoved:
		var e MemberRemoved
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventJoinedProject:
		var e JoinedProject
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventJoinedChannel:
		var e JoinedChannel
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventLeftChannel:
		var e LeftChannel
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	case EventPong:
		return Pong{Payload: f.Payload}, nil
	case EventError:
		var e ErrorEvent
		err = json.Unmarshal(f.Payload, &e)
		return e, err
	}
	return nil, fmt.Errorf("unknown event type %q", f.Type)
}
