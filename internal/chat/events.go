package chat

import "github.com/zapgate/gateway-server-go/internal/model"

// Event is the closed union of everything the chat network can push.
// Handlers switching on the concrete type are exhaustive over this set.
type Event interface {
	event()
}

type CredentialsChanged struct {
	Credentials Credentials
}

type QRCodeAvailable struct {
	Payload string
}

type Connected struct{}

type Disconnected struct {
	Cause DisconnectCause
}

type HistorySync struct {
	Contacts []model.Contact
	Chats    []model.Chat
	Messages []model.Message
}

type MessageUpsert struct {
	Message model.Message
}

type MessageUpdate struct {
	Message model.Message
}

type MessageDelete struct {
	ChatJID   string
	MessageID string
}

type PresenceUpdate struct {
	JID   string
	State string
}

type ContactsUpsert struct {
	Contacts []model.Contact
}

type GroupsUpsert struct {
	Groups []model.Group
}

type GroupsUpdate struct {
	Groups []model.Group
}

type BlocklistChanged struct {
	JIDs []string
}

type IncomingCall struct {
	CallID string
	From   string
}

func (CredentialsChanged) event() {}
func (QRCodeAvailable) event()    {}
func (Connected) event()          {}
func (Disconnected) event()       {}
func (HistorySync) event()        {}
func (MessageUpsert) event()      {}
func (MessageUpdate) event()      {}
func (MessageDelete) event()      {}
func (PresenceUpdate) event()     {}
func (ContactsUpsert) event()     {}
func (GroupsUpsert) event()       {}
func (GroupsUpdate) event()       {}
func (BlocklistChanged) event()   {}
func (IncomingCall) event()       {}
