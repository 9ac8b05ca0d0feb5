package model

import (
	"strings"
	"time"
)

// User is a provisioned account. It is read-only to the messaging core.
type User struct {
	ID              string `json:"id"`
	Email           string `json:"email"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Username returns the local part of the user's email address.
func (u User) Username() string {
	name, _, _ := strings.Cut(u.Email, "@")
	return name
}

// Message represents a chat message between two users
type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
}

// Peer returns the other participant of the message as seen by ownerID.
func (m Message) Peer(ownerID string) string {
	if m.SenderID == ownerID {
		return m.RecipientID
	}
	return m.SenderID
}

// View identifies one directed copy of a message.
type View struct {
	OwnerID string `json:"owner_id" validate:"required"`
	PeerID  string `json:"peer_id" validate:"required"`
}

func (v View) String() string {
	return v.OwnerID + "->" + v.PeerID
}

// Views returns the sender and recipient views of the message, in that order.
func (m Message) Views() [2]View {
	return [2]View{
		{OwnerID: m.SenderID, PeerID: m.RecipientID},
		{OwnerID: m.RecipientID, PeerID: m.SenderID},
	}
}

// ConversationEntry is the latest message an owner exchanged with a peer.
type ConversationEntry struct {
	OwnerID             string    `json:"owner_id"`
	PeerID              string    `json:"peer_id"`
	SenderID            string    `json:"sender_id"`
	MessageID           string    `json:"message_id"`
	Text                string    `json:"text"`
	Timestamp           time.Time `json:"timestamp"`
	PeerEmail           string    `json:"peer_email"`
	PeerUsername        string    `json:"peer_username"`
	PeerProfileImageURL string    `json:"peer_profile_image_url"`
}
