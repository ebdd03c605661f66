package model

// Contact is a synced contact from the chat network.
type Contact struct {
	JID      string `json:"jid"`
	Name     string `json:"name,omitempty"`
	PushName string `json:"pushName,omitempty"`
}

// Chat is a synced conversation.
type Chat struct {
	JID                string `json:"jid"`
	Name               string `json:"name,omitempty"`
	IsGroup            bool   `json:"isGroup"`
	UnreadCount        int    `json:"unreadCount"`
	LastMessageAt      int64  `json:"lastMessageAt,omitempty"`
	LastMessagePreview string `json:"lastMessagePreview,omitempty"`
}

// Message is a synced or live-delivered message.
type Message struct {
	ID          string `json:"id"`
	ChatJID     string `json:"chatJid"`
	SenderJID   string `json:"senderJid"`
	SenderName  string `json:"senderName,omitempty"`
	Body        string `json:"body,omitempty"`
	MessageType string `json:"messageType,omitempty"`
	FromMe      bool   `json:"fromMe"`
	Timestamp   int64  `json:"timestamp"`
}

// Group is group metadata fetched from the live connection.
type Group struct {
	JID          string `json:"jid"`
	Subject      string `json:"subject"`
	Participants int    `json:"participants"`
}

// BusinessProfile holds the optional business fields of a validated number.
type BusinessProfile struct {
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Website     string `json:"website,omitempty"`
	Email       string `json:"email,omitempty"`
	Address     string `json:"address,omitempty"`
	Hours       string `json:"hours,omitempty"`
}

// NumberInfo is the result of validating a number against the network.
// Every field beyond Exists/JID is best-effort enrichment.
type NumberInfo struct {
	Exists            bool             `json:"exists"`
	JID               string           `json:"jid,omitempty"`
	VerifiedName      string           `json:"verifiedName,omitempty"`
	StatusText        string           `json:"statusText,omitempty"`
	ProfilePictureURL string           `json:"profilePictureUrl,omitempty"`
	Business          *BusinessProfile `json:"business,omitempty"`
}
