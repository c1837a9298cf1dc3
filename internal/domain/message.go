package domain

import "time"

// InboundKind distinguishes a fresh upload job from a reply to a pending prompt.
type InboundKind string

const (
	InboundUpload InboundKind = "upload"
	InboundChoice InboundKind = "choice"
)

// Attachment references a file hosted by the messaging platform.
type Attachment struct {
	FileID   string
	FileName string
	MimeType string
	Size     int64 // declared by the platform, 0 when unknown
}

type InboundMessage struct {
	Kind       InboundKind
	Channel    string
	ChatID     string
	SenderID   string
	Caption    string
	Attachment *Attachment
	Timestamp  time.Time

	// Set for InboundChoice.
	RequestID   string
	ChoiceIndex int
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | markdown | html

	// StatusKey groups messages belonging to one request; channels that support
	// editing update a single status message per key instead of posting new ones.
	StatusKey string
	Final     bool

	// Choices turns the message into a prompt; the answer comes back as an
	// InboundChoice carrying StatusKey as RequestID.
	Choices []ChannelOption
}
