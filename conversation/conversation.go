// Package conversation provides the vendor-neutral representation of a
// multi-turn dialogue: an optional system instruction plus an ordered
// sequence of messages with text and image content.
package conversation

import "encoding/base64"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Image is an inline image attachment. Format is the bare image format
// name ("jpeg", "png", ...); adapters derive the MIME type from it.
type Image struct {
	Data   []byte `json:"data"`
	Format string `json:"format,omitempty"`
}

// MIMEType returns the image MIME type, defaulting to jpeg when the
// format is unspecified.
func (i Image) MIMEType() string {
	format := i.Format
	if format == "" {
		format = "jpeg"
	}
	return "image/" + format
}

// Base64 returns the image data encoded as standard base64.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// Message is one conversation turn. At least one of Text/Images is
// expected in practice, though not enforced.
type Message struct {
	Role   Role    `json:"role"`
	Text   string  `json:"text,omitempty"`
	Images []Image `json:"images,omitempty"`
}

// Conversation is an ordered dialogue. Insertion order is turn order.
// The core never mutates a conversation after it is submitted.
type Conversation struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages"`
}

// FromPrompt creates a single-turn conversation with one user message.
func FromPrompt(prompt string) Conversation {
	return Conversation{
		Messages: []Message{{Role: RoleUser, Text: prompt}},
	}
}

// AddText appends a text-only message with the given role.
func (c *Conversation) AddText(role Role, text string) {
	c.Messages = append(c.Messages, Message{Role: role, Text: text})
}

// AddMessage appends a message.
func (c *Conversation) AddMessage(m Message) {
	c.Messages = append(c.Messages, m)
}
