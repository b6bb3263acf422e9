// Package chat defines the transport-neutral message model and the outbound
// channel contract. The transport sidecar speaks many content shapes; they
// are resolved into this closed set once, at the channel boundary, so the
// rest of the service never inspects transport payloads.
package chat

import "context"

// Kind enumerates every content shape the service sends or receives.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindVideo    Kind = "video"
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
	KindSticker  Kind = "sticker"
)

// IsValid reports whether k is one of the defined kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindText, KindImage, KindVideo, KindAudio, KindDocument, KindSticker:
		return true
	}
	return false
}

// Content is one outbound or inbound message body. Text carries the message
// text for KindText and the caption for media kinds. Media carries the
// payload for every kind except KindText.
type Content struct {
	Kind     Kind   `json:"kind"`
	Text     string `json:"text,omitempty"`
	Media    []byte `json:"media,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Text builds a plain text content.
func Text(text string) Content {
	return Content{Kind: KindText, Text: text}
}

// Image builds an image content with an optional caption.
func Image(media []byte, caption string) Content {
	return Content{Kind: KindImage, Media: media, Text: caption}
}

// Document builds a document content carrying a filename.
func Document(media []byte, mimeType, filename string) Content {
	return Content{Kind: KindDocument, Media: media, MIMEType: mimeType, Filename: filename}
}

// Message is one inbound message from a user.
type Message struct {
	From    string  `json:"from"`
	Content Content `json:"content"`
}

// Channel delivers outbound content to a single recipient.
type Channel interface {
	Send(ctx context.Context, recipient string, content Content) error
}
