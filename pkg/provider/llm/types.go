package llm

import "strings"

// Roles used in Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single message in a conversation history.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the text content of the message.
	Content string

	// Attachments are binary inputs sent alongside Content, such as a photo
	// of a worksheet. Only user messages carry attachments.
	Attachments []Attachment
}

// Attachment is an inline binary input.
type Attachment struct {
	// MIMEType is the media type, e.g. "image/png" or "application/pdf".
	MIMEType string

	// Data is the raw content.
	Data []byte
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(a.MIMEType, "image/")
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate.
	MaxOutputTokens int

	// SupportsVision indicates the model can process image inputs.
	SupportsVision bool

	// SupportsDocuments indicates the model accepts non-image attachments
	// such as PDFs.
	SupportsDocuments bool

	// SupportsReasoning indicates a thinking mode is available.
	SupportsReasoning bool

	// SupportsStreaming indicates streaming completions are available.
	SupportsStreaming bool
}
