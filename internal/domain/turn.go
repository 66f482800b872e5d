package domain

// Context roles understood by chat-completions providers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one persisted row of the chat log. Rows are immutable once
// written; only whole-session deletion removes them. SenderName is empty for
// the agent's own turns, and MessageText is never empty (empty turns are not
// persisted).
type ChatTurn struct {
	ID          int64
	SessionID   string
	SenderID    string
	SenderName  string
	MessageText string
	Timestamp   int64
}

// PartKind discriminates the elements of an incoming multimodal message.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// MessagePart is one element of an incoming multimodal message before
// normalization: either a text fragment or a remote image URL.
type MessagePart struct {
	Kind     PartKind
	Text     string
	ImageURL string
}
