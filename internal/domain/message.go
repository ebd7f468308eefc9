package domain

// ChatMessage is one transcript entry. Entries are never mutated once appended.
type ChatMessage struct {
	Text  string `json:"text"`
	IsBot bool   `json:"isBot"`
}

// Mode is the widget's conversation mode.
type Mode string

const (
	ModeWelcome Mode = "welcome"
	ModeActive  Mode = "active"
)

// Identity scopes every question sent to the answer service.
type Identity struct {
	CompanyName string `json:"company_name"`
	ClientName  string `json:"client_name"`
}

// Resolved reports whether both identifiers are known.
func (id Identity) Resolved() bool {
	return id.CompanyName != "" && id.ClientName != ""
}

// Injected holds the host-provided company and client values, read once at startup.
type Injected struct {
	Company string `json:"company"`
	Client  string `json:"client"`
}

// ChatState is a point-in-time snapshot of a conversation.
type ChatState struct {
	Messages []ChatMessage `json:"messages"`
	Input    string        `json:"input"`
	Pending  bool          `json:"pending"`
	Mode     Mode          `json:"mode"`
	Identity Identity      `json:"identity"`
}

// IdentitySource provides the identity resolved for a widget session.
type IdentitySource interface {
	Identity() Identity
}
