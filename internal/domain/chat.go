package domain

// Role identifies the author of a transcript turn or prompt message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the roles a transcript may hold.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// ChatMessage is the provider-agnostic chat message shape used by the
// orchestrator and the generation integrations.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Mode selects between history-aware replies and the stateless news digest.
type Mode string

const (
	ModeReply  Mode = "reply"
	ModeDigest Mode = "digest"
)

// Format tells the delivery layer which markup subset a reply uses.
type Format string

const (
	FormatPlain Format = "plain"
	FormatHTML  Format = "html"
)

// CapabilityLevel is the mode the generation backend is invoked in.
type CapabilityLevel string

const (
	LevelAugmented CapabilityLevel = "augmented"
	LevelReduced   CapabilityLevel = "reduced"
)

// CapabilityLevels is the ordered ladder: augmented first, reduced as fallback.
var CapabilityLevels = []CapabilityLevel{LevelAugmented, LevelReduced}
