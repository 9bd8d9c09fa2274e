package tui

// RoleFilterSet controls which messages are visible in the session viewer.
type RoleFilterSet struct {
	User      bool
	Assistant bool
	Tools     bool // tool_use + tool_result
	Other     bool // system and unknown roles
}

// NewRoleFilterSet returns a RoleFilterSet with everything but Other enabled.
func NewRoleFilterSet() RoleFilterSet {
	return RoleFilterSet{
		User:      true,
		Assistant: true,
		Tools:     true,
		Other:     false,
	}
}

// Visible returns whether a message with the given role should be rendered.
func (f *RoleFilterSet) Visible(role string) bool {
	switch role {
	case "user":
		return f.User
	case "assistant":
		return f.Assistant
	case "tool_use", "tool_result":
		return f.Tools
	default:
		return f.Other
	}
}
