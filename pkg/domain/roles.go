package domain

// Role defines the sender of a model message.
type Role string

const (
	// RoleUser indicates a prompt sent to the model.
	RoleUser Role = "user"
	// RoleAssistant indicates a reply from the model.
	RoleAssistant Role = "assistant"
)
