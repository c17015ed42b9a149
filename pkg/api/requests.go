package api

// CreateTaskRequest is the body of POST /api/v1/tasks.
type CreateTaskRequest struct {
	Title        string `json:"title"`
	Intent       string `json:"intent,omitempty"`
	Priority     string `json:"priority,omitempty"`
	AgentID      string `json:"agentId"`
	ParentTaskID string `json:"parentTaskId,omitempty"`
	Author       string `json:"author,omitempty"`
}

// ReasonRequest is the optional body of cancel and pause commands.
type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// InstructionRequest is the body of POST /api/v1/tasks/:id/instructions.
type InstructionRequest struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

// RespondRequest is the body of POST /api/v1/tasks/:id/respond.
type RespondRequest struct {
	InteractionID    string `json:"interactionId"`
	SelectedOptionID string `json:"selectedOptionId"`
	InputValue       string `json:"inputValue,omitempty"`
}
