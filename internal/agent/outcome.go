package agent

// Outcome is the result of running a task. Failures are reported here rather
// than as Go errors so callers can branch on Success.
type Outcome struct {
	Success         bool           `json:"success"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	Agent           string         `json:"agent,omitempty"`   // Name of the agent that ran the task.
	TaskID          string         `json:"task_id,omitempty"` // Empty for some routing failures.
	AvailableAgents []string       `json:"available_agents,omitempty"`
}

// Failed builds a failure outcome.
func Failed(taskID, agentName, msg string) Outcome {
	return Outcome{Success: false, Error: msg, Agent: agentName, TaskID: taskID}
}
