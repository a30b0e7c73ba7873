package agent

import (
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// Registry holds agents in registration order and a queue of pending tasks.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
	queue  *TaskQueue
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		agents: make(map[string]*Agent),
		queue:  NewTaskQueue(),
		logger: logger,
	}
}

// Register adds an agent or replaces the one with the same id. A replaced
// agent keeps its position in the routing order.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[a.ID()]; !exists {
		r.order = append(r.order, a.ID())
	}
	r.agents[a.ID()] = a
	r.logger.Info("agent registered",
		slog.String("agent_id", a.ID()),
		slog.String("name", a.Name()),
		slog.Int("capabilities", len(a.info.Capabilities)),
	)
}

// Unregister removes an agent. Unknown ids are ignored.
func (r *Registry) Unregister(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return
	}
	delete(r.agents, agentID)
	r.order = slices.DeleteFunc(r.order, func(id string) bool { return id == agentID })
	r.logger.Info("agent unregistered", slog.String("agent_id", agentID))
}

// Get returns the agent registered under agentID.
func (r *Registry) Get(agentID string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentID]
	return a, ok
}

// Agents returns all agents in registration order.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Names returns agent names in registration order.
func (r *Registry) Names() []string {
	agents := r.Agents()
	names := make([]string, len(agents))
	for i, a := range agents {
		names[i] = a.Name()
	}
	return names
}

// AgentsByCapability returns the agents declaring capability, ignoring case.
func (r *Registry) AgentsByCapability(capability string) []*Agent {
	var out []*Agent
	for _, a := range r.Agents() {
		if slices.ContainsFunc(a.info.Capabilities, func(c string) bool {
			return strings.EqualFold(c, capability)
		}) {
			out = append(out, a)
		}
	}
	return out
}

// FindAgent returns the first agent, in registration order, that can handle
// task. It returns nil when none can.
func (r *Registry) FindAgent(task *Task) *Agent {
	for _, a := range r.Agents() {
		if a.CanHandle(task) {
			return a
		}
	}
	return nil
}

// AddTask queues a task for deferred execution.
func (r *Registry) AddTask(t *Task) {
	r.queue.Push(t)
	r.logger.Debug("task queued",
		slog.String("task_id", t.ID),
		slog.String("priority", t.Priority.String()),
	)
}

// NextTask removes and returns the highest-priority queued task.
func (r *Registry) NextTask() (*Task, bool) {
	return r.queue.Pop()
}

// PendingTasks returns queued tasks in dequeue order.
func (r *Registry) PendingTasks() []*Task {
	return r.queue.Snapshot()
}

// RegistryStatus summarizes the registry.
type RegistryStatus struct {
	TotalAgents int        `json:"total_agents"`
	QueuedTasks int        `json:"queued_tasks"`
	Agents      []Snapshot `json:"agents"`
}

// Status returns agent snapshots and the queue depth.
func (r *Registry) Status() RegistryStatus {
	agents := r.Agents()
	st := RegistryStatus{
		TotalAgents: len(agents),
		QueuedTasks: r.queue.Len(),
		Agents:      make([]Snapshot, len(agents)),
	}
	for i, a := range agents {
		st.Agents[i] = a.Snapshot()
	}
	return st
}
