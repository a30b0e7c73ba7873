package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeHandler accepts task types in accept and returns result or err.
type fakeHandler struct {
	accept  KeywordMatcher
	result  map[string]any
	err     error
	panicV  any
	calls   atomic.Int32
	running atomic.Int32
	maxSeen atomic.Int32
	delay   time.Duration
}

func (f *fakeHandler) CanHandle(t *Task) bool { return f.accept.Match(t.Type) }

func (f *fakeHandler) ExecuteTask(_ context.Context, _ *Task) (map[string]any, error) {
	f.calls.Add(1)
	n := f.running.Add(1)
	defer f.running.Add(-1)
	for {
		m := f.maxSeen.Load()
		if n <= m || f.maxSeen.CompareAndSwap(m, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panicV != nil {
		panic(f.panicV)
	}
	return f.result, f.err
}

func newTestAgent(id string, h Handler) *Agent {
	return New(Info{ID: id, Name: strings.ToUpper(id), Capabilities: []string{"x"}}, h, Options{})
}

// --- Task ---

func TestNewTask_Defaults(t *testing.T) {
	task := NewTask("scan", "network_scan", 0, nil)
	if !strings.HasPrefix(task.ID, "task_") || len(task.ID) != len("task_")+8 {
		t.Errorf("id = %q, want task_<8 hex>", task.ID)
	}
	if task.Priority != PriorityNormal {
		t.Errorf("priority = %v, want normal", task.Priority)
	}
	if task.Status != TaskPending {
		t.Errorf("status = %q, want %q", task.Status, TaskPending)
	}
	if task.Context == nil {
		t.Error("context should be an empty map, got nil")
	}
}

func TestNewTaskAt_CreatedAt(t *testing.T) {
	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	task := NewTaskAt(at, "scan", "network_scan", PriorityHigh, nil)
	if !task.CreatedAt.Equal(at) || task.CreatedAt.Location() != time.UTC {
		t.Errorf("created_at = %v, want %v in UTC", task.CreatedAt, at)
	}
	if got := task.Record().CreatedAt; got != "2026-03-04T04:06:07Z" {
		t.Errorf("record created_at = %q", got)
	}
}

func TestTaskRecord(t *testing.T) {
	task := NewTask("d", "x", PriorityHigh, map[string]any{"a": 1})
	rec := task.Record()
	if rec.Priority != 3 {
		t.Errorf("priority = %d, want 3", rec.Priority)
	}
	if rec.CompletedAt != nil {
		t.Errorf("completed_at = %v, want nil", *rec.CompletedAt)
	}
	if _, err := time.Parse(time.RFC3339Nano, rec.CreatedAt); err != nil {
		t.Errorf("created_at %q is not RFC 3339: %v", rec.CreatedAt, err)
	}

	done := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task.CompletedAt = &done
	rec = task.Record()
	if rec.CompletedAt == nil || *rec.CompletedAt != "2026-01-02T03:04:05Z" {
		t.Errorf("completed_at = %v, want 2026-01-02T03:04:05Z", rec.CompletedAt)
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
		err  bool
	}{
		{"", PriorityNormal, false},
		{"LOW", PriorityLow, false},
		{"critical", PriorityCritical, false},
		{"3", PriorityHigh, false},
		{"9", 0, true},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		got, err := ParsePriority(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// --- Run state machine ---

func TestRun_Success(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{"x"}, result: map[string]any{"ok": true}}
	a := newTestAgent("a1", h)
	task := NewTask("do x", "x", PriorityNormal, nil)

	out := a.Run(context.Background(), task)
	if !out.Success {
		t.Fatalf("expected success, got error %q", out.Error)
	}
	if out.Agent != "A1" || out.TaskID != task.ID {
		t.Errorf("outcome = %+v, want agent A1 task %s", out, task.ID)
	}
	if task.Status != TaskCompleted {
		t.Errorf("task status = %q, want %q", task.Status, TaskCompleted)
	}
	if task.CompletedAt == nil {
		t.Error("completed_at not stamped")
	}
	if task.AgentID != "a1" {
		t.Errorf("agent id = %q, want a1", task.AgentID)
	}
	if a.Status() != StatusCompleted {
		t.Errorf("agent status = %q, want %q", a.Status(), StatusCompleted)
	}
	if a.CurrentTask() != nil {
		t.Error("current task should be cleared")
	}
	if len(a.History()) != 1 {
		t.Errorf("history len = %d, want 1", len(a.History()))
	}
}

func TestRun_RejectionShortCircuit(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{}}
	a := newTestAgent("a1", h)
	task := NewTask("do y", "y", PriorityNormal, nil)

	out := a.Run(context.Background(), task)
	if out.Success {
		t.Fatal("expected failure for rejected task")
	}
	if want := "Agent A1 cannot handle task type: y"; out.Error != want {
		t.Errorf("error = %q, want %q", out.Error, want)
	}
	if len(a.History()) != 0 {
		t.Errorf("history len = %d, want 0", len(a.History()))
	}
	if task.Status == TaskCompleted || task.Status == TaskFailed {
		t.Errorf("task status = %q, rejected task must not be completed or failed", task.Status)
	}
	if h.calls.Load() != 0 {
		t.Error("ExecuteTask must not run for a rejected task")
	}
}

func TestRun_HandlerError(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{"x"}, err: errors.New("boom")}
	a := newTestAgent("a1", h)
	task := NewTask("do x", "x", PriorityNormal, nil)

	out := a.Run(context.Background(), task)
	if out.Success || out.Error != "boom" {
		t.Fatalf("outcome = %+v, want failure with error boom", out)
	}
	if task.Status != TaskFailed || task.Error != "boom" {
		t.Errorf("task status/error = %q/%q, want failed/boom", task.Status, task.Error)
	}
	if task.CompletedAt == nil {
		t.Error("failed task should carry a completion time")
	}
	if rec := task.Record(); rec.CompletedAt == nil {
		t.Error("record of a failed task should include completed_at")
	}
	if a.Status() != StatusError {
		t.Errorf("agent status = %q, want %q", a.Status(), StatusError)
	}
	if len(a.History()) != 1 {
		t.Errorf("history len = %d, want 1", len(a.History()))
	}
}

func TestRun_HandlerPanic(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{"x"}, panicV: "kaboom"}
	a := newTestAgent("a1", h)
	task := NewTask("do x", "x", PriorityNormal, nil)

	out := a.Run(context.Background(), task)
	if out.Success {
		t.Fatal("expected failure for panicking handler")
	}
	if !strings.Contains(out.Error, "kaboom") {
		t.Errorf("error = %q, want it to mention kaboom", out.Error)
	}
	if task.Status != TaskFailed {
		t.Errorf("task status = %q, want failed", task.Status)
	}
}

func TestRun_CallbackErrorSwallowed(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{"x"}, result: map[string]any{"v": 1}}
	a := newTestAgent("a1", h)

	var got map[string]any
	task := NewTask("do x", "x", PriorityNormal, nil).WithCallback(func(_ context.Context, r map[string]any) error {
		got = r
		return errors.New("callback broke")
	})
	out := a.Run(context.Background(), task)
	if !out.Success {
		t.Fatalf("callback error changed outcome: %+v", out)
	}
	if got["v"] != 1 {
		t.Errorf("callback result = %v, want v=1", got)
	}

	task = NewTask("do x", "x", PriorityNormal, nil).WithCallback(func(context.Context, map[string]any) error {
		panic("callback panic")
	})
	if out := a.Run(context.Background(), task); !out.Success {
		t.Fatalf("callback panic changed outcome: %+v", out)
	}
}

func TestRun_SerializedPerAgent(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{"x"}, delay: 10 * time.Millisecond}
	a := newTestAgent("a1", h)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Run(context.Background(), NewTask("x", "x", PriorityNormal, nil))
		}()
	}
	wg.Wait()

	if got := h.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent runs = %d, want 1", got)
	}
	if got := a.Snapshot().TasksCompleted; got != 5 {
		t.Errorf("tasks completed = %d, want 5", got)
	}
}

func TestSafeExecute_NilResult(t *testing.T) {
	h := &fakeHandler{accept: KeywordMatcher{"x"}}
	res, err := safeExecute(context.Background(), h, NewTask("x", "x", PriorityNormal, nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil {
		t.Error("nil result should be normalized to an empty map")
	}
}

// --- Memory ---

func TestMemory_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := New(Info{ID: "m"}, &fakeHandler{}, Options{Clock: clock})

	a.UpdateMemory("k", "v")
	if v, ok := a.GetMemory("k"); !ok || v != "v" {
		t.Fatalf("GetMemory = %v, %v; want v, true", v, ok)
	}

	now = now.Add(299 * time.Second)
	if _, ok := a.GetMemory("k"); !ok {
		t.Error("entry younger than the TTL should be readable")
	}

	now = now.Add(time.Second)
	if v, ok := a.GetMemory("k"); ok {
		t.Errorf("GetMemory at exactly the TTL = %v, want absent", v)
	}
	if a.memory.Len() != 0 {
		t.Error("expired entry should be purged on read")
	}
}

func TestMemory_Clear(t *testing.T) {
	m := NewMemory(0, nil)
	m.Set("a", 1)
	m.Set("b", 2)
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("len = %d, want 0", m.Len())
	}
}

// --- History ---

func TestHistory_RingBuffer(t *testing.T) {
	h := NewHistory(3)
	var tasks []*Task
	for i := range 5 {
		task := NewTask("t", "x", PriorityNormal, map[string]any{"i": i})
		tasks = append(tasks, task)
		h.Append(task)
	}
	got := h.Tasks()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, task := range got {
		if task != tasks[i+2] {
			t.Errorf("history[%d] = %v, want task %d", i, task.Context["i"], i+2)
		}
	}
	if h.Total() != 5 {
		t.Errorf("total = %d, want 5", h.Total())
	}
}

// --- Dispatch ---

func TestKeywordMatcher(t *testing.T) {
	m := KeywordMatcher{"docker", "logs"}
	tests := []struct {
		taskType string
		want     bool
	}{
		{"docker", true},
		{"Docker_List", true},
		{"container_logs", true},
		{"kubernetes", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := m.Match(tt.taskType); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.taskType, got, tt.want)
		}
	}
}

func TestDispatcher_ExactBeforeSubstring(t *testing.T) {
	var hit string
	route := func(name string) HandlerFunc {
		return func(context.Context, *Task) (map[string]any, error) {
			hit = name
			return nil, nil
		}
	}
	d := NewDispatcher(
		Route{Keywords: []string{"search"}, Handle: route("search")},
		Route{Keywords: []string{"code_search"}, Handle: route("code")},
	)

	if _, err := d.Dispatch(context.Background(), &Task{Type: "code_search"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if hit != "code" {
		t.Errorf("code_search routed to %q, want exact route code", hit)
	}

	if _, err := d.Dispatch(context.Background(), &Task{Type: "WEB_SEARCH"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if hit != "search" {
		t.Errorf("WEB_SEARCH routed to %q, want substring route search", hit)
	}

	_, err := d.Dispatch(context.Background(), &Task{Type: "deploy"})
	if !errors.Is(err, ErrUnknownTaskType) {
		t.Errorf("error = %v, want ErrUnknownTaskType", err)
	}

	d.WithFallback(route("general"))
	if _, err := d.Dispatch(context.Background(), &Task{Type: "deploy"}); err != nil {
		t.Fatalf("dispatch with fallback: %v", err)
	}
	if hit != "general" {
		t.Errorf("deploy routed to %q, want fallback", hit)
	}
}
