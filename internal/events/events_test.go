package events

import "testing"

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus(0, nil)
	var typed, all []string
	unsub := b.Subscribe(TaskStarted, func(e Event) { typed = append(typed, e.Type) })
	b.Subscribe(All, func(e Event) { all = append(all, e.Type) })

	b.Publish(Event{Type: TaskStarted})
	b.Publish(Event{Type: TaskFinished})

	if len(typed) != 1 {
		t.Errorf("typed deliveries = %v, want 1", typed)
	}
	if len(all) != 2 {
		t.Errorf("wildcard deliveries = %v, want 2", all)
	}

	unsub()
	b.Publish(Event{Type: TaskStarted})
	if len(typed) != 1 {
		t.Errorf("delivered after unsubscribe: %v", typed)
	}
	if b.SubscriberCount(TaskStarted) != 0 {
		t.Errorf("subscriber count = %d, want 0", b.SubscriberCount(TaskStarted))
	}
}

func TestBus_StampsEvents(t *testing.T) {
	b := NewBus(0, nil)
	b.Publish(Event{Type: WorkflowStarted})
	h := b.History("", 0)
	if len(h) != 1 || h[0].ID == "" || h[0].Time.IsZero() {
		t.Errorf("history = %+v, want one stamped event", h)
	}
}

func TestBus_HistoryBounded(t *testing.T) {
	b := NewBus(3, nil)
	for i := range 5 {
		b.Publish(Event{Type: WorkflowStep, Data: map[string]any{"i": i}})
	}
	h := b.History(WorkflowStep, 0)
	if len(h) != 3 {
		t.Fatalf("history len = %d, want 3", len(h))
	}
	if h[0].Data["i"] != 2 {
		t.Errorf("oldest retained = %v, want 2", h[0].Data["i"])
	}
	if got := b.History("", 1); len(got) != 1 || got[0].Data["i"] != 4 {
		t.Errorf("History(limit 1) = %+v, want newest event", got)
	}
}

func TestBus_HandlerPanicIsolated(t *testing.T) {
	b := NewBus(0, nil)
	called := false
	b.Subscribe(All, func(Event) { panic("bad handler") })
	b.Subscribe(All, func(Event) { called = true })
	b.Publish(Event{Type: TaskFinished})
	if !called {
		t.Error("second handler not called after first panicked")
	}
}

func TestBus_NilPublish(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: TaskStarted})
}
