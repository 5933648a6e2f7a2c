package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceLoop, Kind: KindRequestStart})
	b.Emit(SourceLoop, KindToolCall, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func TestEmit_FanOut(t *testing.T) {
	b := New()
	subs := make([]<-chan Event, 3)
	for i := range subs {
		subs[i] = b.Subscribe(4)
		defer b.Unsubscribe(subs[i])
	}

	before := time.Now()
	b.Emit(SourceLoop, KindToolCall, map[string]any{"conversation_id": "c_abc", "tool": "web_fetch"})

	for i, ch := range subs {
		select {
		case got := <-ch:
			if got.Source != SourceLoop || got.Kind != KindToolCall {
				t.Errorf("subscriber %d: got %s/%s", i, got.Source, got.Kind)
			}
			if got.Data["conversation_id"] != "c_abc" {
				t.Errorf("subscriber %d: conversation_id = %v", i, got.Data["conversation_id"])
			}
			if got.Timestamp.Before(before) {
				t.Errorf("subscriber %d: timestamp %v before emit", i, got.Timestamp)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d: timed out", i)
		}
	}
}

func TestPublish_SlowSubscriberDrops(t *testing.T) {
	b := New()
	slow := b.Subscribe(1)
	fast := b.Subscribe(4)
	defer b.Unsubscribe(slow)
	defer b.Unsubscribe(fast)

	b.Publish(Event{Kind: KindLLMResponse})
	b.Publish(Event{Kind: KindToolCall})

	if got := <-slow; got.Kind != KindLLMResponse {
		t.Errorf("slow got %q, want the first event", got.Kind)
	}
	select {
	case e := <-slow:
		t.Errorf("slow subscriber should have dropped %q", e.Kind)
	default:
	}

	if a, c := <-fast, <-fast; a.Kind != KindLLMResponse || c.Kind != KindToolCall {
		t.Errorf("fast got %q, %q", a.Kind, c.Kind)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch1 := b.Subscribe(4)
	ch2 := b.Subscribe(4)
	if got := b.SubscriberCount(); got != 2 {
		t.Fatalf("SubscriberCount = %d, want 2", got)
	}

	b.Unsubscribe(ch1)
	b.Unsubscribe(ch1) // second call is a no-op
	if _, ok := <-ch1; ok {
		t.Error("channel still open after Unsubscribe")
	}
	if got := b.SubscriberCount(); got != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got)
	}

	b.Unsubscribe(ch2)
	b.Publish(Event{Source: SourceChat, Kind: KindRequestComplete})
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount = %d, want 0", got)
	}
}

func TestConcurrentPublish(t *testing.T) {
	b := New()
	ch := b.Subscribe(64)

	done := make(chan int)
	go func() {
		n := 0
		for range ch {
			n++
		}
		done <- n
	}()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := range 50 {
				b.Emit(SourceLoop, KindToolDone, map[string]any{"publisher": i, "round": round})
			}
		}()
	}
	wg.Wait()
	b.Unsubscribe(ch)

	if n := <-done; n == 0 || n > 400 {
		t.Errorf("received %d events, want 1..400", n)
	}
}

func TestEvent_JSON(t *testing.T) {
	e := Event{
		Timestamp: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Source:    SourceChat,
		Kind:      KindRequestStart,
		Data:      map[string]any{"stream": true},
	}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"ts":"2026-10-19T12:00:00Z","source":"chat","kind":"request_start","data":{"stream":true}}`
	if string(data) != want {
		t.Errorf("json = %s, want %s", data, want)
	}
}
