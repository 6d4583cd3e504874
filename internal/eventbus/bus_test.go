package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestFanoutDeliversToAllSubscribers(t *testing.T) {
	t.Parallel()
	b := New()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "chores.completed", Data: "t1"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "chores.completed" {
				t.Fatalf("unexpected type %q", e.Type)
			}
			if e.Time.IsZero() {
				t.Fatal("publish should stamp a time")
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestFanoutDropsWhenBufferFull(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "notify.sent"})
	b.Publish(Event{Type: "notify.sent"}) // buffer full, dropped

	<-ch
	select {
	case e := <-ch:
		t.Fatalf("expected second event dropped, got %v", e)
	default:
	}
}

func TestUnsubscribeDuringPublish(t *testing.T) {
	t.Parallel()
	b := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		ch, unsub := b.Subscribe(1)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for range ch {
			}
		}()
		go func() {
			defer wg.Done()
			unsub()
			unsub() // second call is a no-op
		}()
	}
	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "scheduler.run"})
	}
	wg.Wait()
}
