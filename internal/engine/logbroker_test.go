package engine_test

import (
	"testing"

	"github.com/seantiz/mapbridge/internal/engine"
)

func ev(msg string) engine.LogEvent {
	return engine.LogEvent{Level: 1, LevelName: "INFO", Message: msg}
}

func collect(ch <-chan engine.LogEvent) []string {
	var got []string
	for e := range ch {
		got = append(got, e.Message)
	}
	return got
}

func TestLogBrokerSingleSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("cache.xml")
	defer unsub()

	msgs := []string{"one", "two", "three"}
	for _, m := range msgs {
		b.Publish("cache.xml", ev(m))
	}
	b.Close("cache.xml")

	got := collect(ch)
	if len(got) != len(msgs) {
		t.Fatalf("got %d events, want %d", len(got), len(msgs))
	}
	for i, m := range got {
		if m != msgs[i] {
			t.Errorf("event[%d] = %q, want %q", i, m, msgs[i])
		}
	}
}

func TestLogBrokerMultipleSubscribers(t *testing.T) {
	b := engine.NewLogBroker()
	ch1, unsub1 := b.Subscribe("c")
	defer unsub1()
	ch2, unsub2 := b.Subscribe("c")
	defer unsub2()

	b.Publish("c", ev("hello"))
	b.Close("c")

	got1, got2 := collect(ch1), collect(ch2)
	if len(got1) != 1 || got1[0] != "hello" {
		t.Errorf("subscriber 1 got %v, want [hello]", got1)
	}
	if len(got2) != 1 || got2[0] != "hello" {
		t.Errorf("subscriber 2 got %v, want [hello]", got2)
	}
}

func TestLogBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("c", ev("early"))
	b.Close("c")

	ch, unsub := b.Subscribe("c")
	defer unsub()

	if _, ok := <-ch; ok {
		t.Error("late subscriber should get a closed channel")
	}
}

func TestLogBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("c")
	unsub()

	b.Publish("c", ev("after unsub"))
	b.Close("c")

	select {
	case e, ok := <-ch:
		if ok {
			t.Errorf("got unexpected event %q after unsubscribe", e.Message)
		}
	default:
	}
}

func TestLogBrokerPublishToUnknownTopicIsNoop(t *testing.T) {
	b := engine.NewLogBroker()
	b.Publish("nonexistent", ev("x"))
	b.Close("nonexistent")
}

func TestLogBrokerDropsForSlowSubscriber(t *testing.T) {
	b := engine.NewLogBroker()
	ch, unsub := b.Subscribe("c")
	defer unsub()

	for i := 0; i < 200; i++ {
		b.Publish("c", ev("spam"))
	}
	b.Close("c")

	if got := len(collect(ch)); got != 64 {
		t.Errorf("got %d events, want buffer size 64", got)
	}
}
