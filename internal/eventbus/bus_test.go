package eventbus

import "testing"

func TestBusPublishSubscribe(t *testing.T) {
	bus := New[string]()
	ch := bus.Subscribe()
	bus.Publish("hello")
	if v := <-ch; v != "hello" {
		t.Fatalf("expected hello got %v", v)
	}
	bus.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := New[int]()
	ch := bus.SubscribeBuffered(1)
	bus.Publish(1)
	bus.Publish(2)
	if got := bus.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped, got %d", got)
	}
	if v := <-ch; v != 1 {
		t.Fatalf("expected first event kept, got %d", v)
	}
}

func TestBusClose(t *testing.T) {
	bus := New[int]()
	ch1 := bus.Subscribe()
	ch2 := bus.Subscribe()
	bus.Close()
	if _, ok := <-ch1; ok {
		t.Fatalf("expected ch1 closed")
	}
	if _, ok := <-ch2; ok {
		t.Fatalf("expected ch2 closed")
	}
	bus.Publish(3)
	late := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatalf("subscribe after close should return a closed channel")
	}
}

func TestBusUnsubscribeAfterClose(t *testing.T) {
	bus := New[float64]()
	ch := bus.Subscribe()
	bus.Close()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("panic on Unsubscribe after Close: %v", r)
		}
	}()
	bus.Unsubscribe(ch)
}

func TestBusLosslessWaitsForReader(t *testing.T) {
	bus := New[int]()
	plain := bus.SubscribeBuffered(1)
	ch := bus.SubscribeLossless(1, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.Publish(i)
		}
	}()
	for i := 0; i < 100; i++ {
		if v := <-ch; v != i {
			t.Fatalf("expected %d got %d", i, v)
		}
	}
	<-done
	if got := bus.Dropped(); got != 99 {
		t.Fatalf("expected 99 drops on the plain subscriber, got %d", got)
	}
	<-plain
}

func TestBusLosslessFilter(t *testing.T) {
	bus := New[int]()
	ch := bus.SubscribeLossless(1, func(v int) bool { return v%2 == 0 })
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			bus.Publish(i)
		}
		bus.Close()
	}()
	var got []int
	for v := range ch {
		got = append(got, v)
	}
	<-done
	if len(got) != 5 || got[4] != 8 {
		t.Fatalf("expected even values only, got %v", got)
	}
}

func TestBusLosslessReleasedOnUnsubscribe(t *testing.T) {
	bus := New[int]()
	ch := bus.SubscribeLossless(1, nil)
	bus.Publish(1)
	done := make(chan struct{})
	go func() {
		bus.Publish(2)
		close(done)
	}()
	bus.Unsubscribe(ch)
	<-done
	if _, ok := <-ch; !ok {
		t.Fatalf("expected buffered event before close")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel closed after unsubscribe")
	}
}

func TestBusLosslessReleasedOnClose(t *testing.T) {
	bus := New[int]()
	ch := bus.SubscribeLossless(1, nil)
	bus.Publish(1)
	done := make(chan struct{})
	go func() {
		bus.Publish(2)
		close(done)
	}()
	bus.Close()
	<-done
	n := 0
	for range ch {
		n++
	}
	if n != 1 {
		t.Fatalf("expected the buffered event only, got %d", n)
	}
}
