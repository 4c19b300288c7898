package events

import (
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBus_EmitDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe("TOPIC", func(p any) { got = append(got, "first:"+p.(string)) })
	bus.Subscribe("TOPIC", func(p any) { got = append(got, "second:"+p.(string)) })
	bus.Subscribe("OTHER", func(p any) { got = append(got, "other") })

	bus.Emit("TOPIC", "x")

	want := []string{"first:x", "second:x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("delivery = %v, want %v", got, want)
	}
}

func TestBus_EmitWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus(nil)
	bus.Emit("NOBODY", 42)
}

// TestBus_CancelIsIdempotent verifies that invoking a cancel handle twice
// removes only its own handler and leaves others registered.
func TestBus_CancelIsIdempotent(t *testing.T) {
	bus := NewBus(nil)
	var a, b int
	cancelA := bus.Subscribe("T", func(any) { a++ })
	bus.Subscribe("T", func(any) { b++ })

	cancelA()
	cancelA()

	bus.Emit("T", nil)
	if a != 0 {
		t.Errorf("cancelled handler called %d times, want 0", a)
	}
	if b != 1 {
		t.Errorf("remaining handler called %d times, want 1", b)
	}
	if n := bus.SubscriberCount("T"); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}
}

func TestBus_SameFunctionSubscribedTwice(t *testing.T) {
	bus := NewBus(nil)
	calls := 0
	h := func(any) { calls++ }
	cancel1 := bus.Subscribe("T", h)
	bus.Subscribe("T", h)

	cancel1()
	bus.Emit("T", nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (only one registration removed)", calls)
	}
}

// TestBus_PanickingHandlerIsIsolated verifies a panicking handler neither stops
// later handlers nor propagates to the emitter, and is reported to the error hook.
func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := NewBus(nil)
	var reported []error
	bus.SetErrorHook(func(topic string, err error) {
		if topic != "T" {
			t.Errorf("hook topic = %q, want T", topic)
		}
		reported = append(reported, err)
	})
	after := false
	bus.Subscribe("T", func(any) { panic("boom") })
	bus.Subscribe("T", func(any) { after = true })

	bus.Emit("T", nil)

	if !after {
		t.Error("handler after panicking handler was not called")
	}
	if len(reported) != 1 || !strings.Contains(reported[0].Error(), "boom") {
		t.Errorf("reported = %v, want one error mentioning boom", reported)
	}
}

// TestNewBus_DefaultHookLogsOnce verifies a bus built with a logger reports a
// handler panic as a single error log without any extra hook wiring.
func TestNewBus_DefaultHookLogsOnce(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewBus(zap.New(core))
	bus.Subscribe("TOPIC", func(any) { panic("boom") })

	bus.Emit("TOPIC", nil)

	entries := logs.FilterMessage("event handler failed").All()
	if len(entries) != 1 {
		t.Fatalf("error logs = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["topic"]; got != "TOPIC" {
		t.Errorf("topic field = %v, want TOPIC", got)
	}
}

func TestBus_UnsubscribeDuringEmit(t *testing.T) {
	bus := NewBus(nil)
	var calls []string
	var cancelSecond CancelFunc
	bus.Subscribe("T", func(any) {
		calls = append(calls, "first")
		cancelSecond()
	})
	cancelSecond = bus.Subscribe("T", func(any) { calls = append(calls, "second") })

	bus.Emit("T", nil)
	bus.Emit("T", nil)

	want := []string{"first", "second", "first"}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe("A", func(any) {})
	bus.Subscribe("B", func(any) {})
	bus.Subscribe("C", func(any) {})

	bus.Clear("A")
	if bus.SubscriberCount("A") != 0 || bus.SubscriberCount("B") != 1 {
		t.Fatalf("Clear(A) removed the wrong topics")
	}

	bus.Clear()
	if bus.SubscriberCount("B") != 0 || bus.SubscriberCount("C") != 0 {
		t.Error("Clear() should remove all topics")
	}
}

func TestBus_ConcurrentSubscribeEmit(t *testing.T) {
	bus := NewBus(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cancel := bus.Subscribe("T", func(any) {})
			cancel()
		}()
		go func() {
			defer wg.Done()
			bus.Emit("T", nil)
		}()
	}
	wg.Wait()
	if n := bus.SubscriberCount("T"); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

type reading struct {
	City string
	Temp float64
}

func TestTypedTopics(t *testing.T) {
	bus := NewBus(nil)
	selected := Topic[string]{Name: "SELECTED"}
	updated := Topic[reading]{Name: "UPDATED"}
	var city string
	var got reading
	Subscribe(bus, selected, func(c string) { city = c })
	Subscribe(bus, updated, func(r reading) { got = r })

	Emit(bus, selected, "Nairobi")
	Emit(bus, updated, reading{City: "Nairobi", Temp: 299.15})
	bus.Emit(selected.Name, 17) // wrong payload type is ignored by typed handlers

	if city != "Nairobi" {
		t.Errorf("city = %q, want Nairobi", city)
	}
	if got.City != "Nairobi" || got.Temp != 299.15 {
		t.Errorf("reading = %+v", got)
	}
}
