package extractor

import (
	"context"
	"errors"
	"testing"
	"time"
)

// countingBackend returns a fixed entity or error and counts calls.
type countingBackend struct {
	name  string
	err   error
	delay time.Duration
	calls int
}

func (c *countingBackend) Name() string { return c.name }

func (c *countingBackend) ExtractSpans(ctx context.Context, text string, entityTypes []string, budget Budget) ([]Entity, error) {
	c.calls++
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return []Entity{{
		EntityType: TypeParty,
		Text:       "x",
		StartPos:   0,
		EndPos:     1,
		Confidence: 0.9,
	}}, nil
}

func TestFailoverStaysOnHealthyPrimary(t *testing.T) {
	primary := &countingBackend{name: "primary"}
	secondary := &countingBackend{name: "secondary"}
	f := NewFailover(primary, secondary, FailoverConfig{MinSamples: 3})

	for i := 0; i < 10; i++ {
		if _, err := f.ExtractSpans(context.Background(), "text", []string{TypeParty}, Budget{}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if f.Engaged() {
		t.Error("failover engaged on a healthy primary")
	}
	if secondary.calls != 0 {
		t.Errorf("secondary called %d times", secondary.calls)
	}
}

func TestFailoverEngagesOnErrorRate(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errors.New("model down")}
	secondary := &countingBackend{name: "secondary"}
	f := NewFailover(primary, secondary, FailoverConfig{ErrorRate: 0.5, MinSamples: 3})

	// Three failing calls satisfy the sample floor and trip the rate.
	for i := 0; i < 3; i++ {
		f.ExtractSpans(context.Background(), "text", []string{TypeParty}, Budget{})
	}
	if !f.Engaged() {
		t.Fatal("failover did not engage after sustained primary failures")
	}

	entities, err := f.ExtractSpans(context.Background(), "text", []string{TypeParty}, Budget{})
	if err != nil {
		t.Fatalf("secondary call: %v", err)
	}
	if len(entities) != 1 {
		t.Errorf("got %d entities from secondary", len(entities))
	}
	if secondary.calls != 1 {
		t.Errorf("secondary calls = %d, want 1", secondary.calls)
	}
}

func TestFailoverIgnoresCancellation(t *testing.T) {
	primary := &countingBackend{name: "primary", err: context.Canceled}
	secondary := &countingBackend{name: "secondary"}
	f := NewFailover(primary, secondary, FailoverConfig{ErrorRate: 0.1, MinSamples: 1})

	for i := 0; i < 5; i++ {
		f.ExtractSpans(context.Background(), "text", []string{TypeParty}, Budget{})
	}
	if f.Engaged() {
		t.Error("caller cancellation must not count against backend health")
	}
}

func TestFailoverSwitchIsPermanent(t *testing.T) {
	primary := &countingBackend{name: "primary", err: errors.New("down")}
	secondary := &countingBackend{name: "secondary"}
	f := NewFailover(primary, secondary, FailoverConfig{ErrorRate: 0.5, MinSamples: 3})

	for i := 0; i < 3; i++ {
		f.ExtractSpans(context.Background(), "text", []string{TypeParty}, Budget{})
	}
	if !f.Engaged() {
		t.Fatal("failover did not engage")
	}

	// Primary recovering does not un-engage the switch.
	primary.err = nil
	primaryCallsAtSwitch := primary.calls
	for i := 0; i < 5; i++ {
		f.ExtractSpans(context.Background(), "text", []string{TypeParty}, Budget{})
	}
	if primary.calls != primaryCallsAtSwitch {
		t.Error("primary called after the switch engaged")
	}
}

func TestFailoverRelationsFallsBackToSpanPass(t *testing.T) {
	// countingBackend has no ExtractRelations; the wrapper degrades to
	// a relationship-typed span pass.
	primary := &countingBackend{name: "primary"}
	f := NewFailover(primary, &countingBackend{name: "secondary"}, FailoverConfig{})

	if _, err := f.ExtractRelations(context.Background(), "text", nil, Budget{}); err != nil {
		t.Fatalf("ExtractRelations: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
}
