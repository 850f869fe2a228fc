package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventAssessment, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventAssessment, EventFraudAlert},
	}}

	assessment := &Event{Type: EventAssessment}
	alert := &Event{Type: EventFraudAlert}
	threshold := &Event{Type: EventThresholdAdjusted}

	if !h.shouldSend(client, assessment) {
		t.Error("Should receive assessment events")
	}
	if !h.shouldSend(client, alert) {
		t.Error("Should receive fraud_alert events")
	}
	if h.shouldSend(client, threshold) {
		t.Error("Should NOT receive threshold_adjusted events")
	}
}

func TestShouldSend_PartyFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Parties: []string{"0xparty1"},
	}}

	matching := &Event{
		Type:    EventAssessment,
		Parties: []string{"0xparty1", "0xother"},
	}
	notMatching := &Event{
		Type:    EventAssessment,
		Parties: []string{"0xother", "0xanother"},
	}
	noParties := &Event{
		Type: EventThresholdAdjusted,
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match on either trade leg")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated parties")
	}
	if h.shouldSend(client, noParties) {
		t.Error("Party filter should drop events without party attribution")
	}
}

func TestShouldSend_DecisionFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Decisions: []string{"rejected"},
	}}

	rejected := &Event{Type: EventAssessment, Decision: "rejected"}
	approved := &Event{Type: EventAssessment, Decision: "approved"}
	noDecision := &Event{Type: EventThresholdAdjusted}

	if !h.shouldSend(client, rejected) {
		t.Error("Should receive rejections")
	}
	if h.shouldSend(client, approved) {
		t.Error("Should NOT receive approvals")
	}
	if !h.shouldSend(client, noDecision) {
		t.Error("Decision filter should not apply to events without a decision")
	}
}

func TestShouldSend_MinNotionalFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		MinNotional: 1000.0,
	}}

	large := &Event{Type: EventAssessment, Notional: 1500}
	small := &Event{Type: EventAssessment, Notional: 500}
	noNotional := &Event{Type: EventThresholdAdjusted}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large trade")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small trade")
	}
	if !h.shouldSend(client, noNotional) {
		t.Error("MinNotional filter should only apply to events carrying a notional")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventAssessment}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventAssessment, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastAssessment(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastAssessment([]string{"0xa", "0xb"}, "rejected", 500, true, map[string]any{"approved": false})
	time.Sleep(100 * time.Millisecond)

	// Fraud-flagged assessment yields both an assessment and an alert.
	received := 0
	for i := 0; i < 2; i++ {
		select {
		case msg := <-client.send:
			if len(msg) == 0 {
				t.Error("Expected non-empty message")
			}
			received++
		case <-time.After(time.Second):
		}
	}
	if received != 2 {
		t.Errorf("Expected assessment plus fraud alert, got %d messages", received)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants threshold changes
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventThresholdAdjusted}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventAssessment, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive assessment event")
	default:
		// Good - filtered out
	}

	h.BroadcastThreshold(1000, 1037.5)

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive threshold event")
	}
}
