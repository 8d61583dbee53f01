package notify

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testDispatcher(store Store) *Dispatcher {
	d := NewDispatcher(store)
	d.baseDelay = time.Millisecond
	return d
}

type received struct {
	mu       sync.Mutex
	payloads [][]byte
	headers  []http.Header
}

func (r *received) add(body []byte, h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, body)
	r.headers = append(r.headers, h.Clone())
}

func (r *received) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestDispatchSignsAndDelivers(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(body, r.Header)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:        "wh_000000000000000000000001",
		PartyID:   "mer_000000000000000000000001",
		URL:       srv.URL,
		Secret:    "topsecret",
		Events:    []EventType{EventSettlementReady},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	d := testDispatcher(store)
	event := &Event{
		ID:        "evt_000000000000000000000001",
		Type:      EventSettlementReady,
		Timestamp: time.Now(),
		Data:      map[string]any{"batchId": "stl_000000000000000000000001"},
	}
	if err := d.DispatchToParty(context.Background(), sub.PartyID, event); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return rec.count() == 1 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	h := rec.headers[0]
	if h.Get("X-Bariq-Event") != string(EventSettlementReady) {
		t.Errorf("event header = %q", h.Get("X-Bariq-Event"))
	}
	want := Sign(rec.payloads[0], "topsecret")
	if !hmac.Equal([]byte(h.Get("X-Bariq-Signature")), []byte(want)) {
		t.Error("signature mismatch")
	}

	var got Event
	if err := json.Unmarshal(rec.payloads[0], &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != EventSettlementReady || got.Data["batchId"] != "stl_000000000000000000000001" {
		t.Errorf("payload = %+v", got)
	}

	waitFor(t, func() bool {
		s, _ := store.Get(context.Background(), sub.ID)
		return s.LastSuccess != nil
	})
}

func TestDispatchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:      "wh_000000000000000000000002",
		PartyID: "cus_000000000000000000000001",
		URL:     srv.URL,
		Active:  true,
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	d := testDispatcher(store)
	event := &Event{ID: "evt_x", Type: EventPaymentCompleted, Timestamp: time.Now()}
	if err := d.DispatchToParty(context.Background(), sub.PartyID, event); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return calls.Load() == 3 })
	waitFor(t, func() bool {
		s, _ := store.Get(context.Background(), sub.ID)
		return s.LastSuccess != nil && s.LastError == ""
	})
}

func TestDispatchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:      "wh_000000000000000000000003",
		PartyID: "cus_000000000000000000000001",
		URL:     srv.URL,
		Active:  true,
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	d := testDispatcher(store)
	event := &Event{ID: "evt_y", Type: EventPaymentCompleted, Timestamp: time.Now()}
	if err := d.DispatchToParty(context.Background(), sub.PartyID, event); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		s, _ := store.Get(context.Background(), sub.ID)
		return s.LastError != ""
	})
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 4xx)", calls.Load())
	}
}

func TestDispatchFiltersEventTypeAndActive(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(body, r.Header)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	ctx := context.Background()
	_ = store.Create(ctx, &Subscription{
		ID: "wh_a", PartyID: "p", URL: srv.URL, Active: true,
		Events: []EventType{EventCreditAlert},
	})
	_ = store.Create(ctx, &Subscription{
		ID: "wh_b", PartyID: "p", URL: srv.URL, Active: false,
	})

	d := testDispatcher(store)
	if err := d.DispatchToParty(ctx, "p", &Event{ID: "e1", Type: EventPaymentCompleted, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := d.DispatchToParty(ctx, "p", &Event{ID: "e2", Type: EventCreditAlert, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return rec.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("deliveries = %d, want 1", rec.count())
	}
}

func TestEmitterDeliveryOutlivesEmitCall(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(body, r.Header)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{
		ID:      "wh_000000000000000000000004",
		PartyID: "mer_000000000000000000000002",
		URL:     srv.URL,
		Active:  true,
	}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	e := NewEmitter(testDispatcher(store), slog.New(slog.NewTextHandler(io.Discard, nil)))
	for i := 0; i < 20; i++ {
		e.SettlementReady(sub.PartyID, "stl_000000000000000000000001", "99.00")
	}

	waitFor(t, func() bool { return rec.count() == 20 })

	s, _ := store.Get(context.Background(), sub.ID)
	if s.LastSuccess == nil {
		t.Error("LastSuccess not set")
	}
	if s.LastError != "" {
		t.Errorf("LastError = %q, want empty", s.LastError)
	}
}

func TestDispatchSurvivesCallerCancel(t *testing.T) {
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.add(body, r.Header)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := NewMemoryStore()
	sub := &Subscription{ID: "wh_c", PartyID: "p", URL: srv.URL, Active: true}
	if err := store.Create(context.Background(), sub); err != nil {
		t.Fatal(err)
	}

	d := testDispatcher(store)
	ctx, cancel := context.WithCancel(context.Background())
	err := d.DispatchToParty(ctx, "p", &Event{ID: "e3", Type: EventPaymentCompleted, Timestamp: time.Now()})
	cancel()
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return rec.count() == 1 })
}

func TestNilEmitterSafe(t *testing.T) {
	var e *Emitter
	e.TransactionCreated("cus_x", "mer_x", "txn_x", "10.00")
	e.PaymentCompleted("cus_x", "txn_x", "10.00")
	e.SettlementReady("mer_x", "stl_x", "99.00")
}

func TestSubscriptionWants(t *testing.T) {
	all := &Subscription{}
	if !all.wants(EventCreditAlert) {
		t.Error("empty event list should match everything")
	}
	one := &Subscription{Events: []EventType{EventTransactionCreated}}
	if one.wants(EventCreditAlert) || !one.wants(EventTransactionCreated) {
		t.Error("event filter not applied")
	}
}
