package health

import (
	"context"
	"sync"
	"testing"
)

func TestEmptyRegistryHealthy(t *testing.T) {
	healthy, statuses := NewRegistry().CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected no statuses, got %d", len(statuses))
	}
}

func TestStatusesKeepRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})
	r.Register("dispatcher", func(context.Context) Status {
		return Status{Name: "dispatcher", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("expected healthy")
	}
	if len(statuses) != 2 || statuses[0].Name != "database" || statuses[1].Name != "dispatcher" {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestOneFailureDegradesAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: false, Detail: "connection refused"}
	})
	r.Register("dispatcher", func(context.Context) Status {
		return Status{Name: "dispatcher", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("expected degraded aggregate")
	}
	if statuses[0].Detail != "connection refused" {
		t.Fatalf("expected failure detail, got %q", statuses[0].Detail)
	}
}

func TestReregisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: false}
	})
	r.Register("database", func(context.Context) Status {
		return Status{Name: "database", Healthy: true}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy || len(statuses) != 1 {
		t.Fatalf("expected single healthy status, got healthy=%v statuses=%v", healthy, statuses)
	}
}

func TestConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("probe", func(context.Context) Status {
				return Status{Name: "probe", Healthy: true}
			})
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}
	wg.Wait()
}
