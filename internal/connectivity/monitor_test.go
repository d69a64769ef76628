package connectivity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/messcheck/messcheck/internal/models"
)

func TestMonitorInitialStatus(t *testing.T) {
	m := NewMonitor(models.ConnectivityOffline)
	if m.Status() != models.ConnectivityOffline {
		t.Errorf("expected offline, got %v", m.Status())
	}

	m = NewMonitor(models.ConnectivityOnline)
	if m.Status() != models.ConnectivityOnline {
		t.Errorf("expected online, got %v", m.Status())
	}
}

func TestMonitorSubscribeImmediateCallback(t *testing.T) {
	m := NewMonitor(models.ConnectivityOffline)

	var got []models.ConnectivityState
	m.Subscribe(func(s models.ConnectivityState) {
		got = append(got, s)
	})

	if len(got) != 1 || got[0] != models.ConnectivityOffline {
		t.Fatalf("expected one immediate offline callback, got %v", got)
	}
}

func TestMonitorTransitionNotifies(t *testing.T) {
	m := NewMonitor(models.ConnectivityOffline)

	var got []models.ConnectivityState
	m.Subscribe(func(s models.ConnectivityState) {
		got = append(got, s)
	})

	m.SetOnline()
	m.SetOffline()
	m.SetOnline()

	want := []models.ConnectivityState{
		models.ConnectivityOffline, // initial
		models.ConnectivityOnline,
		models.ConnectivityOffline,
		models.ConnectivityOnline,
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d notifications, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestMonitorRedundantSignalIsSilent(t *testing.T) {
	m := NewMonitor(models.ConnectivityOnline)

	count := 0
	m.Subscribe(func(s models.ConnectivityState) { count++ })

	// Already online; these must not notify.
	m.SetOnline()
	m.SetOnline()

	if count != 1 {
		t.Errorf("expected only the initial callback, got %d notifications", count)
	}
}

func TestMonitorNotificationOrder(t *testing.T) {
	m := NewMonitor(models.ConnectivityOffline)

	var order []string
	m.Subscribe(func(s models.ConnectivityState) { order = append(order, "first") })
	m.Subscribe(func(s models.ConnectivityState) { order = append(order, "second") })
	order = nil // discard initial callbacks

	m.SetOnline()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("expected registration-order delivery, got %v", order)
	}
}

func TestMonitorUnsubscribe(t *testing.T) {
	m := NewMonitor(models.ConnectivityOffline)

	count := 0
	unsubscribe := m.Subscribe(func(s models.ConnectivityState) { count++ })
	unsubscribe()

	m.SetOnline()
	if count != 1 {
		t.Errorf("unsubscribed callback still invoked, count = %d", count)
	}

	// Unsubscribing twice is harmless.
	unsubscribe()
}

func TestProberOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := NewMonitor(models.ConnectivityOffline)
	p := NewProber(m, srv.URL, 0)

	state := p.ProbeOnce(t.Context())
	if state != models.ConnectivityOnline {
		t.Errorf("expected online probe result, got %v", state)
	}
	if m.Status() != models.ConnectivityOnline {
		t.Errorf("monitor not updated, status = %v", m.Status())
	}
}

func TestProberOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable from now on

	m := NewMonitor(models.ConnectivityOnline)
	p := NewProber(m, srv.URL, 0)

	state := p.ProbeOnce(t.Context())
	if state != models.ConnectivityOffline {
		t.Errorf("expected offline probe result, got %v", state)
	}
	if m.Status() != models.ConnectivityOffline {
		t.Errorf("monitor not updated, status = %v", m.Status())
	}
}
