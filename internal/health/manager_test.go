package health

import (
	"errors"
	"testing"

	"signal_bridge/internal/mock"
)

func TestManagerAllHealthy(t *testing.T) {
	m := NewManager(&mock.MockLogger{})
	m.Register("exchange", func() error { return nil })
	m.Register("dedup", func() error { return nil })

	if !m.IsHealthy() {
		t.Fatal("expected healthy")
	}

	status := m.GetStatus()
	if status["exchange"] != "Healthy" || status["dedup"] != "Healthy" {
		t.Errorf("unexpected status %v", status)
	}
}

func TestManagerOneUnhealthy(t *testing.T) {
	m := NewManager(&mock.MockLogger{})
	m.Register("exchange", func() error { return errors.New("timeout") })
	m.Register("dedup", func() error { return nil })

	if m.IsHealthy() {
		t.Fatal("expected unhealthy")
	}

	status := m.GetStatus()
	if status["exchange"] != "Unhealthy: timeout" {
		t.Errorf("unexpected status %q", status["exchange"])
	}
	if status["dedup"] != "Healthy" {
		t.Errorf("unexpected status %q", status["dedup"])
	}
}

func TestManagerNoChecks(t *testing.T) {
	m := NewManager(&mock.MockLogger{})
	if !m.IsHealthy() {
		t.Fatal("no registered checks means healthy")
	}
	if len(m.GetStatus()) != 0 {
		t.Error("expected empty status map")
	}
}

func TestManagerReRegisterReplaces(t *testing.T) {
	m := NewManager(&mock.MockLogger{})
	m.Register("exchange", func() error { return errors.New("down") })
	m.Register("exchange", func() error { return nil })

	if !m.IsHealthy() {
		t.Fatal("replacement check should win")
	}
}
