package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read exposition: %v", err)
	}
	return string(body)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Fragment("buffering")
	m.Turn(TurnOK, time.Second)
	m.Compaction("compacted")
	m.StepFault("append_user")
	m.AggregatorStarted()()
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.Fragment("buffering")
	m.Fragment("buffering")
	m.Fragment("cooldown")
	m.Turn(TurnFallback, 2*time.Second)
	done := m.AggregatorStarted()

	out := scrape(t, m)
	for _, want := range []string{
		`mercabot_inbound_fragments_total{status="buffering"} 2`,
		`mercabot_inbound_fragments_total{status="cooldown"} 1`,
		`mercabot_turns_total{result="fallback"} 1`,
		`mercabot_turn_duration_seconds_count 1`,
		`mercabot_aggregators_active 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in exposition, got:\n%s", want, out)
		}
	}

	done()
	if out := scrape(t, m); !strings.Contains(out, "mercabot_aggregators_active 0") {
		t.Fatalf("expected gauge back to 0, got:\n%s", out)
	}
}

func TestBusyTurnNotTimed(t *testing.T) {
	m := New()
	m.Turn(TurnBusy, time.Minute)
	if out := scrape(t, m); !strings.Contains(out, "mercabot_turn_duration_seconds_count 0") {
		t.Fatalf("expected busy turn excluded from histogram, got:\n%s", out)
	}
}
