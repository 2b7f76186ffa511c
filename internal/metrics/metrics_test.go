package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register() // must not panic on duplicate registration

	QueriesReceived.WithLabelValues("matched").Inc()
	if got := testutil.ToFloat64(QueriesReceived.WithLabelValues("matched")); got != 1 {
		t.Fatalf("expected counter to increment, got %v", got)
	}
}
