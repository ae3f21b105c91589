package engine_test

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"

	"sourceline/internal/domain"
	"sourceline/internal/engine"
)

func TestAdmissible(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := func(d time.Duration) string { return now.Add(d).Format(time.RFC3339) }

	tests := []struct {
		name string
		rfq  domain.RFQ
		want engine.Decision
	}{
		{"open before deadline", domain.RFQ{Status: domain.RFQOpen, Deadline: in(time.Hour)}, engine.Admit},
		{"exactly at deadline", domain.RFQ{Status: domain.RFQOpen, Deadline: in(0)}, engine.Admit},
		{"one second late", domain.RFQ{Status: domain.RFQOpen, Deadline: in(-time.Second)}, engine.DeadlinePassed},
		{"closed before deadline", domain.RFQ{Status: domain.RFQClosed, Deadline: in(time.Hour)}, engine.NotOpen},
		{"awarded before deadline", domain.RFQ{Status: domain.RFQAwarded, Deadline: in(time.Hour)}, engine.NotOpen},
		// the deadline wins over status so late callers always see the same verdict
		{"closed past deadline", domain.RFQ{Status: domain.RFQClosed, Deadline: in(-time.Hour)}, engine.DeadlinePassed},
		{"awarded past deadline", domain.RFQ{Status: domain.RFQAwarded, Deadline: in(-time.Hour)}, engine.DeadlinePassed},
		{"unparseable deadline", domain.RFQ{Status: domain.RFQOpen, Deadline: "not-a-time"}, engine.DeadlinePassed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, engine.Admissible(tt.rfq, now))
		})
	}
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "admit", engine.Admit.String())
	assert.Equal(t, "deadline_passed", engine.DeadlinePassed.String())
	assert.Equal(t, "not_open", engine.NotOpen.String())
}
