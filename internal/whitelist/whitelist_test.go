package whitelist

import (
	"context"
	"testing"

	"github.com/mikey/workauth-assistant/internal/core"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestAllows(t *testing.T) {
	c := NewChecker([]string{" Acme.com ", "", "clinic.org"}, zaptest.NewLogger(t))

	tests := []struct {
		from string
		want bool
	}{
		{"billing@acme.com", true},
		{"Billing Dept <billing@ACME.com>", true},
		{"\"Doe, Jane\" <jane@clinic.org>", true},
		{"someone@example.com", false},
		{"billing@sub.acme.com", false},
		{"not an address", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Allows(tt.from), tt.from)
	}
}

func TestEmptyListAllowsEveryone(t *testing.T) {
	c := NewChecker(nil, zaptest.NewLogger(t))
	assert.False(t, c.Enabled())
	assert.True(t, c.Allows("anyone@example.com"))
	assert.True(t, c.Allows(""))
}

type stubExtractor struct {
	processed int
}

func (s *stubExtractor) IsActionable(*core.Envelope) bool { return true }

func (s *stubExtractor) Process(_ context.Context, env *core.Envelope) *core.ExtractedRecord {
	s.processed++
	return &core.ExtractedRecord{AuthorizationID: "AUTH-1", OriginalUID: env.UID}
}

func TestGate(t *testing.T) {
	logger := zaptest.NewLogger(t)
	inner := &stubExtractor{}

	assert.Same(t, inner, Gate(inner, NewChecker(nil, logger)))

	gated := Gate(inner, NewChecker([]string{"acme.com"}, logger))

	trusted := &core.Envelope{UID: "1", From: "Acme <billing@acme.com>"}
	assert.True(t, gated.IsActionable(trusted))
	assert.NotNil(t, gated.Process(context.Background(), trusted))

	stranger := &core.Envelope{UID: "2", From: "billing@example.com"}
	assert.False(t, gated.IsActionable(stranger))
	assert.Nil(t, gated.Process(context.Background(), stranger))

	assert.Equal(t, 1, inner.processed)
}
