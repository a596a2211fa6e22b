package alert

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"

	"github.com/soundprediction/retrievo/pkg/config"
)

type fakeAlerter struct {
	subjects []string
	err      error
}

func (f *fakeAlerter) Alert(subject, message string) error {
	f.subjects = append(f.subjects, subject)
	return f.err
}

func TestDisabledEmailAlerterIsNoOp(t *testing.T) {
	a := NewEmailAlerter(config.AlertConfig{Enabled: false})
	assert.NoError(t, a.Alert("subject", "message"))
}

func TestNotifierAlertsOnlyOnOpen(t *testing.T) {
	f := &fakeAlerter{}
	n := NewBreakerNotifier(f, nil)

	n.OnStateChange("vector-engine", gobreaker.StateClosed, gobreaker.StateOpen)
	n.OnStateChange("vector-engine", gobreaker.StateOpen, gobreaker.StateHalfOpen)
	n.OnStateChange("vector-engine", gobreaker.StateHalfOpen, gobreaker.StateClosed)

	assert.Len(t, f.subjects, 1)
	assert.Contains(t, f.subjects[0], "vector-engine")
}

func TestNotifierSwallowsAlerterErrors(t *testing.T) {
	f := &fakeAlerter{err: errors.New("smtp down")}
	n := NewBreakerNotifier(f, nil)

	assert.NotPanics(t, func() {
		n.OnStateChange("keyword-engine", gobreaker.StateClosed, gobreaker.StateOpen)
	})
}
