package engine

import (
	"testing"

	"github.com/miradorstack/mirador-timers/internal/models"
)

func TestMachineStateForOK(t *testing.T) {
	policy := models.DefaultPolicy()
	if got := machineStateFor(models.StateOK, true, policy); got != MachineOKUnmonitored {
		t.Fatalf("expected unmonitored, got %s", got)
	}

	policy.TimerAlwaysOn = true
	if got := machineStateFor(models.StateOK, true, policy); got != MachineOKMonitored {
		t.Fatalf("always-on with a timer must monitor, got %s", got)
	}
	if got := machineStateFor(models.StateOK, false, policy); got != MachineOKUnmonitored {
		t.Fatalf("always-on without a timer stays unmonitored, got %s", got)
	}

	policy.TimerAlwaysOn = false
	policy.MonitorOKTransactions = true
	if got := machineStateFor(models.StateOK, false, policy); got != MachineOKMonitored {
		t.Fatalf("monitor-ok must monitor, got %s", got)
	}
}

func TestNextStep(t *testing.T) {
	off := models.DefaultPolicy()
	on := off
	on.TimerAlwaysOn = true

	cases := []struct {
		name     string
		state    MachineState
		hasTimer bool
		policy   models.Policy
		want     timerStep
	}{
		{"no data disables", MachineNoData, true, off, stepDisable},
		{"no data keeps always-on", MachineNoData, true, on, stepNone},
		{"no data without timer", MachineNoData, false, off, stepNone},
		{"unmonitored disables", MachineOKUnmonitored, true, off, stepDisable},
		{"monitored thresholds", MachineOKMonitored, true, on, stepThreshold},
		{"slowing creates", MachineSlowing, false, off, stepThreshold},
		{"critical updates", MachineCritical, true, off, stepThreshold},
	}
	for _, tc := range cases {
		got, ok := nextStep(tc.state, tc.hasTimer, tc.policy)
		if !ok || got != tc.want {
			t.Fatalf("%s: got %v (ok=%v), want %v", tc.name, got, ok, tc.want)
		}
	}

	if _, ok := nextStep(MachineOKUnmonitored, true, on); ok {
		t.Fatalf("unreachable transition must have no row")
	}
}
