package engine

import "github.com/miradorstack/mirador-timers/internal/models"

// MachineState is the reconciliation state of one transaction. OK splits into
// monitored and unmonitored depending on policy and timer presence.
type MachineState string

const (
	MachineNoData        MachineState = "NO_DATA"
	MachineOKUnmonitored MachineState = "OK_UNMONITORED"
	MachineOKMonitored   MachineState = "OK_MONITORED"
	MachineSlowing       MachineState = "SLOWING"
	MachineCritical      MachineState = "CRITICAL"
)

type timerStep int

const (
	stepNone timerStep = iota
	stepDisable
	stepThreshold
)

type transitionKey struct {
	state    MachineState
	hasTimer bool
	alwaysOn bool
}

// OK_UNMONITORED with a timer under always-on is unreachable and has no row.
var transitions = map[transitionKey]timerStep{
	{MachineNoData, false, false}: stepNone,
	{MachineNoData, false, true}:  stepNone,
	{MachineNoData, true, false}:  stepDisable,
	{MachineNoData, true, true}:   stepNone,

	{MachineOKUnmonitored, false, false}: stepNone,
	{MachineOKUnmonitored, false, true}:  stepNone,
	{MachineOKUnmonitored, true, false}:  stepDisable,

	{MachineOKMonitored, false, false}: stepThreshold,
	{MachineOKMonitored, false, true}:  stepThreshold,
	{MachineOKMonitored, true, false}:  stepThreshold,
	{MachineOKMonitored, true, true}:   stepThreshold,

	{MachineSlowing, false, false}: stepThreshold,
	{MachineSlowing, false, true}:  stepThreshold,
	{MachineSlowing, true, false}:  stepThreshold,
	{MachineSlowing, true, true}:   stepThreshold,

	{MachineCritical, false, false}: stepThreshold,
	{MachineCritical, false, true}:  stepThreshold,
	{MachineCritical, true, false}:  stepThreshold,
	{MachineCritical, true, true}:   stepThreshold,
}

func machineStateFor(state models.PerformanceState, hasTimer bool, policy models.Policy) MachineState {
	switch state {
	case models.StateOK:
		if policy.MonitorOKTransactions || (hasTimer && policy.TimerAlwaysOn) {
			return MachineOKMonitored
		}
		return MachineOKUnmonitored
	case models.StateSlowing:
		return MachineSlowing
	case models.StateCritical:
		return MachineCritical
	default:
		return MachineNoData
	}
}

func nextStep(state MachineState, hasTimer bool, policy models.Policy) (timerStep, bool) {
	step, ok := transitions[transitionKey{state: state, hasTimer: hasTimer, alwaysOn: policy.TimerAlwaysOn}]
	return step, ok
}
