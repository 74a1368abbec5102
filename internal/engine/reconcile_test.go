package engine

import (
	"context"
	"reflect"
	"testing"

	"github.com/miradorstack/mirador-timers/internal/models"
)

// fixedClassifier returns preset states and uses the threshold classifier for labels.
type fixedClassifier struct {
	states map[models.TransactionIdentity]models.PerformanceState
	labels *ThresholdClassifier
}

func newFixedClassifier(states map[models.TransactionIdentity]models.PerformanceState) *fixedClassifier {
	return &fixedClassifier{
		states: states,
		labels: NewThresholdClassifier(models.DefaultPolicy(), DefaultLabelConfig()),
	}
}

func (f *fixedClassifier) Classify(active, _ map[models.TransactionIdentity]models.TransactionStats) map[models.TransactionIdentity]models.PerformanceState {
	out := make(map[models.TransactionIdentity]models.PerformanceState, len(f.states))
	for id, s := range f.states {
		out[id] = s
	}
	return out
}

func (f *fixedClassifier) CategorizeEvent(event models.EventRecord, state models.PerformanceState, labels *LabelSet) models.LabelDelta {
	return f.labels.CategorizeEvent(event, state, labels)
}

var fooBar = models.NewTransactionIdentity("pkg.Foo", "bar")

func timerPolicy() models.Policy {
	p := models.DefaultPolicy()
	p.TimerStdDevFactor = 1.0
	p.MinTimerThresholdMs = 50
	return p
}

func fooBarInputs() Inputs {
	return Inputs{
		Active: map[models.TransactionIdentity]models.TransactionStats{
			fooBar: {MeanLatencyMs: 120, StdDeviationMs: 10, InvocationCount: 500},
		},
		Baseline: map[models.TransactionIdentity]models.TransactionStats{
			fooBar: {MeanLatencyMs: 60, StdDeviationMs: 5, InvocationCount: 5000},
		},
		Events: []models.EventRecord{
			{ID: "e1", EntryPoint: ep("pkg.Foo", "bar")},
			{ID: "e2", EntryPoint: ep("pkg.Foo", "bar"), Labels: []string{"Slowing"}},
			{ID: "e3", EntryPoint: ep("pkg.Foo", "other")},
		},
	}
}

func reconcile(t *testing.T, policy models.Policy, state models.PerformanceState, in Inputs) models.Plan {
	t.Helper()
	r := NewReconciler(newFixedClassifier(map[models.TransactionIdentity]models.PerformanceState{fooBar: state}), policy, nil)
	plan, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	return plan
}

func TestReconcileCriticalCreatesTimer(t *testing.T) {
	plan := reconcile(t, timerPolicy(), models.StateCritical, fooBarInputs())

	if len(plan.Creates) != 1 || len(plan.Updates) != 0 || len(plan.Disables) != 0 {
		t.Fatalf("expected exactly one create, got %+v", plan)
	}
	create := plan.Creates[0]
	if create.Identity != fooBar || create.ThresholdMs != 130 {
		t.Fatalf("unexpected create action: %+v", create)
	}
	if !reflect.DeepEqual(plan.ForcedSnapshots, []string{"e1", "e2"}) {
		t.Fatalf("expected both associated events snapshotted, got %v", plan.ForcedSnapshots)
	}
	if !reflect.DeepEqual(plan.LabelsToCreate, []string{"Critical"}) {
		t.Fatalf("expected Critical label to be created once, got %v", plan.LabelsToCreate)
	}
	if len(plan.LabelDeltas) != 2 {
		t.Fatalf("expected two label deltas, got %+v", plan.LabelDeltas)
	}
	if d := plan.LabelDeltas[1]; d.EventID != "e2" || !reflect.DeepEqual(d.Remove, []string{"Slowing"}) {
		t.Fatalf("expected Slowing removed from e2, got %+v", d)
	}
}

func TestReconcileNoDataDisablesExistingTimer(t *testing.T) {
	in := fooBarInputs()
	in.Timers = []models.Timer{{ID: "7", Identity: models.TransactionIdentity{Namespace: "pkg/Foo", Member: "bar"}, ThresholdMs: 90, Enabled: true}}

	plan := reconcile(t, timerPolicy(), models.StateNoData, in)

	if len(plan.Disables) != 1 || plan.Disables[0].TimerID != "7" {
		t.Fatalf("expected one disable for timer 7, got %+v", plan.Disables)
	}
	if len(plan.Creates)+len(plan.Updates) != 0 {
		t.Fatalf("NO_DATA must not create or update: %+v", plan)
	}
	if len(plan.ForcedSnapshots) != 0 {
		t.Fatalf("NO_DATA must not add snapshots: %v", plan.ForcedSnapshots)
	}
	// categorization still runs: e2 loses its Slowing label
	if len(plan.LabelDeltas) != 1 || plan.LabelDeltas[0].EventID != "e2" {
		t.Fatalf("expected only the categorization delta for e2, got %+v", plan.LabelDeltas)
	}
}

func TestReconcileNoDataAlwaysOnKeepsTimer(t *testing.T) {
	in := fooBarInputs()
	in.Timers = []models.Timer{{ID: "7", Identity: fooBar, Enabled: true}}
	policy := timerPolicy()
	policy.TimerAlwaysOn = true

	plan := reconcile(t, policy, models.StateNoData, in)
	if len(plan.Disables)+len(plan.Creates)+len(plan.Updates) != 0 {
		t.Fatalf("always-on timer must survive NO_DATA: %+v", plan)
	}
}

func TestReconcileExcludedIsNoData(t *testing.T) {
	in := fooBarInputs()
	in.Rules = &models.ExclusionRules{PackagePrefixes: []string{"pkg"}}
	in.Timers = []models.Timer{{ID: "7", Identity: fooBar, Enabled: true}}

	plan := reconcile(t, timerPolicy(), models.StateCritical, in)
	if len(plan.Creates)+len(plan.Updates) != 0 || len(plan.Disables) != 1 {
		t.Fatalf("excluded transaction must be treated as NO_DATA: %+v", plan)
	}
	d := plan.Decisions[0]
	if !d.Excluded || d.Classified != models.StateCritical || d.Effective != models.StateNoData {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestReconcileOKBranches(t *testing.T) {
	withTimer := func() Inputs {
		in := fooBarInputs()
		in.Timers = []models.Timer{{ID: "7", Identity: fooBar, Enabled: true}}
		return in
	}

	plan := reconcile(t, timerPolicy(), models.StateOK, fooBarInputs())
	if len(plan.Creates)+len(plan.Updates)+len(plan.Disables) != 0 {
		t.Fatalf("unmonitored OK without timer must emit nothing: %+v", plan)
	}

	plan = reconcile(t, timerPolicy(), models.StateOK, withTimer())
	if len(plan.Disables) != 1 || plan.Decisions[0].Machine != string(MachineOKUnmonitored) {
		t.Fatalf("unmonitored OK with timer must disable: %+v", plan)
	}

	policy := timerPolicy()
	policy.TimerAlwaysOn = true
	plan = reconcile(t, policy, models.StateOK, withTimer())
	if len(plan.Updates) != 1 || plan.Updates[0].TimerID != "7" || plan.Updates[0].ThresholdMs != 130 {
		t.Fatalf("always-on OK timer must adapt its threshold: %+v", plan)
	}

	policy = timerPolicy()
	policy.MonitorOKTransactions = true
	plan = reconcile(t, policy, models.StateOK, fooBarInputs())
	if len(plan.Creates) != 1 || plan.Decisions[0].Machine != string(MachineOKMonitored) {
		t.Fatalf("monitored OK must create a timer: %+v", plan)
	}
}

func TestReconcileFloorSuppressesAction(t *testing.T) {
	in := fooBarInputs()
	in.Active[fooBar] = models.TransactionStats{MeanLatencyMs: 30, StdDeviationMs: 5, InvocationCount: 500}

	plan := reconcile(t, timerPolicy(), models.StateCritical, in)
	if len(plan.Creates)+len(plan.Updates) != 0 {
		t.Fatalf("threshold below floor must not produce actions: %+v", plan)
	}
	if len(plan.ForcedSnapshots) != 0 {
		t.Fatalf("threshold below floor must not add snapshots: %v", plan.ForcedSnapshots)
	}
	if plan.Decisions[0].ThresholdMs != 35 {
		t.Fatalf("expected candidate threshold recorded, got %d", plan.Decisions[0].ThresholdMs)
	}
}

func TestReconcileSnapshotsAreDistinct(t *testing.T) {
	bar := models.NewTransactionIdentity("pkg.Foo", "bar")
	baz := models.NewTransactionIdentity("pkg.Foo", "baz")
	in := Inputs{
		Active: map[models.TransactionIdentity]models.TransactionStats{
			bar: {MeanLatencyMs: 100, InvocationCount: 100},
			baz: {MeanLatencyMs: 100, InvocationCount: 100},
		},
		Events: []models.EventRecord{
			{ID: "shared", EntryPoint: ep("pkg.Foo", "bar")},
			{ID: "shared", EntryPoint: ep("pkg.Foo", "baz")},
		},
	}
	r := NewReconciler(newFixedClassifier(map[models.TransactionIdentity]models.PerformanceState{
		bar: models.StateCritical,
		baz: models.StateCritical,
	}), timerPolicy(), nil)

	plan, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.Creates) != 2 {
		t.Fatalf("expected two creates, got %+v", plan.Creates)
	}
	if !reflect.DeepEqual(plan.ForcedSnapshots, []string{"shared"}) {
		t.Fatalf("expected a single snapshot id, got %v", plan.ForcedSnapshots)
	}
	if len(plan.LabelDeltas) != 1 {
		t.Fatalf("expected merged delta per event, got %+v", plan.LabelDeltas)
	}
}

func TestReconcileSkipsWildcardTransactions(t *testing.T) {
	wildcard := models.NewTransactionIdentity("pkg.Foo", "")
	in := fooBarInputs()
	in.Active[wildcard] = models.TransactionStats{MeanLatencyMs: 500, InvocationCount: 100}

	r := NewReconciler(newFixedClassifier(map[models.TransactionIdentity]models.PerformanceState{
		fooBar:   models.StateOK,
		wildcard: models.StateCritical,
	}), timerPolicy(), nil)
	plan, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.Decisions) != 1 || plan.Decisions[0].Identity != fooBar {
		t.Fatalf("wildcard transaction must not be reconciled: %+v", plan.Decisions)
	}
	if len(plan.Creates) != 0 {
		t.Fatalf("unexpected creates: %+v", plan.Creates)
	}
}

func TestReconcileRepairsClassifierOmissions(t *testing.T) {
	in := fooBarInputs()
	in.Timers = []models.Timer{{ID: "7", Identity: fooBar, Enabled: true}}
	ghost := models.NewTransactionIdentity("pkg.Ghost", "run")

	r := NewReconciler(newFixedClassifier(map[models.TransactionIdentity]models.PerformanceState{
		ghost: models.StateCritical,
	}), timerPolicy(), nil)
	plan, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(plan.Decisions) != 1 || plan.Decisions[0].Effective != models.StateNoData {
		t.Fatalf("omitted transaction must be NO_DATA: %+v", plan.Decisions)
	}
	if len(plan.Disables) != 1 || len(plan.Creates) != 0 {
		t.Fatalf("unknown transaction must be ignored: %+v", plan)
	}
}

func TestReconcileIsDeterministic(t *testing.T) {
	ids := []models.TransactionIdentity{
		models.NewTransactionIdentity("pkg.A", "run"),
		models.NewTransactionIdentity("pkg.B", "run"),
		models.NewTransactionIdentity("pkg.C", "run"),
		models.NewTransactionIdentity("pkg.D", "run"),
	}
	states := map[models.TransactionIdentity]models.PerformanceState{
		ids[0]: models.StateCritical,
		ids[1]: models.StateSlowing,
		ids[2]: models.StateNoData,
		ids[3]: models.StateCritical,
	}
	in := Inputs{
		Active: map[models.TransactionIdentity]models.TransactionStats{},
		Timers: []models.Timer{{ID: "2", Identity: ids[1], Enabled: true}, {ID: "3", Identity: ids[2], Enabled: true}},
	}
	for i, id := range ids {
		in.Active[id] = models.TransactionStats{MeanLatencyMs: 100, StdDeviationMs: 10, InvocationCount: 100}
		in.Events = append(in.Events,
			models.EventRecord{ID: "x" + id.Namespace, EntryPoint: ep(id.Namespace, id.Member)},
			models.EventRecord{ID: "y" + string(rune('a'+i)), EntryPoint: ep(id.Namespace, id.Member), Labels: []string{"Slowing"}},
		)
	}

	r := NewReconciler(newFixedClassifier(states), timerPolicy(), nil)
	first, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	second, err := r.Reconcile(context.Background(), in)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("plans differ:\n%+v\n%+v", first, second)
	}

	fp1, err := Fingerprint(first)
	if err != nil {
		t.Fatalf("fingerprint: %v", err)
	}
	fp2, _ := Fingerprint(second)
	if fp1 != fp2 || len(fp1) != 64 {
		t.Fatalf("fingerprints differ or malformed: %s %s", fp1, fp2)
	}

	first.Creates[0].ThresholdMs++
	fp3, _ := Fingerprint(first)
	if fp3 == fp1 {
		t.Fatalf("fingerprint must change with plan content")
	}
}

func TestFlattenDeltasAddWins(t *testing.T) {
	pending := map[string]*pendingDelta{}
	mergeDelta(pending, models.LabelDelta{EventID: "e", Add: []string{"Slowing"}})
	mergeDelta(pending, models.LabelDelta{EventID: "e", Remove: []string{"Slowing", "Critical"}})
	mergeDelta(pending, models.LabelDelta{EventID: "empty"})

	got := flattenDeltas(pending)
	want := []models.LabelDelta{{EventID: "e", Add: []string{"Slowing"}, Remove: []string{"Critical"}}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected merged deltas: %+v", got)
	}
}
