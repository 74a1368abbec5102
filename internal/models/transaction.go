package models

import (
	"strings"
	"time"
)

// TransactionIdentity is the canonical key of a transaction: the namespace
// (class) that owns the entry point and the member (method) name. An empty
// Member denotes a class-level wildcard transaction.
type TransactionIdentity struct {
	Namespace string
	Member    string
}

// NewTransactionIdentity builds an identity with a normalized namespace.
func NewTransactionIdentity(namespace, member string) TransactionIdentity {
	return TransactionIdentity{Namespace: NormalizeNamespace(namespace), Member: member}
}

// IsWildcard reports whether the identity matches every member of its namespace.
func (t TransactionIdentity) IsWildcard() bool {
	return t.Member == ""
}

// Normalized returns a copy with the namespace in internal form.
func (t TransactionIdentity) Normalized() TransactionIdentity {
	return TransactionIdentity{Namespace: NormalizeNamespace(t.Namespace), Member: t.Member}
}

func (t TransactionIdentity) String() string {
	if t.Member == "" {
		return t.Namespace
	}
	return t.Namespace + "#" + t.Member
}

// NormalizeNamespace converts a dotted namespace ("pkg.sub.Foo") into the
// slash-separated internal form ("pkg/sub/Foo"). It is idempotent.
func NormalizeNamespace(namespace string) string {
	return strings.ReplaceAll(strings.TrimSpace(namespace), ".", "/")
}

// SimpleClassName strips the package qualification from a namespace in either
// dotted or internal form.
func SimpleClassName(namespace string) string {
	normalized := NormalizeNamespace(namespace)
	if idx := strings.LastIndex(normalized, "/"); idx >= 0 {
		return normalized[idx+1:]
	}
	return normalized
}

// GraphPoint is a single timed sample of a transaction graph.
type GraphPoint struct {
	Time        time.Time
	AvgTimeMs   float64
	Invocations int64
}

// TransactionGraph is the raw per-transaction series returned by the telemetry API.
type TransactionGraph struct {
	Identity TransactionIdentity
	Points   []GraphPoint
}

// TransactionStats aggregates a transaction graph over one time window.
type TransactionStats struct {
	MeanLatencyMs   float64
	StdDeviationMs  float64
	InvocationCount int64
}

// PerformanceState classifies the recent latency trend of a transaction.
type PerformanceState string

const (
	StateNoData   PerformanceState = "NO_DATA"
	StateOK       PerformanceState = "OK"
	StateSlowing  PerformanceState = "SLOWING"
	StateCritical PerformanceState = "CRITICAL"
)

// EntryPoint locates the code that produced an event.
type EntryPoint struct {
	Namespace string
	Member    string
}

// EventRecord is a captured occurrence within the monitored service.
type EventRecord struct {
	ID         string
	EntryPoint *EntryPoint
	Summary    string
	Labels     []string
}

// HasLabel reports whether the event currently carries label.
func (e EventRecord) HasLabel(label string) bool {
	for _, l := range e.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// Timer is a persisted latency alert threshold bound to one transaction.
type Timer struct {
	ID          string
	Identity    TransactionIdentity
	ThresholdMs int64
	Enabled     bool
}

// LabelDelta is a per-event label mutation.
type LabelDelta struct {
	EventID string
	Add     []string
	Remove  []string
}

// IsEmpty reports whether the delta carries no mutation.
func (d LabelDelta) IsEmpty() bool {
	return len(d.Add) == 0 && len(d.Remove) == 0
}

// ExclusionRules are the redaction rules configured for a service.
type ExclusionRules struct {
	PackagePrefixes []string
	ClassNames      []string
}

// View is a named event view within a service.
type View struct {
	ID   string
	Name string
}
