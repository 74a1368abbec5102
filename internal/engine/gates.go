package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-timers/internal/models"
)

// GateTypeSlowdowns breaches on degraded transactions.
const GateTypeSlowdowns = "slowdowns"

// GateEngine evaluates pass/fail quality gates over the decisions of a cycle.
type GateEngine struct {
	gates  []Gate
	logger *slog.Logger
}

// Gate is a single quality gate definition.
type Gate struct {
	ID           string `yaml:"id"`
	Type         string `yaml:"type"`
	CriticalOnly bool   `yaml:"critical_only"`
	MinCount     int    `yaml:"min_count"`
}

// GateConfigFile is the YAML root structure.
type GateConfigFile struct {
	Gates []Gate `yaml:"gates"`
}

// NewGateEngine loads gates from the provided path. If path is empty or the
// file does not exist, returns a nil engine.
func NewGateEngine(path string, logger *slog.Logger) (*GateEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg GateConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse gates %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gates := make([]Gate, 0, len(cfg.Gates))
	for _, g := range cfg.Gates {
		if !strings.EqualFold(g.Type, GateTypeSlowdowns) {
			logger.Warn("skipping gate with unknown type", slog.String("gate", g.ID), slog.String("type", g.Type))
			continue
		}
		if g.MinCount <= 0 {
			g.MinCount = 1
		}
		gates = append(gates, g)
	}
	return &GateEngine{gates: gates, logger: logger}, nil
}

// Desc renders a short human description of the gate.
func (g Gate) Desc() string {
	scope := "all"
	if g.CriticalOnly {
		scope = "critical"
	}
	return fmt.Sprintf("Slowdowns(%s)", scope)
}

func (g Gate) matches(state models.PerformanceState) bool {
	if state == models.StateCritical {
		return true
	}
	return !g.CriticalOnly && state == models.StateSlowing
}

// Evaluate returns one result per gate, in definition order.
func (e *GateEngine) Evaluate(decisions []models.Decision) []models.GateResult {
	if e == nil {
		return nil
	}

	results := make([]models.GateResult, 0, len(e.gates))
	for _, gate := range e.gates {
		count := 0
		for _, d := range decisions {
			if gate.matches(d.Effective) {
				count++
			}
		}
		results = append(results, models.GateResult{
			ID:       gate.ID,
			Desc:     gate.Desc(),
			Breached: count >= gate.MinCount,
			Matches:  count,
		})
	}
	return results
}
