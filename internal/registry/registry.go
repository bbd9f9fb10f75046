// Package registry holds the fixed mapping from source tables to the agent
// labels shown on the dashboard.
//
// Table names are interpolated into SQL as quoted identifiers. They must
// only ever come from this package's compiled-in list, never from request
// input.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

// AllAgents is the filter sentinel that selects every table.
const AllAgents = "all"

var ErrInvalidTable = errors.New("invalid table spec")

// TableSpec identifies one physical table and the label stamped on its rows.
type TableSpec struct {
	TableName  string `json:"table_name" yaml:"table_name"`
	AgentLabel string `json:"agent_label" yaml:"agent_label"`
}

var defaultSpecs = []TableSpec{
	{TableName: "Tracking-acolyte-biosimilars-and-specialty-drugs", AgentLabel: "101- Block 3 - Practice Session"},
	{TableName: "Tracking-acolyte-drug-statistics", AgentLabel: "101 - Block 5 - Practice Session"},
	{TableName: "Tracking-acolyte-drug-pricing-access", AgentLabel: "101 - Block 9 - Practice Session"},
	{TableName: "Tracking-acolyte-workplacesim", AgentLabel: "101 - Block 12 - Practice (Workplace Sim)"},
	{TableName: "Tracking-acolyte-103-drug-pricing-analogy", AgentLabel: "103- Block 3 - Practice Session"},
	{TableName: "Tracking-acolyte-103-pricing-models", AgentLabel: "103 - Block 5 - Practice Session"},
	{TableName: "Tracking-acolyte-103-formulary-and-plan-designn", AgentLabel: "103 - Block 7 - Practice Session"},
	{TableName: "Tracking-acolyte-103-practice", AgentLabel: "103 - Block 10 - Practice (Workplace Sim)"},
	{TableName: "Tracking-103 - Workplace Sim : Nondiscrimination Testing", AgentLabel: "103-workplace-sim-nondiscrimination-testing"},
}

// Registry is an immutable, ordered set of table specs.
type Registry struct {
	specs   []TableSpec
	byAgent map[string][]TableSpec
}

// Default returns the registry of the deployed practice-session tables.
func Default() *Registry {
	r, err := New(defaultSpecs)
	if err != nil {
		panic(fmt.Sprintf("registry: default specs invalid: %v", err))
	}
	return r
}

// New validates specs and returns a registry over a private copy of them.
func New(specs []TableSpec) (*Registry, error) {
	seen := make(map[string]bool, len(specs))
	r := &Registry{
		specs:   make([]TableSpec, 0, len(specs)),
		byAgent: make(map[string][]TableSpec),
	}
	for i, s := range specs {
		if strings.TrimSpace(s.TableName) == "" {
			return nil, fmt.Errorf("%w: entry %d has empty table name", ErrInvalidTable, i)
		}
		if strings.ContainsRune(s.TableName, 0) {
			return nil, fmt.Errorf("%w: entry %d table name contains NUL", ErrInvalidTable, i)
		}
		if s.AgentLabel == "" || s.AgentLabel == AllAgents {
			return nil, fmt.Errorf("%w: table %q has reserved or empty agent label", ErrInvalidTable, s.TableName)
		}
		if seen[s.TableName] {
			return nil, fmt.Errorf("%w: duplicate table %q", ErrInvalidTable, s.TableName)
		}
		seen[s.TableName] = true
		r.specs = append(r.specs, s)
		r.byAgent[s.AgentLabel] = append(r.byAgent[s.AgentLabel], s)
	}
	return r, nil
}

// Specs returns a copy of every spec in registry order.
func (r *Registry) Specs() []TableSpec {
	out := make([]TableSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Agents returns the agent labels in registry order.
func (r *Registry) Agents() []string {
	out := make([]string, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s.AgentLabel)
	}
	return out
}

// HasAgent reports whether label belongs to a registered table.
func (r *Registry) HasAgent(label string) bool {
	_, ok := r.byAgent[label]
	return ok
}

// Filter returns the specs for agent, or all specs when agent is empty or
// AllAgents. An unknown label yields no specs.
func (r *Registry) Filter(agent string) []TableSpec {
	if agent == "" || agent == AllAgents {
		return r.Specs()
	}
	matched := r.byAgent[agent]
	out := make([]TableSpec, len(matched))
	copy(out, matched)
	return out
}

// QuoteIdent renders name as a Postgres quoted identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
