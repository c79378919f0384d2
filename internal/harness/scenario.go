package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tillpos/internal/store"
)

// DefaultTillID is the till a scenario operates when it names none.
const DefaultTillID = "till-1"

// Scenario is a scripted till session: a seeded floor plan and catalog, a
// flow of till operations with expected outcomes, and assertions over the
// resulting trace and databases.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Till is the till ID the session runs on. Defaults to DefaultTillID.
	Till string `yaml:"till,omitempty"`

	// ServiceChargePercent is applied to every settlement. Empty means none.
	ServiceChargePercent string `yaml:"service_charge_percent,omitempty"`

	// Seed is loaded into the till store before anything runs.
	Seed store.Seed `yaml:"seed"`

	// Setup steps establish state (typically an open shift). They must
	// succeed; a failing setup step aborts the run.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence. Each step may state its expected outcome.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	// Supported types: trace_contains, trace_order, trace_count,
	// final_state, row_count.
	Assertions []Assertion `yaml:"assertions"`
}

// Step invokes one till operation.
type Step struct {
	// Action names the operation, e.g. add_item or settle.
	Action string `yaml:"action"`

	// Args are the operation's arguments. Missing args mean none.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// Ref names the line an add_item step creates, so later remove_item and
	// return_item steps can refer to it as item: <ref>.
	Ref string `yaml:"ref,omitempty"`

	// Expect is the expected completion. Nil expects case ok.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies expected completion behavior.
type ExpectClause struct {
	// Case is ok or an error code.
	Case string `yaml:"case"`

	// Result is matched as a subset of the completion's result.
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset by trace_contains.
	Args map[string]interface{} `yaml:"args,omitempty"`

	// DB selects the database final_state and row_count query: till
	// (default) or cloud.
	DB string `yaml:"db,omitempty"`

	// Table is the table final_state and row_count query.
	Table string `yaml:"table,omitempty"`

	// Where filters rows; all fields must match exactly.
	Where map[string]interface{} `yaml:"where,omitempty"`

	// Expect holds the column values final_state checks (subset match).
	Expect map[string]interface{} `yaml:"expect,omitempty"`

	// Count is the expected number for trace_count and row_count.
	Count int `yaml:"count"`

	// Actions is the expected order for trace_order.
	Actions []string `yaml:"actions,omitempty"`
}

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertRowCount      = "row_count"
)

// Databases an assertion can query.
const (
	DBTill  = "till"
	DBCloud = "cloud"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so a typo cannot silently drop a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.ServiceChargePercent != "" {
		pct, err := decimal.NewFromString(s.ServiceChargePercent)
		if err != nil {
			return fmt.Errorf("service_charge_percent: %w", err)
		}
		if pct.IsNegative() {
			return fmt.Errorf("service_charge_percent must not be negative")
		}
	}

	refs := make(map[string]bool)
	check := func(section string, i int, step Step) error {
		if step.Action == "" {
			return fmt.Errorf("%s[%d]: action is required", section, i)
		}
		if _, ok := actions[step.Action]; !ok {
			return fmt.Errorf("%s[%d]: unknown action %q", section, i, step.Action)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("%s[%d].expect: case is required", section, i)
		}
		if step.Ref != "" {
			if step.Action != "add_item" {
				return fmt.Errorf("%s[%d]: ref is only valid on add_item", section, i)
			}
			if refs[step.Ref] {
				return fmt.Errorf("%s[%d]: ref %q defined twice", section, i, step.Ref)
			}
			refs[step.Ref] = true
		}
		return nil
	}
	for i, step := range s.Setup {
		if step.Expect != nil {
			return fmt.Errorf("setup[%d]: setup steps cannot carry expect", i)
		}
		if err := check("setup", i, step); err != nil {
			return err
		}
	}
	for i, step := range s.Flow {
		if err := check("flow", i, step); err != nil {
			return err
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: trace_contains requires action", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) < 2 {
			return fmt.Errorf("assertions[%d]: trace_order requires at least 2 actions", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: trace_count requires action", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: trace_count requires non-negative count", index)
		}
	case AssertFinalState, AssertRowCount:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: %s requires table", index, a.Type)
		}
		if a.Type == AssertFinalState && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: final_state requires expect", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: row_count requires non-negative count", index)
		}
		switch a.DB {
		case "", DBTill, DBCloud:
		default:
			return fmt.Errorf("assertions[%d]: unknown db %q", index, a.DB)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
