package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/watergrant/internal/address"
	"github.com/roach88/watergrant/internal/model"
	"github.com/roach88/watergrant/internal/sawtooth"
	"github.com/roach88/watergrant/internal/testutil"
)

// Scenario is a sequence of delivered blocks plus the checks to run once
// they have all been applied.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Family is the transaction family whose namespace is projected.
	// Defaults to the water-grant family.
	Family string `yaml:"family,omitempty"`

	// Blocks are delivered in order.
	Blocks []BlockStep `yaml:"blocks"`

	// Assertions validate the final projection.
	Assertions []Assertion `yaml:"assertions"`
}

// BlockStep is one delivered block. Every admin, user and sensor listed
// becomes a state change at that entity's own address.
type BlockStep struct {
	Num     int64          `yaml:"num"`
	ID      string         `yaml:"id"`
	Admins  []model.Admin  `yaml:"admins,omitempty"`
	Users   []model.User   `yaml:"users,omitempty"`
	Sensors []model.Sensor `yaml:"sensors,omitempty"`
	Raw     []RawChange    `yaml:"raw,omitempty"`

	// Expect is the disposition the block must get: new, duplicate or fork.
	Expect string `yaml:"expect,omitempty"`
}

// RawChange is a state change given as bytes, for malformed or foreign
// values. The address is either given or built from kind and key.
type RawChange struct {
	Address string `yaml:"address,omitempty"`
	Kind    string `yaml:"kind,omitempty"`
	Key     string `yaml:"key,omitempty"`
	Hex     string `yaml:"hex"`
}

// Assertion validates the final projection.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Kind is admin, user or sensor.
	Kind string `yaml:"kind,omitempty"`

	// Key is the public key or sensor id.
	Key string `yaml:"key,omitempty"`

	// Height is the as-of block for as_of and absent. Nil means current.
	Height *int64 `yaml:"height,omitempty"`

	// Expect holds field values for as_of (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Child is locations, owners or measurements (children only).
	Child string `yaml:"child,omitempty"`

	// Versions are the expected stored rows, oldest first.
	Versions []VersionExpect `yaml:"versions,omitempty"`

	// Num and ID are the expected tip block (tip only).
	Num int64  `yaml:"num,omitempty"`
	ID  string `yaml:"id,omitempty"`
}

// VersionExpect is one expected stored row.
type VersionExpect struct {
	Start int64 `yaml:"start"`
	// End is a block number or "open".
	End    string         `yaml:"end"`
	Fields map[string]any `yaml:"fields,omitempty"`
}

// Assertion type constants.
const (
	AssertVersions  = "versions"
	AssertAsOf      = "as_of"
	AssertAbsent    = "absent"
	AssertChildren  = "children"
	AssertTip       = "tip"
	AssertIntervals = "intervals"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
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

// Namespace returns the namespace the scenario projects.
func (s *Scenario) Namespace() address.Namespace {
	if s.Family == "" {
		return address.Default()
	}
	return address.NewNamespace(s.Family)
}

// Batches returns the event list delivered for each block.
func (s *Scenario) Batches() ([][]sawtooth.Event, error) {
	ns := s.Namespace()
	batches := make([][]sawtooth.Event, 0, len(s.Blocks))
	for i, b := range s.Blocks {
		var changes []sawtooth.StateChange
		for _, a := range b.Admins {
			changes = append(changes, testutil.AdminChange(ns, a))
		}
		for _, u := range b.Users {
			changes = append(changes, testutil.UserChange(ns, u))
		}
		for _, sn := range b.Sensors {
			changes = append(changes, testutil.SensorChange(ns, sn))
		}
		for j, r := range b.Raw {
			c, err := r.change(ns)
			if err != nil {
				return nil, fmt.Errorf("blocks[%d].raw[%d]: %w", i, j, err)
			}
			changes = append(changes, c)
		}
		batches = append(batches, testutil.Batch(b.Num, b.ID, changes...))
	}
	return batches, nil
}

func (r RawChange) change(ns address.Namespace) (sawtooth.StateChange, error) {
	value, err := hex.DecodeString(r.Hex)
	if err != nil {
		return sawtooth.StateChange{}, fmt.Errorf("hex: %w", err)
	}
	addr := r.Address
	if addr == "" {
		kind, err := address.ParseKind(r.Kind)
		if err != nil {
			return sawtooth.StateChange{}, err
		}
		addr = ns.Build(kind, r.Key)
	}
	return testutil.Set(addr, value), nil
}

// validateScenario checks that all required fields are present.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Blocks) == 0 {
		return fmt.Errorf("blocks must contain at least one block")
	}

	for i, b := range s.Blocks {
		if b.Num < 0 {
			return fmt.Errorf("blocks[%d]: num must be non-negative", i)
		}
		if b.ID == "" {
			return fmt.Errorf("blocks[%d]: id is required", i)
		}
		switch b.Expect {
		case "", "new", "duplicate", "fork":
		default:
			return fmt.Errorf("blocks[%d]: unknown expect %q", i, b.Expect)
		}
		for j, r := range b.Raw {
			if r.Address == "" && (r.Kind == "" || r.Key == "") {
				return fmt.Errorf("blocks[%d].raw[%d]: address or kind and key are required", i, j)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, i); err != nil {
			return err
		}
	}

	return nil
}

func validateAssertion(a Assertion, index int) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needKey := func() error {
		if _, err := address.ParseKind(a.Kind); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertVersions:
		if err := needKey(); err != nil {
			return err
		}
	case AssertAsOf:
		if err := needKey(); err != nil {
			return err
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for as_of", index)
		}
	case AssertAbsent:
		if err := needKey(); err != nil {
			return err
		}
	case AssertChildren:
		if a.Key == "" {
			return fmt.Errorf("assertions[%d]: key is required for children", index)
		}
		switch a.Child {
		case "locations", "owners", "measurements":
		default:
			return fmt.Errorf("assertions[%d]: unknown child %q", index, a.Child)
		}
	case AssertTip:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for tip", index)
		}
	case AssertIntervals:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	for j, v := range a.Versions {
		if _, err := parseEnd(v.End); err != nil {
			return fmt.Errorf("assertions[%d].versions[%d]: %w", index, j, err)
		}
	}

	return nil
}
