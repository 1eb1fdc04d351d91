package types

// Scenario is a named starting configuration. Base names a built-in scenario
// to start from; Breakers and Utility replace its values and State is decoded
// on top of the resulting snapshot by field name.
type Scenario struct {
	Name        string          `json:"name" yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Topology    Topology        `json:"topology" yaml:"topology"`
	Base        string          `json:"base,omitempty" yaml:"base,omitempty"`
	Seed        uint64          `json:"seed,omitempty" yaml:"seed,omitempty"`
	Utility     *Utility        `json:"utility,omitempty" yaml:"utility,omitempty"`
	Breakers    map[string]bool `json:"breakers,omitempty" yaml:"breakers,omitempty"`
	State       map[string]any  `json:"state,omitempty" yaml:"state,omitempty"`
}
