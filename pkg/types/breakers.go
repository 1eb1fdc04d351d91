package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownBreaker is returned when a breaker identifier does not exist in
// the topology.
var ErrUnknownBreaker = errors.New("unknown breaker")

// LoadBranches is the number of load branch breakers on the output bus.
const LoadBranches = 3

// ModuleCount is the number of modules in the parallel installation.
const ModuleCount = 2

// BreakerRole is the function a breaker has in the power path.
type BreakerRole int

const (
	RoleRectifierInput BreakerRole = iota
	RoleBypassInput
	RoleMaintenance
	RoleOutput
	RoleBattery
	RoleLoad
)

var roleIDs = [...]string{
	RoleRectifierInput: "Q1",
	RoleBypassInput:    "Q2",
	RoleMaintenance:    "Q3",
	RoleOutput:         "Q4",
	RoleBattery:        "QF1",
}

func (r BreakerRole) String() string {
	switch r {
	case RoleRectifierInput:
		return "rectifier input"
	case RoleBypassInput:
		return "bypass input"
	case RoleMaintenance:
		return "maintenance bypass"
	case RoleOutput:
		return "output"
	case RoleBattery:
		return "battery"
	case RoleLoad:
		return "load"
	}
	return fmt.Sprintf("BreakerRole(%d)", int(r))
}

// BreakerRef locates a breaker inside a topology. Module is the module index
// for module breakers and Branch is the branch index for load breakers.
type BreakerRef struct {
	ID     string
	Role   BreakerRole
	Module int
	Branch int
}

// ModuleName returns the letter used to name module i.
func ModuleName(i int) string {
	return string(rune('A' + i))
}

// ModuleIndex parses a module letter.
func ModuleIndex(name string) (int, bool) {
	if len(name) != 1 {
		return 0, false
	}
	i := int(strings.ToUpper(name)[0] - 'A')
	if i < 0 || i >= ModuleCount {
		return 0, false
	}
	return i, true
}

// ModuleBreakers are the five breakers belonging to one module.
type ModuleBreakers struct {
	Q1  bool
	Q2  bool
	Q3  bool
	Q4  bool
	QF1 bool
}

// Closed returns the position of the breaker with the given role.
func (b ModuleBreakers) Closed(role BreakerRole) bool {
	switch role {
	case RoleRectifierInput:
		return b.Q1
	case RoleBypassInput:
		return b.Q2
	case RoleMaintenance:
		return b.Q3
	case RoleOutput:
		return b.Q4
	case RoleBattery:
		return b.QF1
	}
	return false
}

// With returns a copy with the breaker of the given role set.
func (b ModuleBreakers) With(role BreakerRole, closed bool) ModuleBreakers {
	switch role {
	case RoleRectifierInput:
		b.Q1 = closed
	case RoleBypassInput:
		b.Q2 = closed
	case RoleMaintenance:
		b.Q3 = closed
	case RoleOutput:
		b.Q4 = closed
	case RoleBattery:
		b.QF1 = closed
	}
	return b
}

func parseModuleRole(id string) (BreakerRole, bool) {
	for r, rid := range roleIDs {
		if rid == id {
			return BreakerRole(r), true
		}
	}
	return 0, false
}

func parseLoad(id string) (int, bool) {
	if !strings.HasPrefix(id, "LOAD") || len(id) != 5 {
		return 0, false
	}
	n := int(id[4] - '1')
	if n < 0 || n >= LoadBranches {
		return 0, false
	}
	return n, true
}

func loadID(branch int) string {
	return fmt.Sprintf("LOAD%d", branch+1)
}

// Breakers is the fixed breaker set of a single module installation.
type Breakers struct {
	ModuleBreakers
	Load [LoadBranches]bool
}

// Locate resolves a single topology breaker identifier.
func (b Breakers) Locate(id string) (BreakerRef, error) {
	if n, ok := parseLoad(id); ok {
		return BreakerRef{ID: id, Role: RoleLoad, Branch: n}, nil
	}
	if r, ok := parseModuleRole(id); ok {
		return BreakerRef{ID: id, Role: r}, nil
	}
	return BreakerRef{}, fmt.Errorf("%w: %q", ErrUnknownBreaker, id)
}

// IDs returns every breaker identifier in a stable order.
func (b Breakers) IDs() []string {
	ids := make([]string, 0, len(roleIDs)+LoadBranches)
	ids = append(ids, roleIDs[:]...)
	for i := range LoadBranches {
		ids = append(ids, loadID(i))
	}
	return ids
}

// Get returns the position of the referenced breaker.
func (b Breakers) Get(ref BreakerRef) bool {
	if ref.Role == RoleLoad {
		return b.Load[ref.Branch]
	}
	return b.ModuleBreakers.Closed(ref.Role)
}

// Set returns a copy with the referenced breaker set.
func (b Breakers) Set(ref BreakerRef, closed bool) Breakers {
	if ref.Role == RoleLoad {
		b.Load[ref.Branch] = closed
		return b
	}
	b.ModuleBreakers = b.ModuleBreakers.With(ref.Role, closed)
	return b
}

// With returns a copy with the identified breaker set.
func (b Breakers) With(id string, closed bool) (Breakers, error) {
	ref, err := b.Locate(id)
	if err != nil {
		return b, err
	}
	return b.Set(ref, closed), nil
}

// AnyLoadClosed returns true if any load branch breaker is closed.
func (b Breakers) AnyLoadClosed() bool {
	return anyClosed(b.Load)
}

func (b Breakers) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, len(roleIDs)+LoadBranches)
	for _, id := range b.IDs() {
		ref, _ := b.Locate(id)
		m[id] = b.Get(ref)
	}
	return json.Marshal(m)
}

func (b *Breakers) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out Breakers
	for id, closed := range m {
		var err error
		out, err = out.With(id, closed)
		if err != nil {
			return err
		}
	}
	*b = out
	return nil
}

// ParallelBreakers is the fixed breaker set of the parallel installation. The
// load branch breakers sit on the shared output bus.
type ParallelBreakers struct {
	Modules [ModuleCount]ModuleBreakers
	Load    [LoadBranches]bool
}

// Locate resolves a parallel topology breaker identifier such as Q4_B.
func (b ParallelBreakers) Locate(id string) (BreakerRef, error) {
	if n, ok := parseLoad(id); ok {
		return BreakerRef{ID: id, Role: RoleLoad, Branch: n}, nil
	}
	base, mod, found := strings.Cut(id, "_")
	if found {
		r, ok := parseModuleRole(base)
		i, okm := ModuleIndex(mod)
		if ok && okm && mod == ModuleName(i) {
			return BreakerRef{ID: id, Role: r, Module: i}, nil
		}
	}
	return BreakerRef{}, fmt.Errorf("%w: %q", ErrUnknownBreaker, id)
}

// IDs returns every breaker identifier in a stable order.
func (b ParallelBreakers) IDs() []string {
	ids := make([]string, 0, ModuleCount*len(roleIDs)+LoadBranches)
	for i := range ModuleCount {
		for _, rid := range roleIDs {
			ids = append(ids, rid+"_"+ModuleName(i))
		}
	}
	for i := range LoadBranches {
		ids = append(ids, loadID(i))
	}
	return ids
}

// Get returns the position of the referenced breaker.
func (b ParallelBreakers) Get(ref BreakerRef) bool {
	if ref.Role == RoleLoad {
		return b.Load[ref.Branch]
	}
	return b.Modules[ref.Module].Closed(ref.Role)
}

// Set returns a copy with the referenced breaker set.
func (b ParallelBreakers) Set(ref BreakerRef, closed bool) ParallelBreakers {
	if ref.Role == RoleLoad {
		b.Load[ref.Branch] = closed
		return b
	}
	b.Modules[ref.Module] = b.Modules[ref.Module].With(ref.Role, closed)
	return b
}

// With returns a copy with the identified breaker set.
func (b ParallelBreakers) With(id string, closed bool) (ParallelBreakers, error) {
	ref, err := b.Locate(id)
	if err != nil {
		return b, err
	}
	return b.Set(ref, closed), nil
}

// AnyLoadClosed returns true if any load branch breaker is closed.
func (b ParallelBreakers) AnyLoadClosed() bool {
	return anyClosed(b.Load)
}

// AnyMaintenanceClosed returns true if any module's maintenance bypass is
// closed.
func (b ParallelBreakers) AnyMaintenanceClosed() bool {
	for _, m := range b.Modules {
		if m.Q3 {
			return true
		}
	}
	return false
}

func (b ParallelBreakers) MarshalJSON() ([]byte, error) {
	m := make(map[string]bool, ModuleCount*len(roleIDs)+LoadBranches)
	for _, id := range b.IDs() {
		ref, _ := b.Locate(id)
		m[id] = b.Get(ref)
	}
	return json.Marshal(m)
}

func (b *ParallelBreakers) UnmarshalJSON(data []byte) error {
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	var out ParallelBreakers
	for id, closed := range m {
		var err error
		out, err = out.With(id, closed)
		if err != nil {
			return err
		}
	}
	*b = out
	return nil
}

func anyClosed(loads [LoadBranches]bool) bool {
	for _, c := range loads {
		if c {
			return true
		}
	}
	return false
}
