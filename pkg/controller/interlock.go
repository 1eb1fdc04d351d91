package controller

import (
	"fmt"

	"github.com/upstwin/upstwin/pkg/types"
)

// Topology is the view of a snapshot the interlock rules evaluate against.
type Topology interface {
	Locate(id string) (types.BreakerRef, error)
	EmergencyShutdown() bool
	Module(i int) (types.ModuleState, types.ModuleBreakers)
}

// Rule refuses a breaker operation when Refuse returns true. A rule applies to
// every breaker of Role operated in the Closing direction.
type Rule[T Topology] struct {
	Role    types.BreakerRole
	Closing bool
	Reason  string
	Refuse  func(view T, ref types.BreakerRef) bool
}

// Table is an ordered set of interlock rules for one topology.
type Table[T Topology] struct {
	rules []Rule[T]
}

// NewTable creates a table from rules in priority order.
func NewTable[T Topology](rules ...Rule[T]) Table[T] {
	return Table[T]{rules: rules}
}

// Check returns whether operating breaker id towards closing is permitted.
// It never modifies the snapshot.
func (t Table[T]) Check(view T, id string, closing bool) types.Permission {
	ref, err := view.Locate(id)
	if err != nil {
		return types.Refuse(err.Error())
	}
	if view.EmergencyShutdown() {
		return types.Refuse("emergency shutdown active: reset with EPO first")
	}
	for _, r := range t.rules {
		if r.Role != ref.Role || r.Closing != closing {
			continue
		}
		if r.Refuse(view, ref) {
			return types.Refuse(fmt.Sprintf("%s: %s", ref.ID, r.Reason))
		}
	}
	return types.Allow
}

// maintenanceNeedsBypass refuses closing a maintenance bypass unless the
// module's static switch already carries the load on bypass.
func maintenanceNeedsBypass[T Topology]() Rule[T] {
	return Rule[T]{
		Role:    types.RoleMaintenance,
		Closing: true,
		Reason:  "static switch must be on BYPASS before closing the maintenance bypass",
		Refuse: func(view T, ref types.BreakerRef) bool {
			m, _ := view.Module(ref.Module)
			return m.StaticSwitch.Mode != types.TransferBypass
		},
	}
}

// rectifierBlockedByMaintenance refuses energizing a rectifier into a module
// isolated for maintenance.
func rectifierBlockedByMaintenance[T Topology]() Rule[T] {
	return Rule[T]{
		Role:    types.RoleRectifierInput,
		Closing: true,
		Reason:  "maintenance bypass is closed",
		Refuse: func(view T, ref types.BreakerRef) bool {
			_, br := view.Module(ref.Module)
			return br.Q3
		},
	}
}
