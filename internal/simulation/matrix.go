package simulation

import (
	"fmt"
	"math"

	"github.com/h9661/factory-control-and-monitoring-system-sub001/internal/domain"
)

// RowTolerance is how far a row may drift from 1.0 and still be accepted.
const RowTolerance = 1e-6

// TransitionMatrix maps the current status to a distribution over the next.
type TransitionMatrix map[domain.EquipmentStatus]map[domain.EquipmentStatus]float64

// DefaultTransitionMatrix is a factory-floor flavoured Markov chain: machines
// mostly keep their state, warnings tend to either recover or escalate, and
// errors resolve through maintenance.
func DefaultTransitionMatrix() TransitionMatrix {
	return TransitionMatrix{
		domain.StatusOffline: {
			domain.StatusOffline: 0.85,
			domain.StatusIdle:    0.10,
			domain.StatusSetup:   0.05,
		},
		domain.StatusIdle: {
			domain.StatusOffline: 0.02,
			domain.StatusIdle:    0.70,
			domain.StatusRunning: 0.20,
			domain.StatusSetup:   0.08,
		},
		domain.StatusRunning: {
			domain.StatusIdle:    0.03,
			domain.StatusRunning: 0.92,
			domain.StatusWarning: 0.04,
			domain.StatusError:   0.01,
		},
		domain.StatusWarning: {
			domain.StatusRunning:     0.50,
			domain.StatusWarning:     0.35,
			domain.StatusError:       0.10,
			domain.StatusMaintenance: 0.05,
		},
		domain.StatusError: {
			domain.StatusOffline:     0.05,
			domain.StatusError:       0.55,
			domain.StatusMaintenance: 0.40,
		},
		domain.StatusMaintenance: {
			domain.StatusIdle:        0.25,
			domain.StatusMaintenance: 0.75,
		},
		domain.StatusSetup: {
			domain.StatusIdle:    0.15,
			domain.StatusRunning: 0.25,
			domain.StatusSetup:   0.60,
		},
	}
}

// Validate checks that every source status is known and that each row is a
// probability distribution.
func (m TransitionMatrix) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("%w: transition matrix is empty", domain.ErrConfiguration)
	}
	for from, row := range m {
		if !from.IsValid() {
			return fmt.Errorf("%w: unknown source status %q", domain.ErrConfiguration, from)
		}
		var sum float64
		for to, p := range row {
			if !to.IsValid() {
				return fmt.Errorf("%w: %s -> unknown status %q", domain.ErrConfiguration, from, to)
			}
			if p < 0 || p > 1 || math.IsNaN(p) {
				return fmt.Errorf("%w: %s -> %s probability %g outside [0,1]", domain.ErrConfiguration, from, to, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > RowTolerance {
			return fmt.Errorf("%w: row %s sums to %g, want 1", domain.ErrConfiguration, from, sum)
		}
	}
	return nil
}

// Covers reports an error if any of the given statuses has no outgoing row.
func (m TransitionMatrix) Covers(statuses ...domain.EquipmentStatus) error {
	for _, s := range statuses {
		if _, ok := m[s]; !ok {
			return fmt.Errorf("%w: no transitions defined for status %s", domain.ErrConfiguration, s)
		}
	}
	return nil
}

// Next picks the successor of current for a uniform draw u in [0,1). The row
// is walked in domain.AllStatuses order; the first entry whose cumulative
// mass exceeds u wins. If rounding leaves u uncovered the last non-zero
// entry is used. A status without a row stays where it is.
func (m TransitionMatrix) Next(current domain.EquipmentStatus, u float64) domain.EquipmentStatus {
	row, ok := m[current]
	if !ok {
		return current
	}

	var (
		cumulative float64
		last       = current
	)
	for _, candidate := range domain.AllStatuses {
		p := row[candidate]
		if p <= 0 {
			continue
		}
		cumulative += p
		last = candidate
		if cumulative > u {
			return candidate
		}
	}
	return last
}

// Clone returns a deep copy so callers can tweak rows without sharing maps.
func (m TransitionMatrix) Clone() TransitionMatrix {
	out := make(TransitionMatrix, len(m))
	for from, row := range m {
		r := make(map[domain.EquipmentStatus]float64, len(row))
		for to, p := range row {
			r[to] = p
		}
		out[from] = r
	}
	return out
}
