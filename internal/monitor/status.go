package monitor

import (
	"time"

	"github.com/beta0629/stock-trading-system-sub001/internal/resources"
)

// TargetStatus is a point-in-time view of one supervised target as the
// loop last saw it.
type TargetStatus struct {
	Name                string    `json:"name"`
	Role                string    `json:"role"`
	PID                 int       `json:"pid,omitempty"`
	Healthy             bool      `json:"healthy"`
	State               string    `json:"state,omitempty"`
	CPUPercent          float64   `json:"cpu_percent"`
	MemoryPercent       float64   `json:"memory_percent"`
	Restarts            int       `json:"restarts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Adopted             bool      `json:"adopted,omitempty"`
	LastRestartAt       time.Time `json:"last_restart_at"`
	LastProbedAt        time.Time `json:"last_probed_at"`
}

// Status reports all supervised targets, primary first, in configuration
// order. It is safe to call concurrently with the loop.
func (m *Monitor) Status() []TargetStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]TargetStatus, 0, 1+len(m.cfg.Auxes))
	out = append(out, m.statusLocked(m.cfg.Primary.Name))
	for _, aux := range m.cfg.Auxes {
		out = append(out, m.statusLocked(aux.Name))
	}
	return out
}

func (m *Monitor) statusLocked(name string) TargetStatus {
	pol, ok := m.policies[name]
	if !ok {
		return TargetStatus{Name: name}
	}
	res := pol.LastResult
	return TargetStatus{
		Name:                name,
		Role:                pol.Role,
		PID:                 res.PID,
		Healthy:             res.Healthy(),
		State:               res.State,
		CPUPercent:          res.CPUPercent,
		MemoryPercent:       res.MemoryPercent,
		Restarts:            pol.Restarts,
		ConsecutiveFailures: pol.ConsecutiveFailures,
		Adopted:             res.Adopted,
		LastRestartAt:       pol.LastRestartAt,
		LastProbedAt:        pol.LastProbedAt,
	}
}

// TargetPIDs returns the pids of targets whose last probe found a live
// process, keyed by target name. The per-target metrics collector samples
// these.
func (m *Monitor) TargetPIDs() map[string]int32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	pids := make(map[string]int32, len(m.policies))
	for name, pol := range m.policies {
		if pol.LastResult.Found() && pol.LastResult.PID > 0 {
			pids[name] = int32(pol.LastResult.PID)
		}
	}
	return pids
}

// Resources samples current host usage without applying thresholds.
func (m *Monitor) Resources() resources.Snapshot {
	return m.gate.Sample()
}
