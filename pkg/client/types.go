package client

import "time"

// TargetStatus mirrors one row of the status server's GET /status response.
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

// ResourceSnapshot mirrors GET /resources.
type ResourceSnapshot struct {
	MemoryPercent float64 `json:"memory_percent"`
	CPUPercent    float64 `json:"cpu_percent"`
	DiskPercent   float64 `json:"disk_percent"`
}

// okResponse mirrors GET /healthz.
type okResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the status server's error shape.
type ErrorResponse struct {
	Error string `json:"error"`
}
