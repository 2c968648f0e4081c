package execution

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusRunning      Status = "running"
	StatusAborting     Status = "aborting"
	StatusEnded        Status = "ended"
)

// Execution is one run of a plan. It owns one report tree and one resolved-plan tree.
type Execution struct {
	ID       string `json:"id" yaml:"id"`
	PlanID   string `json:"plan_id" yaml:"plan_id"`
	PlanName string `json:"plan_name" yaml:"plan_name"`
	// ResolvedPlanRootNodeID points at the root of the resolved-plan tree.
	ResolvedPlanRootNodeID string            `json:"resolved_plan_root_node_id,omitempty" yaml:"resolved_plan_root_node_id,omitempty"`
	Status                 Status            `json:"status" yaml:"status"`
	Result                 string            `json:"result,omitempty" yaml:"result,omitempty"`
	Parameters             map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	StartTime              time.Time         `json:"start_time" yaml:"start_time"`
	EndTime                time.Time         `json:"end_time,omitempty" yaml:"end_time,omitempty"`
}

// NewExecution creates an execution record in the initializing state.
func NewExecution(planID, planName string, parameters map[string]string) *Execution {
	params := make(map[string]string, len(parameters))
	for k, v := range parameters {
		params[k] = v
	}
	return &Execution{
		ID:         uuid.New().String(),
		PlanID:     planID,
		PlanName:   planName,
		Status:     StatusInitializing,
		Parameters: params,
		StartTime:  time.Now(),
	}
}

// Duration returns the elapsed run time, up to now for unfinished executions.
func (e *Execution) Duration() time.Duration {
	if e.EndTime.IsZero() {
		return time.Since(e.StartTime)
	}
	return e.EndTime.Sub(e.StartTime)
}
