// Package reports holds the live report tree of an execution.
package reports

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of a report node.
type Status string

const (
	StatusRunning        Status = "running"
	StatusPassed         Status = "passed"
	StatusFailed         Status = "failed"
	StatusTechnicalError Status = "technical_error"
	StatusInterrupted    Status = "interrupted"
	StatusSkipped        Status = "skipped"
)

// severity orders statuses so a parent can report its worst child.
var severity = map[Status]int{
	StatusSkipped:        0,
	StatusPassed:         1,
	StatusRunning:        2,
	StatusInterrupted:    3,
	StatusFailed:         4,
	StatusTechnicalError: 5,
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Final reports whether the status is terminal.
func (s Status) Final() bool {
	return s != StatusRunning && s != ""
}

// Node is the live or finalized record of one artefact execution.
type Node struct {
	ID                 string        `json:"id"`
	ParentID           string        `json:"parentId,omitempty"`
	ExecutionID        string        `json:"executionId"`
	Name               string        `json:"name"`
	ArtefactID         string        `json:"artefactId"`
	ArtefactType       string        `json:"artefactType"`
	ArtefactHash       string        `json:"artefactHash,omitempty"`
	ResolvedPlanNodeID string        `json:"resolvedPlanNodeId,omitempty"`
	Status             Status        `json:"status"`
	Message            string        `json:"message,omitempty"`
	Error              string        `json:"error,omitempty"`
	StartTime          time.Time     `json:"startTime"`
	Duration           time.Duration `json:"duration"`
}

// NewNode creates a running node with a fresh id.
func NewNode(executionID, parentID, name string) *Node {
	return &Node{
		ID:          uuid.New().String(),
		ParentID:    parentID,
		ExecutionID: executionID,
		Name:        name,
		Status:      StatusRunning,
		StartTime:   time.Now(),
	}
}

// NodeCache resolves report nodes by id as soon as they are created,
// finalized or not.
type NodeCache interface {
	Get(id string) (*Node, bool)
}
