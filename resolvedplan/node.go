package resolvedplan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/planflow/plan"
)

// ParentSource tells which child list of the parent a node came from.
type ParentSource string

const (
	SourceMain    ParentSource = "main"
	SourceBefore  ParentSource = "before"
	SourceAfter   ParentSource = "after"
	SourceSubPlan ParentSource = "sub_plan"
)

// Node is the execution-scoped, indirection-free mirror of one artefact.
// The artefact snapshot carries no children; children point back through
// ParentID. Nodes are never updated except for the one-time ExecutionID
// backfill of legacy records.
type Node struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"executionId,omitempty"`
	Artefact     *plan.Artefact `json:"artefact"`
	ArtefactHash string         `json:"artefactHash"`
	ParentID     string         `json:"parentId,omitempty"`
	ParentSource ParentSource   `json:"parentSource,omitempty"`
	Position     int            `json:"position"`
}

// Hash derives a node hash from its parent's hash and its own artefact id.
// Nodes reached through an indirection add an "@" hop instead of "/", so a
// referenced plan hashes differently from the same artefact used inline but
// identically on every call site iteration.
func Hash(parentHash, artefactID string, source ParentSource) string {
	sep := "/"
	if source == SourceSubPlan {
		sep = "@"
	}
	sum := sha256.Sum256([]byte(parentHash + sep + artefactID))
	return hex.EncodeToString(sum[:])
}

func (n *Node) clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	return &cp
}

func (n *Node) validate() error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("%w: node id is required", ErrInvalidInput)
	}
	return nil
}

// encodeArtefact renders the snapshot for backends storing it as text.
func encodeArtefact(a *plan.Artefact) (string, error) {
	if a == nil {
		return "", nil
	}
	data, err := json.Marshal(a.Snapshot())
	if err != nil {
		return "", fmt.Errorf("marshal artefact: %w", err)
	}
	return string(data), nil
}

func decodeArtefact(s string) (*plan.Artefact, error) {
	if s == "" {
		return nil, nil
	}
	var a plan.Artefact
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, fmt.Errorf("unmarshal artefact: %w", err)
	}
	return &a, nil
}
