package engine

import (
	"github.com/BaSui01/planflow/execution"
	"github.com/BaSui01/planflow/reports"
)

// Listener observes an execution while it runs. Callbacks are invoked on the
// goroutine executing the node and must not block.
type Listener interface {
	NodeStarted(exec *execution.Execution, node *reports.Node)
	NodeFinished(exec *execution.Execution, node *reports.Node)
	ScopeReleased(exec *execution.Execution, nodeID string)
}

// ListenerFuncs adapts optional callbacks to Listener.
type ListenerFuncs struct {
	OnNodeStarted   func(exec *execution.Execution, node *reports.Node)
	OnNodeFinished  func(exec *execution.Execution, node *reports.Node)
	OnScopeReleased func(exec *execution.Execution, nodeID string)
}

func (l ListenerFuncs) NodeStarted(exec *execution.Execution, node *reports.Node) {
	if l.OnNodeStarted != nil {
		l.OnNodeStarted(exec, node)
	}
}

func (l ListenerFuncs) NodeFinished(exec *execution.Execution, node *reports.Node) {
	if l.OnNodeFinished != nil {
		l.OnNodeFinished(exec, node)
	}
}

func (l ListenerFuncs) ScopeReleased(exec *execution.Execution, nodeID string) {
	if l.OnScopeReleased != nil {
		l.OnScopeReleased(exec, nodeID)
	}
}
