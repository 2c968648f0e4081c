package threads

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Operation is a read-only snapshot of what a thread is doing.
type Operation struct {
	ThreadID     string        `json:"threadId"`
	ThreadName   string        `json:"threadName"`
	ReportNodeID string        `json:"reportNodeId,omitempty"`
	Operations   []string      `json:"operations,omitempty"`
	Running      time.Duration `json:"running"`
}

// threadSet is a concurrently mutated set of threads. A set emptied by a
// remover is marked dead and dropped from its registry; adders that loaded a
// dead set retry with a fresh one.
type threadSet struct {
	mu      sync.Mutex
	threads map[string]*Thread
	dead    bool
}

func addTo(registry *sync.Map, key string, t *Thread) {
	for {
		v, _ := registry.LoadOrStore(key, &threadSet{threads: make(map[string]*Thread)})
		set := v.(*threadSet)
		set.mu.Lock()
		if set.dead {
			set.mu.Unlock()
			continue
		}
		set.threads[t.ID] = t
		set.mu.Unlock()
		return
	}
}

func removeFrom(registry *sync.Map, key, threadID string) {
	v, ok := registry.Load(key)
	if !ok {
		return
	}
	set := v.(*threadSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.threads, threadID)
	if len(set.threads) == 0 && !set.dead {
		set.dead = true
		registry.CompareAndDelete(key, set)
	}
}

func snapshot(registry *sync.Map, key string) []*Thread {
	v, ok := registry.Load(key)
	if !ok {
		return nil
	}
	set := v.(*threadSet)
	set.mu.Lock()
	defer set.mu.Unlock()
	out := make([]*Thread, 0, len(set.threads))
	for _, t := range set.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].started.Before(out[j].started) })
	return out
}

// Option configures a Manager.
type Option func(*Manager)

// WithInterruptHook registers a callback run for every interrupted thread.
func WithInterruptHook(fn func(*Thread)) Option {
	return func(m *Manager) {
		m.onInterrupt = fn
	}
}

// Manager tracks live threads per execution and per report node.
type Manager struct {
	executions sync.Map // execution id -> *threadSet
	nodes      sync.Map // report node id -> *threadSet
	owners     sync.Map // thread id -> execution id

	matchMu  sync.RWMutex
	classes  map[string]struct{}
	patterns []*regexp.Regexp

	live        atomic.Int64
	interrupts  atomic.Int64
	onInterrupt func(*Thread)
	logger      *zap.Logger
}

// NewManager creates a thread manager.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		classes: make(map[string]struct{}),
		logger:  logger.With(zap.String("component", "thread_manager")),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RegisterClass marks threads with the given name as interruptible at
// execution end.
func (m *Manager) RegisterClass(name string) {
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	m.classes[name] = struct{}{}
}

// RegisterPattern marks threads whose name or any current operation matches
// pattern as interruptible at execution end.
func (m *Manager) RegisterPattern(pattern *regexp.Regexp) {
	m.matchMu.Lock()
	defer m.matchMu.Unlock()
	m.patterns = append(m.patterns, pattern)
}

// AssociateThread registers t with an execution. With a parent thread id,
// t also joins every report node scope currently listing the parent.
func (m *Manager) AssociateThread(executionID string, t *Thread, parentThreadID string) {
	addTo(&m.executions, executionID, t)
	if _, loaded := m.owners.LoadOrStore(t.ID, executionID); !loaded {
		m.live.Add(1)
	}

	if parentThreadID == "" {
		return
	}
	m.nodes.Range(func(key, value any) bool {
		set := value.(*threadSet)
		set.mu.Lock()
		_, listed := set.threads[parentThreadID]
		set.mu.Unlock()
		if listed {
			addTo(&m.nodes, key.(string), t)
		}
		return true
	})
}

// UnassociateThread removes t from its execution and from every node scope.
func (m *Manager) UnassociateThread(t *Thread) {
	if v, ok := m.owners.LoadAndDelete(t.ID); ok {
		removeFrom(&m.executions, v.(string), t.ID)
		m.live.Add(-1)
	}
	var keys []string
	m.nodes.Range(func(key, value any) bool {
		set := value.(*threadSet)
		set.mu.Lock()
		_, listed := set.threads[t.ID]
		set.mu.Unlock()
		if listed {
			keys = append(keys, key.(string))
		}
		return true
	})
	for _, k := range keys {
		removeFrom(&m.nodes, k, t.ID)
	}
}

// BeforeReportNodeExecution records the current thread of ctx under nodeID.
func (m *Manager) BeforeReportNodeExecution(ctx context.Context, nodeID string) {
	t, ok := FromContext(ctx)
	if !ok {
		m.logger.Debug("no thread in context", zap.String("report_node_id", nodeID))
		return
	}
	t.enterNode(nodeID)
	addTo(&m.nodes, nodeID, t)
}

// AfterReportNodeExecution clears the current thread of ctx from nodeID.
func (m *Manager) AfterReportNodeExecution(ctx context.Context, nodeID string) {
	t, ok := FromContext(ctx)
	if !ok {
		return
	}
	t.leaveNode(nodeID)
	removeFrom(&m.nodes, nodeID, t.ID)
}

// BeforeExecutionEnd interrupts every thread of the execution that matches a
// registered class or pattern and returns how many were interrupted.
// Interruption is cooperative.
func (m *Manager) BeforeExecutionEnd(_ context.Context, executionID string) int {
	count := 0
	for _, t := range snapshot(&m.executions, executionID) {
		if !m.matches(t) {
			continue
		}
		t.Interrupt(ErrInterrupted)
		count++
		m.interrupts.Add(1)
		m.logger.Warn("interrupting thread at execution end",
			zap.String("execution_id", executionID),
			zap.String("thread_id", t.ID),
			zap.String("thread_name", t.Name),
			zap.Strings("operations", t.Operations()))
		if m.onInterrupt != nil {
			m.onInterrupt(t)
		}
	}
	return count
}

func (m *Manager) matches(t *Thread) bool {
	m.matchMu.RLock()
	defer m.matchMu.RUnlock()
	if _, ok := m.classes[t.Name]; ok {
		return true
	}
	if len(m.patterns) == 0 {
		return false
	}
	candidates := append([]string{t.Name}, t.Operations()...)
	for _, p := range m.patterns {
		for _, c := range candidates {
			if p.MatchString(c) {
				return true
			}
		}
	}
	return false
}

// CurrentOperationsByReportNodeID returns what is running under nodeID.
func (m *Manager) CurrentOperationsByReportNodeID(nodeID string) []Operation {
	threads := snapshot(&m.nodes, nodeID)
	out := make([]Operation, 0, len(threads))
	for _, t := range threads {
		op := operationOf(t)
		op.ReportNodeID = nodeID
		out = append(out, op)
	}
	return out
}

// CurrentOperations returns what every live thread of the execution is doing.
func (m *Manager) CurrentOperations(executionID string) []Operation {
	threads := snapshot(&m.executions, executionID)
	out := make([]Operation, 0, len(threads))
	for _, t := range threads {
		out = append(out, operationOf(t))
	}
	return out
}

func operationOf(t *Thread) Operation {
	return Operation{
		ThreadID:     t.ID,
		ThreadName:   t.Name,
		ReportNodeID: t.currentNode(),
		Operations:   t.Operations(),
		Running:      time.Since(t.started),
	}
}

// LiveThreads returns the number of associated threads across executions.
func (m *Manager) LiveThreads() int64 {
	return m.live.Load()
}

// Interrupts returns the number of interrupts requested so far.
func (m *Manager) Interrupts() int64 {
	return m.interrupts.Load()
}
