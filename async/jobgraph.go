package async

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/watertoon/vkruntime/internal/corelog"
	"github.com/watertoon/vkruntime/internal/result"
)

// JobFunc is the work a dependency-graph node performs on each of its runs.
type JobFunc func(runIndex int) result.Result

// JobOptions configures one RegisterJob call.
type JobOptions struct {
	Priority               int32
	CoreMask               uint32
	MultiRunCount          int  // number of times to enqueue this job; default 1
	IsMultiRunCompleteOnce bool // node's result is its first run's; dependents still wait for all runs
	Run                    JobFunc
}

type jobNode struct {
	id       int
	opt      JobOptions
	children []int
	parents  []int
	remaining int // unresolved parent count
}

// DependencyJobGraph is a build-phase DAG: RegisterJob/RegisterDependency
// construct it; SubmitGraph (via a DependencyJobThreadManager) flattens
// and runs it wave by wave.
type DependencyJobGraph struct {
	mu       sync.Mutex
	nodes    []*jobNode
	userToID map[int]int // 256-entry user-id -> register-id map
}

// NewDependencyJobGraph creates an empty graph.
func NewDependencyJobGraph() *DependencyJobGraph {
	return &DependencyJobGraph{userToID: map[int]int{}}
}

// RegisterJob inserts a node and returns its register id.
func (g *DependencyJobGraph) RegisterJob(opt JobOptions) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := len(g.nodes)
	if opt.MultiRunCount <= 0 {
		opt.MultiRunCount = 1
	}
	g.nodes = append(g.nodes, &jobNode{id: id, opt: opt})
	return id
}

// RegisterJobWithUserID is RegisterJob plus a user id binding, resolved
// through the graph's user->register map (capped at 256 entries).
func (g *DependencyJobGraph) RegisterJobWithUserID(userID int, opt JobOptions) int {
	id := g.RegisterJob(opt)
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.userToID) < 256 {
		g.userToID[userID] = id
	}
	return id
}

// RegisterDependency adds an edge: child cannot run until parent completes.
func (g *DependencyJobGraph) RegisterDependency(parentRegisterID, childRegisterID int) result.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.validID(parentRegisterID) || !g.validID(childRegisterID) {
		return result.AsyncInvalidPriority
	}
	g.nodes[parentRegisterID].children = append(g.nodes[parentRegisterID].children, childRegisterID)
	g.nodes[childRegisterID].parents = append(g.nodes[childRegisterID].parents, parentRegisterID)
	return result.Success
}

// RegisterDependencyByUserID resolves both ids through the user->register
// map before calling RegisterDependency.
func (g *DependencyJobGraph) RegisterDependencyByUserID(parentUserID, childUserID int) result.Result {
	g.mu.Lock()
	parentID, pok := g.userToID[parentUserID]
	childID, cok := g.userToID[childUserID]
	g.mu.Unlock()
	if !pok || !cok {
		return result.AsyncInvalidPriority
	}
	return g.RegisterDependency(parentID, childID)
}

func (g *DependencyJobGraph) validID(id int) bool {
	return id >= 0 && id < len(g.nodes)
}

// Clear empties the graph so it can be rebuilt and resubmitted.
func (g *DependencyJobGraph) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = nil
	g.userToID = map[int]int{}
}

// flattenWaves topologically orders nodes into waves: wave 0 holds every
// node with no parents, wave k+1 holds every node whose parents are all in
// waves <= k.
func (g *DependencyJobGraph) flattenWaves() [][]*jobNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	remaining := make([]int, len(g.nodes))
	for i, n := range g.nodes {
		remaining[i] = len(n.parents)
	}

	var waves [][]*jobNode
	done := make([]bool, len(g.nodes))
	left := len(g.nodes)
	for left > 0 {
		var wave []*jobNode
		for i, n := range g.nodes {
			if !done[i] && remaining[i] == 0 {
				wave = append(wave, n)
			}
		}
		if len(wave) == 0 {
			// cyclic or malformed graph; bail out rather than loop forever.
			break
		}
		for _, n := range wave {
			done[n.id] = true
			left--
			for _, c := range n.children {
				remaining[c]--
			}
		}
		waves = append(waves, wave)
	}
	return waves
}

// DependencyJobThreadManager executes a DependencyJobGraph's waves across a
// bounded pool of goroutine workers.
type DependencyJobThreadManager struct {
	concurrency         int
	isProcessInMainThread bool
}

// NewDependencyJobThreadManager creates a manager that runs up to
// concurrency jobs at once per wave.
func NewDependencyJobThreadManager(concurrency int, isProcessInMainThread bool) *DependencyJobThreadManager {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &DependencyJobThreadManager{concurrency: concurrency, isProcessInMainThread: isProcessInMainThread}
}

// SubmitGraph flattens g into waves and runs each wave to completion before
// starting the next ("FinishRun barriers until all waves drain"). Each
// node's Run is invoked MultiRunCount times; if IsMultiRunCompleteOnce the
// node's first successful run result is kept, otherwise the last run's
// result is kept (first failure short-circuits remaining runs either way).
func (m *DependencyJobThreadManager) SubmitGraph(ctx context.Context, g *DependencyJobGraph) result.Result {
	waves := g.flattenWaves()
	for waveIdx, wave := range waves {
		grp, gctx := errgroup.WithContext(ctx)
		grp.SetLimit(m.concurrency)
		results := make([]result.Result, len(wave))
		for i, n := range wave {
			i, n := i, n
			grp.Go(func() error {
				results[i] = runNode(gctx, n)
				return nil
			})
		}
		if err := grp.Wait(); err != nil {
			corelog.Errorf(logTag, "job graph wave %d: %v", waveIdx, err)
		}
		for i, n := range wave {
			if results[i].IsFailure() {
				corelog.Errorf(logTag, "job graph: node %d failed in wave %d: %v", n.id, waveIdx, results[i])
				return results[i]
			}
		}
	}
	return result.Success
}

func runNode(ctx context.Context, n *jobNode) result.Result {
	if n.opt.Run == nil {
		return result.Success
	}
	var last result.Result
	for run := 0; run < n.opt.MultiRunCount; run++ {
		select {
		case <-ctx.Done():
			return result.AsyncCancelled
		default:
		}
		res := n.opt.Run(run)
		if n.opt.IsMultiRunCompleteOnce && run == 0 {
			last = res
		}
		if !n.opt.IsMultiRunCompleteOnce {
			last = res
		}
		if res.IsFailure() {
			return res
		}
	}
	return last
}
