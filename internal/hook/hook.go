// hook.go — Ordered record hook pipeline with reentrancy guarding.
//
// Hooks are invoked around record lifecycle events (read, create, update,
// delete). Each hook is registered at a Position; dispatch is stable by
// position order, then by insertion order within a position.
package hook

import (
	"sync"

	"github.com/lucentgraph/lucent/internal/wire"
)

// Position orders hook dispatch. Declared order is the dispatch order:
// FIRST runs before EARLY, EARLY before REGULAR, and so on.
type Position int

const (
	FIRST Position = iota
	EARLY
	REGULAR
	LATE
	LAST
)

// Type names the lifecycle moment a hook is invoked for.
type Type int

const (
	BeforeRead Type = iota
	AfterRead
	BeforeCreate
	AfterCreate
	CreateFailed
	CreateReplicated
	BeforeUpdate
	AfterUpdate
	UpdateFailed
	UpdateReplicated
	BeforeDelete
	AfterDelete
	DeleteFailed
	DeleteReplicated
)

// Result is the outcome a hook returns, which can short-circuit the
// caller's remaining work.
type Result int

const (
	// ResultNotChanged means the hook did nothing; the caller proceeds
	// with its own default behaviour and with any other hooks in the chain.
	ResultNotChanged Result = iota
	// ResultChanged means the hook mutated the record in place; the
	// caller should re-serialize before continuing, but other hooks in
	// the chain still run.
	ResultChanged
	// ResultSkip means the caller should abandon the operation entirely
	// without further hook dispatch.
	ResultSkip
	// ResultSkipIO means the caller should return immediately without
	// ever reaching storage, and without running remaining hooks.
	ResultSkipIO
	// ResultReplaced means the hook supplied a substitute record; the
	// caller should use it in place of the original and stop dispatch.
	ResultReplaced
)

// DistributedMode filters a hook out of dispatch depending on how the
// owning storage is currently running.
type DistributedMode int

const (
	// ModeBoth runs regardless of distributed run mode.
	ModeBoth DistributedMode = iota
	// ModeTargetNode runs only on the node a distributed operation targets.
	ModeTargetNode
	// ModeSourceNode runs only on the node a distributed operation originated from.
	ModeSourceNode
)

// RunMode is the storage's current distributed execution mode, consulted
// by Pipeline.Dispatch to filter hooks per DistributedMode.
type RunMode int

const (
	RunDefault RunMode = iota
	RunRunningDistributed
)

// Hook is invoked for a given lifecycle Type with the record under
// consideration. A non-nil replacement is only meaningful alongside
// ResultReplaced.
type Hook interface {
	// Identity distinguishes this hook for registration and for the
	// per-identity reentrancy guard. Typically the hook's own address
	// or a stable name.
	Identity() string
	Invoke(t Type, record *wire.Record) (Result, *wire.Record)
	DistributedMode() DistributedMode
}

type entry struct {
	hook     Hook
	position Position
}

// Pipeline is the per-database ordered hook registry.
type Pipeline struct {
	mu      sync.RWMutex
	entries []entry
}

// Guard tracks which record identities are currently being dispatched
// within one logical call chain, so a hook that re-enters the pipeline
// for the same record (directly or by triggering another save/delete
// on it) is caught as reentrant. A Guard is owned by a single caller's
// call chain, never shared across requests: the caller creates one
// with NewGuard at the start of a top-level operation (load, save,
// delete) and threads it through every Dispatch call made during that
// operation, so unrelated concurrent requests touching the same RID on
// different goroutines never see each other's guard state.
type Guard map[string]struct{}

// NewGuard returns an empty reentrancy guard for one call chain.
func NewGuard() Guard {
	return make(Guard)
}

// NewPipeline returns an empty hook pipeline.
func NewPipeline() *Pipeline {
	return &Pipeline{}
}

// Register adds hook at position. If hook is already registered its
// position is updated and the registry is re-sorted; a hook registered
// twice at the same identity does not duplicate dispatch.
func (p *Pipeline) Register(h Hook, position Position) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, e := range p.entries {
		if e.hook.Identity() == h.Identity() {
			p.entries[i] = entry{hook: h, position: position}
			p.resort()
			return
		}
	}
	p.entries = append(p.entries, entry{hook: h, position: position})
	p.resort()
}

// Unregister removes a hook by identity. A no-op if not registered.
func (p *Pipeline) Unregister(identity string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.entries {
		if e.hook.Identity() == identity {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			return
		}
	}
}

// Clear removes every registered hook, as happens on database close.
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = nil
}

// resort performs a stable sort by position, preserving insertion order
// within a position. Caller must hold p.mu.
func (p *Pipeline) resort() {
	// Stable insertion sort: the registry is small (a handful of hooks
	// per database), so this avoids pulling in sort.SliceStable's
	// reflection overhead for no measurable benefit.
	for i := 1; i < len(p.entries); i++ {
		j := i
		for j > 0 && p.entries[j-1].position > p.entries[j].position {
			p.entries[j-1], p.entries[j] = p.entries[j], p.entries[j-1]
			j--
		}
	}
}

// Dispatch runs every registered hook for t against record, honoring the
// distributed-mode filter, the per-identity reentrancy guard, and the
// short-circuit semantics of Result. It returns the final result and,
// for ResultReplaced, the substitute record.
//
// guard scopes reentrancy detection to the caller's own call chain; pass
// the same Guard across every Dispatch call made while servicing one
// load/save/delete so a hook that re-enters the pipeline for the same
// record is caught, without that detection leaking into unrelated
// concurrent requests.
//
// distributed is true when the owning storage is a distributed storage;
// runMode is its current run mode. Non-distributed storages run every
// hook regardless of DistributedMode.
func (p *Pipeline) Dispatch(t Type, record *wire.Record, distributed bool, runMode RunMode, guard Guard) (Result, *wire.Record) {
	guardKey := record.RID.Key()
	if _, reentering := guard[guardKey]; reentering {
		return ResultNotChanged, nil
	}
	guard[guardKey] = struct{}{}
	defer delete(guard, guardKey)

	p.mu.RLock()
	entries := make([]entry, len(p.entries))
	copy(entries, p.entries)
	p.mu.RUnlock()

	changed := false
	for _, e := range entries {
		if distributed {
			mode := e.hook.DistributedMode()
			if runMode == RunDefault && mode == ModeTargetNode {
				continue
			}
			if runMode == RunRunningDistributed && mode == ModeSourceNode {
				continue
			}
		}

		result, replacement := e.hook.Invoke(t, record)
		switch result {
		case ResultSkip, ResultSkipIO, ResultReplaced:
			return result, replacement
		case ResultChanged:
			changed = true
		}
	}

	if changed {
		return ResultChanged, nil
	}
	return ResultNotChanged, nil
}
