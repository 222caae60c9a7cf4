package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucentgraph/lucent/internal/wire"
)

type recordingHook struct {
	id       string
	mode     DistributedMode
	result   Result
	replace  *wire.Record
	invoked  *[]string
}

func (h *recordingHook) Identity() string { return h.id }
func (h *recordingHook) DistributedMode() DistributedMode { return h.mode }
func (h *recordingHook) Invoke(_ Type, _ *wire.Record) (Result, *wire.Record) {
	*h.invoked = append(*h.invoked, h.id)
	return h.result, h.replace
}

func TestPipeline_DispatchOrder(t *testing.T) {
	t.Parallel()
	var order []string
	p := NewPipeline()
	p.Register(&recordingHook{id: "last", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, LAST)
	p.Register(&recordingHook{id: "first", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, FIRST)
	p.Register(&recordingHook{id: "regular-a", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, REGULAR)
	p.Register(&recordingHook{id: "regular-b", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, REGULAR)

	rec := &wire.Record{RID: wire.RID{ClusterID: 1, ClusterPosition: []byte{0}}}
	result, _ := p.Dispatch(BeforeRead, rec, false, RunDefault, NewGuard())

	assert.Equal(t, ResultNotChanged, result)
	assert.Equal(t, []string{"first", "regular-a", "regular-b", "last"}, order)
}

func TestPipeline_SkipIOShortCircuits(t *testing.T) {
	t.Parallel()
	var order []string
	p := NewPipeline()
	p.Register(&recordingHook{id: "early", mode: ModeBoth, result: ResultSkipIO, invoked: &order}, EARLY)
	p.Register(&recordingHook{id: "never-runs", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, LAST)

	rec := &wire.Record{RID: wire.RID{ClusterID: 1, ClusterPosition: []byte{0}}}
	result, _ := p.Dispatch(BeforeCreate, rec, false, RunDefault, NewGuard())

	assert.Equal(t, ResultSkipIO, result)
	assert.Equal(t, []string{"early"}, order)
}

func TestPipeline_ReplacedReturnsSubstitute(t *testing.T) {
	t.Parallel()
	var order []string
	substitute := &wire.Record{RID: wire.RID{ClusterID: 2, ClusterPosition: []byte{1}}}
	p := NewPipeline()
	p.Register(&recordingHook{id: "replacer", mode: ModeBoth, result: ResultReplaced, replace: substitute, invoked: &order}, REGULAR)

	rec := &wire.Record{RID: wire.RID{ClusterID: 1, ClusterPosition: []byte{0}}}
	result, replacement := p.Dispatch(BeforeUpdate, rec, false, RunDefault, NewGuard())

	assert.Equal(t, ResultReplaced, result)
	require.NotNil(t, replacement)
	assert.True(t, substitute.RID.Equal(replacement.RID))
}

func TestPipeline_DistributedModeFilter(t *testing.T) {
	t.Parallel()
	var order []string
	p := NewPipeline()
	p.Register(&recordingHook{id: "target-only", mode: ModeTargetNode, result: ResultNotChanged, invoked: &order}, REGULAR)
	p.Register(&recordingHook{id: "source-only", mode: ModeSourceNode, result: ResultNotChanged, invoked: &order}, REGULAR)
	p.Register(&recordingHook{id: "both", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, REGULAR)

	rec := &wire.Record{RID: wire.RID{ClusterID: 1, ClusterPosition: []byte{0}}}

	order = nil
	p.Dispatch(BeforeRead, rec, true, RunDefault, NewGuard())
	assert.ElementsMatch(t, []string{"source-only", "both"}, order)

	order = nil
	p.Dispatch(BeforeRead, rec, true, RunRunningDistributed, NewGuard())
	assert.ElementsMatch(t, []string{"target-only", "both"}, order)
}

func TestPipeline_ReentrancyGuard(t *testing.T) {
	t.Parallel()
	var order []string
	p := NewPipeline()
	rec := &wire.Record{RID: wire.RID{ClusterID: 1, ClusterPosition: []byte{0}}}

	guard := NewGuard()
	reentrantHook := &reentrantCallHook{pipeline: p, record: rec, invoked: &order, guard: guard}
	p.Register(reentrantHook, REGULAR)

	result, _ := p.Dispatch(BeforeRead, rec, false, RunDefault, guard)
	assert.Equal(t, ResultNotChanged, result)
	assert.Equal(t, []string{"reentrant", "reentrant-inner-blocked"}, order)
}

func TestPipeline_UnrelatedConcurrentDispatchesDoNotBlockEachOther(t *testing.T) {
	t.Parallel()
	var order []string
	p := NewPipeline()
	p.Register(&recordingHook{id: "only", mode: ModeBoth, result: ResultNotChanged, invoked: &order}, REGULAR)

	rec := &wire.Record{RID: wire.RID{ClusterID: 1, ClusterPosition: []byte{0}}}

	// Two independent call chains touching the same RID, each with its
	// own guard, must not see each other as reentrant.
	result1, _ := p.Dispatch(BeforeRead, rec, false, RunDefault, NewGuard())
	result2, _ := p.Dispatch(BeforeRead, rec, false, RunDefault, NewGuard())

	assert.Equal(t, ResultNotChanged, result1)
	assert.Equal(t, ResultNotChanged, result2)
	assert.Equal(t, []string{"only", "only"}, order)
}

// reentrantCallHook calls back into the same pipeline for the same
// record mid-dispatch, sharing the outer call's guard, exercising the
// per-identity reentrancy guard within one call chain.
type reentrantCallHook struct {
	pipeline *Pipeline
	record   *wire.Record
	invoked  *[]string
	guard    Guard
}

func (h *reentrantCallHook) Identity() string                  { return "reentrant" }
func (h *reentrantCallHook) DistributedMode() DistributedMode { return ModeBoth }
func (h *reentrantCallHook) Invoke(t Type, record *wire.Record) (Result, *wire.Record) {
	*h.invoked = append(*h.invoked, "reentrant")
	result, _ := h.pipeline.Dispatch(t, record, false, RunDefault, h.guard)
	if result == ResultNotChanged {
		*h.invoked = append(*h.invoked, "reentrant-inner-blocked")
	}
	return ResultNotChanged, nil
}
