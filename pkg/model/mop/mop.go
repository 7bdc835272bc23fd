//nolint:revive // exported
package mop

import (
	"time"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
)

// Verb classifies what an operation does to its target.
type Verb uint8

const (
	VerbCreate Verb = iota
	VerbUpdate
	VerbDelete
)

func (v Verb) String() string {
	switch v {
	case VerbCreate:
		return "create"
	case VerbUpdate:
		return "update"
	case VerbDelete:
		return "delete"
	}
	return "unknown"
}

// Target identifies the entity class an operation touches.
type Target uint8

const (
	TargetBlock Target = iota
	TargetSubblock
	TargetVariable
	TargetEdge
	TargetWorkflow
)

func (t Target) String() string {
	switch t {
	case TargetBlock:
		return "block"
	case TargetSubblock:
		return "subblock"
	case TargetVariable:
		return "variable"
	case TargetEdge:
		return "edge"
	case TargetWorkflow:
		return "workflow"
	}
	return "unknown"
}

// Status is the queue-visible lifecycle state of an operation.
// Confirmed operations are removed from the queue, not marked.
type Status uint8

const (
	StatusPending Status = iota
	StatusProcessing
	StatusFailedTerminal
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusFailedTerminal:
		return "failed"
	}
	return "unknown"
}

// RetryClass separates cheap field edits from structural changes.
// Edit-class operations get a larger retry budget and a linear backoff;
// structural operations back off exponentially.
type RetryClass uint8

const (
	RetryClassEdit RetryClass = iota
	RetryClassStructural
)

// SubblockPayload is a field edit inside a block: the latest value for
// one (BlockID, SubblockID) slot.
type SubblockPayload struct {
	BlockID    idwrap.IDWrap `json:"blockId"`
	SubblockID string        `json:"subblockId"`
	Value      any           `json:"value"`
}

// VariablePayload is a field edit on a workflow variable.
type VariablePayload struct {
	VariableID idwrap.IDWrap `json:"variableId"`
	Field      string        `json:"field"`
	Value      any           `json:"value"`
}

// StructuralPayload covers create/update/delete of whole entities
// (blocks, edges, variables, the workflow itself).
type StructuralPayload struct {
	EntityID idwrap.IDWrap `json:"entityId"`
	Data     any           `json:"data,omitempty"`
}

// Operation is one pending change awaiting delivery to the authority.
// The queue owns every live Operation; callers only see copies.
type Operation struct {
	ID         idwrap.IDWrap
	Verb       Verb
	Target     Target
	ScopeID    idwrap.IDWrap
	Status     Status
	RetryCount int
	EnqueuedAt time.Time

	// Immediate is reserved for a future debounce bypass. The dispatcher
	// ignores it.
	Immediate bool

	// Exactly one of these is set, according to Verb/Target.
	Subblock   *SubblockPayload
	Variable   *VariablePayload
	Structural *StructuralPayload
}

// IsEdit reports whether the operation is a field edit (subblock or
// variable update) as opposed to a structural change.
func (op Operation) IsEdit() bool {
	if op.Verb != VerbUpdate {
		return false
	}
	return op.Target == TargetSubblock || op.Target == TargetVariable
}

func (op Operation) RetryClass() RetryClass {
	if op.IsEdit() {
		return RetryClassEdit
	}
	return RetryClassStructural
}

// CoalesceKey returns the last-write-wins slot key for edit operations
// and ok=false for operations that never coalesce.
func (op Operation) CoalesceKey() (string, bool) {
	switch {
	case op.IsEdit() && op.Subblock != nil:
		return "sb/" + op.Subblock.BlockID.String() + "/" + op.Subblock.SubblockID, true
	case op.IsEdit() && op.Variable != nil:
		return "var/" + op.Variable.VariableID.String() + "/" + op.Variable.Field, true
	}
	return "", false
}

// EntityID returns the primary entity the operation addresses.
func (op Operation) EntityID() idwrap.IDWrap {
	switch {
	case op.Subblock != nil:
		return op.Subblock.BlockID
	case op.Variable != nil:
		return op.Variable.VariableID
	case op.Structural != nil:
		return op.Structural.EntityID
	}
	return idwrap.IDWrap{}
}

// ReferencesBlock reports whether the operation would be meaningless once
// the given block is locally deleted. Subblock edits reference their
// owning block indirectly.
func (op Operation) ReferencesBlock(blockID idwrap.IDWrap) bool {
	if op.Subblock != nil {
		return op.Subblock.BlockID == blockID
	}
	if op.Structural != nil && op.Target == TargetBlock {
		return op.Structural.EntityID == blockID
	}
	return false
}

func (op Operation) ReferencesVariable(variableID idwrap.IDWrap) bool {
	if op.Variable != nil {
		return op.Variable.VariableID == variableID
	}
	if op.Structural != nil && op.Target == TargetVariable {
		return op.Structural.EntityID == variableID
	}
	return false
}
