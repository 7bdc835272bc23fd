package mop

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/the-dev-tools/dev-tools/packages/sync/pkg/idwrap"
)

func TestRetryClass(t *testing.T) {
	t.Run("subblock update is edit class", func(t *testing.T) {
		op := Operation{Verb: VerbUpdate, Target: TargetSubblock}
		assert.Equal(t, RetryClassEdit, op.RetryClass())
	})

	t.Run("variable update is edit class", func(t *testing.T) {
		op := Operation{Verb: VerbUpdate, Target: TargetVariable}
		assert.Equal(t, RetryClassEdit, op.RetryClass())
	})

	t.Run("variable create is structural", func(t *testing.T) {
		op := Operation{Verb: VerbCreate, Target: TargetVariable}
		assert.Equal(t, RetryClassStructural, op.RetryClass())
	})

	t.Run("block delete is structural", func(t *testing.T) {
		op := Operation{Verb: VerbDelete, Target: TargetBlock}
		assert.Equal(t, RetryClassStructural, op.RetryClass())
	})
}

func TestCoalesceKey(t *testing.T) {
	block := idwrap.NewNow()

	a := Operation{
		Verb:     VerbUpdate,
		Target:   TargetSubblock,
		Subblock: &SubblockPayload{BlockID: block, SubblockID: "x", Value: "a"},
	}
	b := Operation{
		Verb:     VerbUpdate,
		Target:   TargetSubblock,
		Subblock: &SubblockPayload{BlockID: block, SubblockID: "x", Value: "b"},
	}
	other := Operation{
		Verb:     VerbUpdate,
		Target:   TargetSubblock,
		Subblock: &SubblockPayload{BlockID: block, SubblockID: "y", Value: "c"},
	}

	keyA, okA := a.CoalesceKey()
	keyB, okB := b.CoalesceKey()
	keyOther, _ := other.CoalesceKey()
	assert.True(t, okA)
	assert.True(t, okB)
	assert.Equal(t, keyA, keyB, "same slot must share a key regardless of value")
	assert.NotEqual(t, keyA, keyOther, "different subblocks must not coalesce")

	structural := Operation{
		Verb:       VerbCreate,
		Target:     TargetBlock,
		Structural: &StructuralPayload{EntityID: block},
	}
	_, ok := structural.CoalesceKey()
	assert.False(t, ok, "structural operations never coalesce")
}

func TestReferences(t *testing.T) {
	block := idwrap.NewNow()
	variable := idwrap.NewNow()

	edit := Operation{
		Verb:     VerbUpdate,
		Target:   TargetSubblock,
		Subblock: &SubblockPayload{BlockID: block, SubblockID: "x"},
	}
	assert.True(t, edit.ReferencesBlock(block), "subblock edit references its owning block")
	assert.False(t, edit.ReferencesBlock(idwrap.NewNow()))

	del := Operation{
		Verb:       VerbDelete,
		Target:     TargetBlock,
		Structural: &StructuralPayload{EntityID: block},
	}
	assert.True(t, del.ReferencesBlock(block))

	varEdit := Operation{
		Verb:     VerbUpdate,
		Target:   TargetVariable,
		Variable: &VariablePayload{VariableID: variable, Field: "value"},
	}
	assert.True(t, varEdit.ReferencesVariable(variable))
	assert.False(t, varEdit.ReferencesBlock(block), "variable edits do not reference blocks")

	edgeOp := Operation{
		Verb:       VerbCreate,
		Target:     TargetEdge,
		Structural: &StructuralPayload{EntityID: idwrap.NewNow()},
	}
	assert.False(t, edgeOp.ReferencesBlock(block))
	assert.False(t, edgeOp.ReferencesVariable(variable))
}
