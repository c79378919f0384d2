package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := Errorf(CodeAmountMismatch, "tendered %d, payable %d", 21999, 22000)

	assert.True(t, errors.Is(err, ErrAmountMismatch))
	assert.False(t, errors.Is(err, ErrMissingDebtInfo))
	assert.Equal(t, "AMOUNT_MISMATCH: tendered 21999, payable 22000", err.Error())
}

func TestError_IsThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("settle: %w", Errorf(CodeNoOpenShift, "till t-1"))

	assert.True(t, errors.Is(wrapped, ErrNoOpenShift))
	assert.Equal(t, CodeNoOpenShift, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestCode_Kind(t *testing.T) {
	tests := []struct {
		code Code
		want Kind
	}{
		{CodeInvalidQuantity, KindValidation},
		{CodeOverReturn, KindValidation},
		{CodeAmountMismatch, KindValidation},
		{CodeMissingDebtInfo, KindValidation},
		{CodeTableNotFound, KindState},
		{CodeNoOpenShift, KindState},
		{CodeShiftAlreadyOpen, KindState},
		{CodeConflict, KindConflict},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.Kind())
		})
	}
}

func TestError_WithDetail(t *testing.T) {
	err := Errorf(CodeOverReturn, "too much").WithDetail("remaining", "1")
	require.NotNil(t, err.Details)
	assert.Equal(t, "1", err.Details["remaining"])
	assert.Equal(t, KindValidation, err.Kind())
}

func TestFixedGenerator_Sequence(t *testing.T) {
	gen := NewFixedGenerator("id")
	assert.Equal(t, "id-1", gen.NewID())
	assert.Equal(t, "id-2", gen.NewID())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.NewID()
		require.Len(t, id, 36)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestNormalizeName_NFC(t *testing.T) {
	decomposed := "O\u0308sh"
	assert.Equal(t, "\u00d6sh", NormalizeName(decomposed))
}
