package flashloan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteFees(t *testing.T) {
	tests := []struct {
		provider string
		custom   float64
		wantFee  float64
	}{
		{Solend, 0, 0.3},
		{FlashProtocol, 0, 0.2},
		{FlashLoanMastery, 0, 0.25},
		{Custom, 0.05, 0.05},
		{Cheapest, 0, 0.2},
		{Cheapest, 0.1, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			b, err := NewBook(tt.provider, tt.custom, 10_000)
			require.NoError(t, err)

			q, err := b.Quote(100)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantFee, q.Fee, 1e-9)
			assert.InDelta(t, 100+tt.wantFee, q.Repayment(), 1e-9)
		})
	}
}

func TestQuoteRejectsOversizedLoan(t *testing.T) {
	b, err := NewBook(Solend, 0, 50)
	require.NoError(t, err)

	_, err = b.Quote(51)
	assert.ErrorIs(t, err, ErrLoanTooLarge)

	_, err = b.Quote(0)
	assert.Error(t, err)
}

func TestNewBookValidation(t *testing.T) {
	_, err := NewBook("aave", 0, 100)
	assert.Error(t, err)

	_, err = NewBook(Custom, 0, 100)
	assert.Error(t, err)

	_, err = NewBook(Solend, 0, 0)
	assert.Error(t, err)
}
