package retail

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldsOf(t *testing.T, err error) map[string]string {
	t.Helper()
	if err == nil {
		return nil
	}
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "got %v", err)
	return ve.Fields
}

func TestCustomerInput_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   CustomerInput
		want map[string]string
	}{
		{"valid", CustomerInput{Name: "Acme", Address: "1 Main St"}, nil},
		{"empty", CustomerInput{}, map[string]string{FieldName: ReasonRequired, FieldAddress: ReasonRequired}},
		{"whitespace only", CustomerInput{Name: " \t\n", Address: "x"}, map[string]string{FieldName: ReasonRequired}},
		{"name at limit", CustomerInput{Name: strings.Repeat("a", 100), Address: "x"}, nil},
		{"name over limit", CustomerInput{Name: strings.Repeat("a", 101), Address: "x"},
			map[string]string{FieldName: "must be at most 100 characters"}},
		{"address over limit", CustomerInput{Name: "a", Address: strings.Repeat("b", 201)},
			map[string]string{FieldAddress: "must be at most 200 characters"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldsOf(t, tt.in.Validate()))
		})
	}
}

func TestTextLength_CountsComposedCharacters(t *testing.T) {
	// "é" as e + combining acute is one character after composition
	decomposed := strings.Repeat("e\u0301", 100)
	assert.Equal(t, 200, len([]rune(decomposed)))
	assert.Equal(t, 100, textLength(decomposed))
	assert.NoError(t, CustomerInput{Name: decomposed, Address: "x"}.Validate())

	// multi-byte runes count once each
	assert.Equal(t, 3, textLength("日本語"))
}

func TestProductInput_Validate(t *testing.T) {
	assert.NoError(t, ProductInput{Name: "Widget", Price: decimal.RequireFromString("0.01")}.Validate())

	fields := fieldsOf(t, ProductInput{Name: "Widget", Price: decimal.Zero}.Validate())
	assert.Equal(t, map[string]string{FieldPrice: ReasonPositive}, fields)

	fields = fieldsOf(t, ProductInput{Name: "Widget", Price: decimal.NewFromInt(-5)}.Validate())
	assert.Equal(t, ReasonPositive, fields[FieldPrice])

	fields = fieldsOf(t, ProductInput{Name: strings.Repeat("x", 101), Price: decimal.NewFromInt(1)}.Validate())
	assert.Contains(t, fields, FieldName)
}

func TestStoreInput_Validate_NoUpperBound(t *testing.T) {
	long := strings.Repeat("s", 5000)
	assert.NoError(t, StoreInput{Name: long, Address: long}.Validate())
	assert.Equal(t, map[string]string{FieldAddress: ReasonRequired},
		fieldsOf(t, StoreInput{Name: "Main", Address: "  "}.Validate()))
}

func TestSaleInput_Validate(t *testing.T) {
	ok := SaleInput{DateSold: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), CustomerID: 1, ProductID: 1, StoreID: 1}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.CustomerID = -1
	bad.StoreID = 0
	assert.Equal(t, map[string]string{
		FieldCustomerID: ReasonPositiveID,
		FieldStoreID:    ReasonRequired,
	}, fieldsOf(t, bad.Validate()))
}

func TestValidationError_Message(t *testing.T) {
	err := CustomerInput{}.Validate()
	assert.EqualError(t, err, "invalid customer: address: required; name: required")
	assert.True(t, errors.Is(err, ErrValidation))
	assert.True(t, IsClientError(err))
}

func TestSaleInput_RecordNormalizesToUTC(t *testing.T) {
	local := time.Date(2024, 6, 1, 23, 0, 0, 0, time.FixedZone("BRT", -3*3600))
	rec := SaleInput{DateSold: local, CustomerID: 1, ProductID: 2, StoreID: 3}.Record()

	assert.Equal(t, time.UTC, rec.DateSold.Location())
	assert.True(t, local.Equal(rec.DateSold))
	assert.Equal(t, ID(0), rec.ID)
}
