package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		ok    bool
	}{
		{"150.00", true},
		{"150", true},
		{"0.01", true},
		{"", true}, // empty passes; pair with Required
		{"0", false},
		{"0.00", false},
		{"-10.00", false},
		{"1.234", false},
		{"abc", false},
	}

	for _, tt := range tests {
		errs := Validate(ValidAmount("amount", tt.value))
		if tt.ok {
			assert.Empty(t, errs, "value %q", tt.value)
		} else {
			assert.NotEmpty(t, errs, "value %q", tt.value)
		}
	}
}

func TestRequired(t *testing.T) {
	errs := Validate(Required("customer_id", "  "))
	assert.Len(t, errs, 1)
	assert.Equal(t, "customer_id", errs[0].Field)

	errs = Validate(Required("customer_id", "cus_abc"))
	assert.Empty(t, errs)
}

func TestValidRate(t *testing.T) {
	assert.Empty(t, Validate(ValidRate("fee_rate", 0.02)))
	assert.Empty(t, Validate(ValidRate("fee_rate", 0)))
	assert.NotEmpty(t, Validate(ValidRate("fee_rate", 1.0)))
	assert.NotEmpty(t, Validate(ValidRate("fee_rate", -0.1)))
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("txn_0123456789abcdef01234567"))
	assert.True(t, IsValidID("cust_e2e"))
	assert.True(t, IsValidID("ABC-123"))
	assert.False(t, IsValidID("ab"))
	assert.False(t, IsValidID("bad id"))
	assert.False(t, IsValidID("_leading"))
}

func TestValidationErrors_Error(t *testing.T) {
	errs := ValidationErrors{{Field: "amount", Message: "is required"}}
	assert.Equal(t, "amount: is required", errs.Error())
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}
