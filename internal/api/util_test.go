package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMustMarshalEncodesValue(t *testing.T) {
	body := mustMarshal(map[string]int{"a": 1})
	assert.JSONEq(t, `{"a":1}`, string(body))
}

func TestItoa(t *testing.T) {
	assert.Equal(t, "0", itoa(0))
	assert.Equal(t, "42", itoa(42))
	assert.Equal(t, "-7", itoa(-7))
}
