package faqtune

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloat32Helpers(t *testing.T) {
	assert.InDelta(t, 7.389056, Exp(2), delta)
	assert.InDelta(t, 0.0, Log(1), delta)
	assert.InDelta(t, 8.0, Pow(2, 3), delta)
	assert.InDelta(t, 3.0, Sqrt(9), delta)
	assert.InDelta(t, 0.7615942, Tanh(1), delta)
}
