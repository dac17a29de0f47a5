package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTable(t *testing.T) {
	out := Table(
		[]string{"OPERATION", "STATE"},
		[][]string{
			{"payment.charge", "OPEN"},
			{"inventory.sync", "CLOSED"},
		},
	)
	assert.Contains(t, out, "OPERATION")
	assert.Contains(t, out, "payment.charge")
	assert.Contains(t, out, "CLOSED")
}
