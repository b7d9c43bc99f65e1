package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeFold(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil", input: nil, expected: nil},
		{name: "only blanks", input: []string{"", "  "}, expected: nil},
		{name: "trims", input: []string{"  lead ", "vip"}, expected: []string{"lead", "vip"}},
		{name: "first spelling wins", input: []string{"VIP", "vip", "Vip"}, expected: []string{"VIP"}},
		{name: "order preserved", input: []string{"b", "a", "B", "c", "A"}, expected: []string{"b", "a", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeFold(tt.input))
		})
	}
}

func TestContainsFold(t *testing.T) {
	tags := []string{"VIP", "lead"}
	assert.True(t, ContainsFold(tags, "vip"))
	assert.True(t, ContainsFold(tags, "LEAD"))
	assert.False(t, ContainsFold(tags, "partner"))
	assert.False(t, ContainsFold(nil, "vip"))
}
