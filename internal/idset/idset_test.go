package idset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnique(t *testing.T) {
	assert.Equal(t, []string{"740000001", "740000002"},
		Unique([]string{"740000001", "740000002", "740000001", ""}))
	assert.Empty(t, Unique(nil))
}

func TestSplitUnique(t *testing.T) {
	tests := []struct {
		name string
		list string
		sep  string
		want []string
	}{
		{"stops", "1,2,1,3,2", StopSep, []string{"1", "2", "3"}},
		{"trips", "1-2|3-4|1-2", TripSep, []string{"1-2", "3-4"}},
		{"empty fragments", ",1,,2,", StopSep, []string{"1", "2"}},
		{"empty", "", StopSep, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := SplitUnique(tc.list, tc.sep)
			if tc.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAppendRemove(t *testing.T) {
	l := Append("", StopSep, "1")
	l = Append(l, StopSep, "2")
	l = Append(l, StopSep, "1")
	assert.Equal(t, "1,2,1", l)
	assert.True(t, Contains(l, StopSep, "2"))

	l = Remove(l, StopSep, "1")
	assert.Equal(t, "2,1", l)
	assert.True(t, Contains(l, StopSep, "1"))

	l = Remove(l, StopSep, "1")
	l = Remove(l, StopSep, "2")
	assert.Equal(t, "", l)
	assert.False(t, Contains(l, StopSep, "2"))
	assert.Equal(t, "", Remove("", StopSep, "x"))
}
