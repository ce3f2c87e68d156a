package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGoTh(t *testing.T) {
	require.EqualValues(t, "1_000_000", GoTh(1_000_000))
	require.EqualValues(t, "314", GoTh(uint64(314)))
}

func TestKeysSorted(t *testing.T) {
	m := map[string]int{"c": 3, "a": 1, "b": 2}
	require.EqualValues(t, []string{"a", "b", "c"}, KeysSorted(m))
}

func TestFilterSlice(t *testing.T) {
	ret := FilterSlice([]int{1, 2, 3, 4, 5}, func(el int) bool { return el%2 == 1 })
	require.EqualValues(t, []int{1, 3, 5}, ret)
}
