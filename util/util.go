package util

import (
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func Keys[K comparable, V any](m map[K]V) []K {
	ret := make([]K, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	return ret
}

// KeysSorted returns keys of the map in ascending order
func KeysSorted[K interface{ ~string | ~int | ~uint64 }, V any](m map[K]V) []K {
	ret := Keys(m)
	slices.Sort(ret)
	return ret
}

func Values[K comparable, V any](m map[K]V) []V {
	ret := make([]V, 0, len(m))
	for _, v := range m {
		ret = append(ret, v)
	}
	return ret
}

// FilterSlice filters in place, the underlying array of slice is reused
func FilterSlice[T any](slice []T, filter func(el T) bool) []T {
	ret := slice[:0]
	for _, el := range slice {
		if filter(el) {
			ret = append(ret, el)
		}
	}
	return ret
}

func Cond[T any](cond bool, trueVal, falseVal T) T {
	if cond {
		return trueVal
	}
	return falseVal
}

type Integer interface {
	~int | ~uint16 | ~uint32 | ~uint64 | ~int16 | ~int32 | ~int64
}

var prn = message.NewPrinter(language.English)

// GoTh formats integer with '_' as thousands separator
func GoTh[T Integer](v T) string {
	return strings.Replace(prn.Sprintf("%d", v), ",", "_", -1)
}
