// Package xslices provides generic slice helpers used throughout gograd: creation
// (SliceWithValue, Iota), transformation (Map, MapParallel), access (At, Last, Pop),
// numeric comparison (SlicesInDelta) and a comma-separated list flag (Flag).
package xslices

import (
	"flag"
	"fmt"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// SliceWithValue creates a slice of the given size filled with the given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for ii := range s {
		s[ii] = value
	}
	return s
}

// FillSlice sets every element of the slice to value, in place.
func FillSlice[T any](slice []T, value T) {
	for ii := range slice {
		slice[ii] = value
	}
}

// Iota returns a slice of the given size with sequential values starting at start.
func Iota[T interface {
	constraints.Integer | constraints.Float
}](start T, size int) []T {
	s := make([]T, size)
	v := start
	for ii := range s {
		s[ii] = v
		v += 1
	}
	return s
}

// Copy returns a newly allocated copy of the slice.
func Copy[T any](slice []T) []T {
	s := make([]T, len(slice))
	copy(s, slice)
	return s
}

// Map applies fn to each element of in and returns the resulting slice.
func Map[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	for ii, v := range in {
		out[ii] = fn(v)
	}
	return out
}

// MapParallel is like Map, but applies fn concurrently, one goroutine per CPU.
// fn must be safe for concurrent calls.
func MapParallel[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	numWorkers := runtime.NumCPU()
	if numWorkers > len(in) {
		numWorkers = len(in)
	}
	if numWorkers <= 1 {
		return Map(in, fn)
	}
	var wg sync.WaitGroup
	chunk := (len(in) + numWorkers - 1) / numWorkers
	for start := 0; start < len(in); start += chunk {
		end := start + chunk
		if end > len(in) {
			end = len(in)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			for ii := start; ii < end; ii++ {
				out[ii] = fn(in[ii])
			}
		}(start, end)
	}
	wg.Wait()
	return out
}

// At returns the element at the given index, where negative indices count from
// the end: At(s, -1) is the last element.
func At[T any](slice []T, idx int) T {
	if idx < 0 {
		idx = len(slice) + idx
	}
	return slice[idx]
}

// Last returns the last element of the slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// Pop removes the last element of the slice and returns it along with the
// shortened slice.
func Pop[T any](slice []T) (T, []T) {
	last := slice[len(slice)-1]
	return last, slice[:len(slice)-1]
}

// SortedKeys returns the keys of the map in sorted order.
func SortedKeys[K constraints.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// SlicesInDelta checks that s0 and s1 are slices of the same numeric type and
// length, and that every pair of elements differ by less than delta.
// s0 and s1 are given as `any` so it can be used on the opaque flat data of a
// tensor; it panics if they are not slices of a numeric type.
func SlicesInDelta(s0, s1 any, delta float64) bool {
	v0 := reflect.ValueOf(s0)
	v1 := reflect.ValueOf(s1)
	if v0.Kind() != reflect.Slice || v1.Kind() != reflect.Slice {
		exceptions.Panicf("SlicesInDelta requires slices, got %T and %T", s0, s1)
	}
	if v0.Type() != v1.Type() {
		exceptions.Panicf("SlicesInDelta requires slices of the same type, got %T and %T", s0, s1)
	}
	if v0.Len() != v1.Len() {
		return false
	}
	for ii := 0; ii < v0.Len(); ii++ {
		e0 := toFloat64(v0.Index(ii))
		e1 := toFloat64(v1.Index(ii))
		diff := e0 - e1
		if diff < 0 {
			diff = -diff
		}
		if diff >= delta {
			return false
		}
	}
	return true
}

func toFloat64(v reflect.Value) float64 {
	switch v.Kind() {
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint())
	case reflect.Bool:
		if v.Bool() {
			return 1
		}
		return 0
	default:
		exceptions.Panicf("SlicesInDelta: unsupported element type %s", v.Type())
	}
	return 0 // Unreachable.
}

// sliceFlag implements flag.Value for a comma-separated list of values.
type sliceFlag[T any] struct {
	values *[]T
	parser func(string) (T, error)
}

// Flag registers a flag that parses a comma-separated list of values with the
// given parser, and returns a pointer to the parsed slice. The default value
// is rendered with %v (or fmt.Stringer when implemented).
func Flag[T any](name string, defaultValue []T, usage string, parser func(string) (T, error)) *[]T {
	values := Copy(defaultValue)
	f := &sliceFlag[T]{values: &values, parser: parser}
	flag.Var(f, name, usage)
	return f.values
}

// String implements flag.Value.
func (f *sliceFlag[T]) String() string {
	if f.values == nil {
		return ""
	}
	parts := Map(*f.values, func(v T) string {
		if s, ok := any(v).(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", v)
	})
	return strings.Join(parts, ",")
}

// Set implements flag.Value.
func (f *sliceFlag[T]) Set(settings string) error {
	newValues := make([]T, 0, len(*f.values))
	for _, part := range strings.Split(settings, ",") {
		v, err := f.parser(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		newValues = append(newValues, v)
	}
	*f.values = newValues
	return nil
}
