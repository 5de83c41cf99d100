package capability

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/spf13/cast"
)

// Str renders v as a string.
func (s *Scope) Str(v interface{}) string {
	if str, err := cast.ToStringE(v); err == nil {
		return str
	}
	return fmt.Sprint(v)
}

// ToInt converts v to an int; unconvertible values are a capability error.
func (s *Scope) ToInt(v interface{}) int {
	n, err := cast.ToIntE(v)
	if err != nil {
		raisef("to_int", "cannot convert %T to int: %v", v, err)
	}
	return n
}

// ToFloat converts v to a float64; unconvertible values are a capability error.
func (s *Scope) ToFloat(v interface{}) float64 {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		raisef("to_float", "cannot convert %T to float: %v", v, err)
	}
	return f
}

// Sorted returns an ascending copy of a list of numbers or strings.
func (s *Scope) Sorted(list interface{}) interface{} {
	rv := reflect.ValueOf(list)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		raisef("sorted", "expected a list, got %T", list)
	}
	less := lessFunc("sorted", rv)
	idx := make([]int, rv.Len())
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return less(idx[a], idx[b]) })

	out := reflect.MakeSlice(reflect.SliceOf(rv.Type().Elem()), 0, rv.Len())
	for _, i := range idx {
		out = reflect.Append(out, rv.Index(i))
	}
	return out.Interface()
}

// Minimum returns the smallest of values. A single list argument is expanded.
func (s *Scope) Minimum(values ...interface{}) interface{} {
	items := expand("minimum", values)
	less := lessFunc("minimum", items)
	best := 0
	for i := 1; i < items.Len(); i++ {
		if less(i, best) {
			best = i
		}
	}
	return items.Index(best).Interface()
}

// Maximum returns the largest of values. A single list argument is expanded.
func (s *Scope) Maximum(values ...interface{}) interface{} {
	items := expand("maximum", values)
	less := lessFunc("maximum", items)
	best := 0
	for i := 1; i < items.Len(); i++ {
		if less(best, i) {
			best = i
		}
	}
	return items.Index(best).Interface()
}

// Sum adds numeric values. The total is an int when every value is integral.
func (s *Scope) Sum(values ...interface{}) interface{} {
	var items reflect.Value
	if len(values) == 1 && isList(values[0]) {
		items = reflect.ValueOf(values[0])
	} else {
		items = reflect.ValueOf(values)
	}

	integral := true
	var fsum float64
	var isum int64
	for i := 0; i < items.Len(); i++ {
		v := items.Index(i).Interface()
		switch reflect.ValueOf(v).Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n := cast.ToInt64(v)
			isum += n
			fsum += float64(n)
		default:
			f, err := cast.ToFloat64E(v)
			if err != nil {
				raisef("sum", "cannot add %T: %v", v, err)
			}
			integral = false
			fsum += f
		}
	}
	if integral {
		return int(isum)
	}
	return fsum
}

func isList(v interface{}) bool {
	if v == nil {
		return false
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func expand(op string, values []interface{}) reflect.Value {
	var items reflect.Value
	if len(values) == 1 && isList(values[0]) {
		items = reflect.ValueOf(values[0])
	} else {
		items = reflect.ValueOf(values)
	}
	if items.Len() == 0 {
		raisef(op, "empty sequence")
	}
	return items
}

// lessFunc orders the elements of a list value: numerically when every
// element converts to a number, otherwise by string form.
func lessFunc(op string, items reflect.Value) func(i, j int) bool {
	n := items.Len()
	nums := make([]float64, n)
	numeric := true
	for i := 0; i < n; i++ {
		v := items.Index(i).Interface()
		if _, isStr := v.(string); isStr {
			numeric = false
			break
		}
		f, err := cast.ToFloat64E(v)
		if err != nil {
			numeric = false
			break
		}
		nums[i] = f
	}
	if numeric {
		return func(i, j int) bool { return nums[i] < nums[j] }
	}

	strs := make([]string, n)
	for i := 0; i < n; i++ {
		v := items.Index(i).Interface()
		str, ok := v.(string)
		if !ok {
			raisef(op, "cannot order mixed values (%T)", v)
		}
		strs[i] = str
	}
	return func(i, j int) bool { return strs[i] < strs[j] }
}
