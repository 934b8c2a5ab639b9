package build

import (
	"fmt"
	"reflect"
	"time"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/spec"
)

// numeric kind tags for the conversion algebra.
const (
	kindInt    = 'i'
	kindUint   = 'u'
	kindFloat  = 'f'
	kindOther  = 'o'
	kindString = 's'
)

func dtypeKind(name string) (byte, int) {
	switch name {
	case spec.DtypeInt8:
		return kindInt, 8
	case spec.DtypeInt16:
		return kindInt, 16
	case spec.DtypeInt32:
		return kindInt, 32
	case spec.DtypeInt64:
		return kindInt, 64
	case spec.DtypeUint8:
		return kindUint, 8
	case spec.DtypeUint16:
		return kindUint, 16
	case spec.DtypeUint32:
		return kindUint, 32
	case spec.DtypeUint64:
		return kindUint, 64
	case spec.DtypeFloat32:
		return kindFloat, 32
	case spec.DtypeFloat64:
		return kindFloat, 64
	case spec.DtypeUTF, spec.DtypeASCII, spec.DtypeISODatetime:
		return kindString, 0
	default:
		return kindOther, 0
	}
}

func numericName(kind byte, width int) string {
	switch kind {
	case kindInt:
		return fmt.Sprintf("int%d", width)
	case kindUint:
		return fmt.Sprintf("uint%d", width)
	case kindFloat:
		return fmt.Sprintf("float%d", width)
	default:
		return ""
	}
}

// InferDtype determines the canonical dtype of a Go value, descending into
// slices. It fails on empty or nil values whose element type cannot be
// known.
func InferDtype(v any) (spec.Dtype, error) {
	switch t := v.(type) {
	case int8:
		return spec.Dtype{Name: spec.DtypeInt8}, nil
	case int16:
		return spec.Dtype{Name: spec.DtypeInt16}, nil
	case int32:
		return spec.Dtype{Name: spec.DtypeInt32}, nil
	case int64, int:
		return spec.Dtype{Name: spec.DtypeInt64}, nil
	case uint8:
		return spec.Dtype{Name: spec.DtypeUint8}, nil
	case uint16:
		return spec.Dtype{Name: spec.DtypeUint16}, nil
	case uint32:
		return spec.Dtype{Name: spec.DtypeUint32}, nil
	case uint64, uint:
		return spec.Dtype{Name: spec.DtypeUint64}, nil
	case float32:
		return spec.Dtype{Name: spec.DtypeFloat32}, nil
	case float64:
		return spec.Dtype{Name: spec.DtypeFloat64}, nil
	case bool:
		return spec.Dtype{Name: spec.DtypeBool}, nil
	case string:
		return spec.Dtype{Name: spec.DtypeUTF}, nil
	case []byte:
		return spec.Dtype{Name: spec.DtypeASCII}, nil
	case time.Time:
		return spec.Dtype{Name: spec.DtypeISODatetime}, nil
	case *ReferenceBuilder:
		return spec.Dtype{Ref: &spec.RefDtype{RefType: spec.RefTypeObject}}, nil
	case *RegionBuilder:
		return spec.Dtype{Ref: &spec.RefDtype{RefType: spec.RefTypeRegion}}, nil
	case loam.AbstractContainer:
		return spec.Dtype{Ref: &spec.RefDtype{RefType: spec.RefTypeObject}}, nil
	case nil:
		return spec.Dtype{}, fmt.Errorf("build: cannot infer dtype of nil value")
	default:
		rv := reflect.ValueOf(t)
		if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			if rv.Len() == 0 {
				elem, ok := staticElemDtype(rv.Type().Elem())
				if !ok {
					return spec.Dtype{}, fmt.Errorf("build: cannot infer dtype of empty untyped collection")
				}
				return elem, nil
			}
			return InferDtype(rv.Index(0).Interface())
		}
		return spec.Dtype{}, fmt.Errorf("build: cannot infer dtype of %T", v)
	}
}

func staticElemDtype(t reflect.Type) (spec.Dtype, bool) {
	switch t.Kind() {
	case reflect.Int8:
		return spec.Dtype{Name: spec.DtypeInt8}, true
	case reflect.Int16:
		return spec.Dtype{Name: spec.DtypeInt16}, true
	case reflect.Int32:
		return spec.Dtype{Name: spec.DtypeInt32}, true
	case reflect.Int64, reflect.Int:
		return spec.Dtype{Name: spec.DtypeInt64}, true
	case reflect.Uint8:
		return spec.Dtype{Name: spec.DtypeUint8}, true
	case reflect.Uint16:
		return spec.Dtype{Name: spec.DtypeUint16}, true
	case reflect.Uint32:
		return spec.Dtype{Name: spec.DtypeUint32}, true
	case reflect.Uint64, reflect.Uint:
		return spec.Dtype{Name: spec.DtypeUint64}, true
	case reflect.Float32:
		return spec.Dtype{Name: spec.DtypeFloat32}, true
	case reflect.Float64:
		return spec.Dtype{Name: spec.DtypeFloat64}, true
	case reflect.Bool:
		return spec.Dtype{Name: spec.DtypeBool}, true
	case reflect.String:
		return spec.Dtype{Name: spec.DtypeUTF}, true
	default:
		return spec.Dtype{}, false
	}
}

// ValueShape returns the extents of a value, nil for scalars. Ragged inner
// dimensions stop the descent.
func ValueShape(v any) []int {
	if _, ok := v.([]byte); ok {
		return nil
	}
	if _, ok := v.(string); ok {
		return nil
	}
	rv := reflect.ValueOf(v)
	var shape []int
	for rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		shape = append(shape, rv.Len())
		if rv.Len() == 0 {
			break
		}
		next := rv.Index(0)
		for next.Kind() == reflect.Interface {
			next = next.Elem()
		}
		rv = next
	}
	return shape
}

// ConvertDtype reconciles a declared dtype with a received value. It
// returns the possibly converted value and the dtype the builder should
// carry. When the result differs from the declared dtype a warning is
// logged.
//
// Resolution rules:
//   - no declared dtype, or "numeric": the value keeps its own type
//   - int vs int, uint vs uint: the wider width wins
//   - uint declared, signed received: unsigned of the received width
//   - float declared: float of max(received width, declared width, 32)
//   - utf and ascii never convert into each other
func ConvertDtype(declared spec.Dtype, v any, log zerolog.Logger, path string) (any, spec.Dtype, error) {
	if declared.IsRef() || declared.IsCompound() {
		return v, declared, nil
	}
	received, err := InferDtype(v)
	if err != nil {
		if !declared.IsZero() && declared.Name != spec.DtypeNumeric && v == nil {
			return nil, declared, nil
		}
		return nil, spec.Dtype{}, err
	}
	if declared.IsZero() || declared.Name == spec.DtypeNumeric {
		if declared.Name == spec.DtypeNumeric {
			if k, _ := dtypeKind(received.Name); k != kindInt && k != kindUint && k != kindFloat {
				return nil, spec.Dtype{}, fmt.Errorf("build: %s: expected numeric value, got %s", path, received)
			}
		}
		return v, received, nil
	}

	want := declared.Name
	wk, ww := dtypeKind(want)
	rk, rw := dtypeKind(received.Name)

	switch {
	case want == received.Name:
		return v, received, nil
	case want == spec.DtypeBool || received.Name == spec.DtypeBool:
		return nil, spec.Dtype{}, fmt.Errorf("build: %s: cannot convert %s to %s", path, received, declared)
	case wk == kindString || rk == kindString:
		// utf, ascii, and isodatetime are distinct and never cross-convert.
		return nil, spec.Dtype{}, fmt.Errorf("build: %s: cannot convert %s to %s", path, received, declared)
	case wk == kindFloat:
		width := max(max(rw, ww), 32)
		return finishConvert(v, kindFloat, width, want, log, path)
	case wk == kindUint && rk == kindInt:
		return finishConvert(v, kindUint, rw, want, log, path)
	case wk == rk && (wk == kindInt || wk == kindUint):
		return finishConvert(v, wk, max(rw, ww), want, log, path)
	case wk == kindInt && rk == kindUint:
		// A wider signed type absorbs the unsigned value when possible.
		if rw < 64 {
			return finishConvert(v, kindInt, max(rw*2, ww), want, log, path)
		}
		return nil, spec.Dtype{}, fmt.Errorf("build: %s: cannot convert %s to %s", path, received, declared)
	case rk == kindFloat && (wk == kindInt || wk == kindUint):
		// Never truncate: the received float wins.
		return finishConvert(v, kindFloat, max(rw, 32), numericName(kindFloat, max(rw, 32)), log, path)
	default:
		return nil, spec.Dtype{}, fmt.Errorf("build: %s: cannot convert %s to %s", path, received, declared)
	}
}

func finishConvert(v any, kind byte, width int, want string, log zerolog.Logger, path string) (any, spec.Dtype, error) {
	final := numericName(kind, width)
	out, err := convertNumeric(v, final)
	if err != nil {
		return nil, spec.Dtype{}, fmt.Errorf("build: %s: %w", path, err)
	}
	if final != want {
		log.Warn().Str("path", path).Str("spec_dtype", want).Str("final_dtype", final).
			Msg("value dtype does not match declared dtype, keeping the wider type")
	}
	return out, spec.Dtype{Name: final}, nil
}

var goTypes = map[string]reflect.Type{
	spec.DtypeInt8:    reflect.TypeOf(int8(0)),
	spec.DtypeInt16:   reflect.TypeOf(int16(0)),
	spec.DtypeInt32:   reflect.TypeOf(int32(0)),
	spec.DtypeInt64:   reflect.TypeOf(int64(0)),
	spec.DtypeUint8:   reflect.TypeOf(uint8(0)),
	spec.DtypeUint16:  reflect.TypeOf(uint16(0)),
	spec.DtypeUint32:  reflect.TypeOf(uint32(0)),
	spec.DtypeUint64:  reflect.TypeOf(uint64(0)),
	spec.DtypeFloat32: reflect.TypeOf(float32(0)),
	spec.DtypeFloat64: reflect.TypeOf(float64(0)),
}

// convertNumeric converts a scalar or (nested) slice to the target numeric
// type. Values already of the target type pass through unchanged.
func convertNumeric(v any, target string) (any, error) {
	tt, ok := goTypes[target]
	if !ok {
		return nil, fmt.Errorf("no Go type for dtype %q", target)
	}
	rv := reflect.ValueOf(v)
	out, err := convertReflect(rv, tt)
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

func convertReflect(rv reflect.Value, tt reflect.Type) (reflect.Value, error) {
	for rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		n := rv.Len()
		var elemType reflect.Type
		elems := make([]reflect.Value, n)
		for i := 0; i < n; i++ {
			ev, err := convertReflect(rv.Index(i), tt)
			if err != nil {
				return reflect.Value{}, err
			}
			elems[i] = ev
			if elemType == nil {
				elemType = ev.Type()
			}
		}
		if elemType == nil {
			elemType = tt
		}
		out := reflect.MakeSlice(reflect.SliceOf(elemType), n, n)
		for i, ev := range elems {
			out.Index(i).Set(ev)
		}
		return out, nil
	default:
		if !rv.Type().ConvertibleTo(tt) {
			return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", rv.Type(), tt)
		}
		return rv.Convert(tt), nil
	}
}
