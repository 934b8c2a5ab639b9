package build_test

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam/build"
	"github.com/loamdata/loam/spec"
)

func dt(name string) spec.Dtype { return spec.Dtype{Name: name} }

func TestInferDtype_GoValues(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{int8(1), spec.DtypeInt8},
		{int16(1), spec.DtypeInt16},
		{int32(1), spec.DtypeInt32},
		{int64(1), spec.DtypeInt64},
		{1, spec.DtypeInt64},
		{uint16(1), spec.DtypeUint16},
		{float32(1), spec.DtypeFloat32},
		{1.5, spec.DtypeFloat64},
		{true, spec.DtypeBool},
		{"hello", spec.DtypeUTF},
		{[]byte("raw"), spec.DtypeASCII},
		{[]int32{1, 2, 3}, spec.DtypeInt32},
		{[][]float64{{1}, {2}}, spec.DtypeFloat64},
	}
	for _, tc := range cases {
		got, err := build.InferDtype(tc.in)
		if err != nil {
			t.Fatalf("InferDtype(%v): %v", tc.in, err)
		}
		if got.Name != tc.want {
			t.Fatalf("InferDtype(%v) = %q, want %q", tc.in, got.Name, tc.want)
		}
	}
}

func TestInferDtype_EmptyUntypedCollection(t *testing.T) {
	if _, err := build.InferDtype([]any{}); err == nil {
		t.Fatalf("expected error for empty untyped collection")
	}
	// A statically typed empty slice still knows its element type.
	got, err := build.InferDtype([]int32{})
	if err != nil {
		t.Fatalf("InferDtype([]int32{}): %v", err)
	}
	if got.Name != spec.DtypeInt32 {
		t.Fatalf("expected int32, got %q", got.Name)
	}
}

func TestConvertDtype_WiderValueWins(t *testing.T) {
	v, final, err := build.ConvertDtype(dt(spec.DtypeInt32), int64(7), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeInt64 {
		t.Fatalf("expected int64, got %q", final.Name)
	}
	if _, ok := v.(int64); !ok {
		t.Fatalf("expected int64 value, got %T", v)
	}
}

func TestConvertDtype_WiderSpecWins(t *testing.T) {
	v, final, err := build.ConvertDtype(dt(spec.DtypeInt64), int8(7), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeInt64 {
		t.Fatalf("expected int64, got %q", final.Name)
	}
	if got, ok := v.(int64); !ok || got != 7 {
		t.Fatalf("expected int64(7), got %T %v", v, v)
	}
}

func TestConvertDtype_UnsignedSpecSignedValue(t *testing.T) {
	_, final, err := build.ConvertDtype(dt(spec.DtypeUint32), int16(7), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeUint16 {
		t.Fatalf("expected uint16 (unsigned of the received width), got %q", final.Name)
	}
}

func TestConvertDtype_FloatSpecLiftsInts(t *testing.T) {
	_, final, err := build.ConvertDtype(dt(spec.DtypeFloat32), uint64(7), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeFloat64 {
		t.Fatalf("expected float64, got %q", final.Name)
	}
	_, final, err = build.ConvertDtype(dt(spec.DtypeFloat32), int16(7), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeFloat32 {
		t.Fatalf("expected float32 floor, got %q", final.Name)
	}
}

func TestConvertDtype_FloatValueNeverTruncates(t *testing.T) {
	_, final, err := build.ConvertDtype(dt(spec.DtypeInt32), float64(1.5), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeFloat64 {
		t.Fatalf("expected float64, got %q", final.Name)
	}
}

func TestConvertDtype_Idempotent(t *testing.T) {
	v1, final1, err := build.ConvertDtype(dt(spec.DtypeInt32), int64(7), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("first conversion: %v", err)
	}
	v2, final2, err := build.ConvertDtype(final1, v1, zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("second conversion: %v", err)
	}
	if final2.Name != final1.Name || v2 != v1 {
		t.Fatalf("conversion is not idempotent: %v/%v vs %v/%v", v1, final1, v2, final2)
	}
}

func TestConvertDtype_StringKindsNeverCrossConvert(t *testing.T) {
	if _, _, err := build.ConvertDtype(dt(spec.DtypeUTF), []byte("raw"), zerolog.Nop(), "x"); err == nil {
		t.Fatalf("expected error converting ascii to utf")
	}
	if _, _, err := build.ConvertDtype(dt(spec.DtypeASCII), "hello", zerolog.Nop(), "x"); err == nil {
		t.Fatalf("expected error converting utf to ascii")
	}
}

func TestConvertDtype_NumericPassthrough(t *testing.T) {
	v, final, err := build.ConvertDtype(dt(spec.DtypeNumeric), int16(3), zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeInt16 {
		t.Fatalf("numeric must keep the received type, got %q", final.Name)
	}
	if _, ok := v.(int16); !ok {
		t.Fatalf("expected int16 value, got %T", v)
	}
	_, _, err = build.ConvertDtype(dt(spec.DtypeNumeric), "hello", zerolog.Nop(), "x")
	if err == nil || !strings.Contains(err.Error(), "numeric") {
		t.Fatalf("expected numeric type error, got %v", err)
	}
}

func TestConvertDtype_ConvertsSlices(t *testing.T) {
	v, final, err := build.ConvertDtype(dt(spec.DtypeInt64), []int32{1, 2, 3}, zerolog.Nop(), "x")
	if err != nil {
		t.Fatalf("ConvertDtype: %v", err)
	}
	if final.Name != spec.DtypeInt64 {
		t.Fatalf("expected int64, got %q", final.Name)
	}
	got, ok := v.([]int64)
	if !ok || len(got) != 3 || got[2] != 3 {
		t.Fatalf("expected []int64{1,2,3}, got %T %v", v, v)
	}
}

func TestValueShape(t *testing.T) {
	if s := build.ValueShape(int64(1)); s != nil {
		t.Fatalf("scalar must have nil shape, got %v", s)
	}
	if s := build.ValueShape("hello"); s != nil {
		t.Fatalf("strings are scalars, got %v", s)
	}
	s := build.ValueShape([][]int32{{1, 2, 3}, {4, 5, 6}})
	if len(s) != 2 || s[0] != 2 || s[1] != 3 {
		t.Fatalf("unexpected shape %v", s)
	}
}
