package spec

import (
	"fmt"
	"sort"
)

// Reserved builder attribute names. The object-mapping engine stamps these
// onto every typed builder; user schemas may not declare attributes with
// these names.
const (
	TypeKey      = "data_type"
	NamespaceKey = "namespace"
	IDKey        = "object_id"
)

// Schema keys for declaring and including data types.
const (
	DefKey = "data_type_def"
	IncKey = "data_type_inc"
)

// Reference kinds for RefDtype.
const (
	RefTypeObject = "object"
	RefTypeRegion = "region"
)

// Canonical primitive dtype names.
const (
	DtypeFloat32     = "float32"
	DtypeFloat64     = "float64"
	DtypeInt8        = "int8"
	DtypeInt16       = "int16"
	DtypeInt32       = "int32"
	DtypeInt64       = "int64"
	DtypeUint8       = "uint8"
	DtypeUint16      = "uint16"
	DtypeUint32      = "uint32"
	DtypeUint64      = "uint64"
	DtypeBool        = "bool"
	DtypeUTF         = "utf"
	DtypeASCII       = "ascii"
	DtypeISODatetime = "isodatetime"
	DtypeNumeric     = "numeric"
	DtypeObject      = "object"
	DtypeRegion      = "region"
)

// synonyms maps every accepted dtype spelling to its canonical name. Keep
// this table consistent with the conversion map in build and the allowance
// table in validate.
var synonyms = map[string]string{
	"float":       DtypeFloat32,
	"float32":     DtypeFloat32,
	"double":      DtypeFloat64,
	"float64":     DtypeFloat64,
	"short":       DtypeInt16,
	"int16":       DtypeInt16,
	"int":         DtypeInt32,
	"int32":       DtypeInt32,
	"long":        DtypeInt64,
	"int64":       DtypeInt64,
	"int8":        DtypeInt8,
	"uint":        DtypeUint32,
	"uint8":       DtypeUint8,
	"uint16":      DtypeUint16,
	"uint32":      DtypeUint32,
	"uint64":      DtypeUint64,
	"bool":        DtypeBool,
	"text":        DtypeUTF,
	"utf":         DtypeUTF,
	"utf8":        DtypeUTF,
	"utf-8":       DtypeUTF,
	"ascii":       DtypeASCII,
	"bytes":       DtypeASCII,
	"isodatetime": DtypeISODatetime,
	"datetime":    DtypeISODatetime,
	"numeric":     DtypeNumeric,
	"object":      DtypeObject,
	"region":      DtypeRegion,
}

// NormalizeDtype resolves a dtype spelling to its canonical name.
func NormalizeDtype(name string) (string, error) {
	c, ok := synonyms[name]
	if !ok {
		return "", fmt.Errorf("spec: unrecognized dtype %q", name)
	}
	return c, nil
}

// ValidPrimaryDtypes returns the canonical primitive dtype names, sorted.
func ValidPrimaryDtypes() []string {
	seen := map[string]struct{}{}
	for _, c := range synonyms {
		seen[c] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// RefDtype declares a dataset or attribute whose values are references to
// instances of another declared type.
type RefDtype struct {
	TargetType string
	RefType    string // RefTypeObject or RefTypeRegion
}

// IsRegion reports whether the reference selects a region of its target.
func (r *RefDtype) IsRegion() bool { return r.RefType == RefTypeRegion }

// CompoundMember is one field of a compound dtype.
type CompoundMember struct {
	Name  string
	Doc   string
	Dtype Dtype
}

// Dtype is the declared value type of a dataset or attribute: a primitive
// name, a reference, or a compound list of members. The zero Dtype means
// "undeclared".
type Dtype struct {
	Name     string
	Ref      *RefDtype
	Compound []CompoundMember
}

// PrimitiveDtype returns the Dtype for a primitive spelling.
func PrimitiveDtype(name string) (Dtype, error) {
	c, err := NormalizeDtype(name)
	if err != nil {
		return Dtype{}, err
	}
	return Dtype{Name: c}, nil
}

// IsZero reports whether no dtype was declared.
func (d Dtype) IsZero() bool { return d.Name == "" && d.Ref == nil && len(d.Compound) == 0 }

// IsRef reports whether the dtype is a reference.
func (d Dtype) IsRef() bool { return d.Ref != nil }

// IsCompound reports whether the dtype is a compound list.
func (d Dtype) IsCompound() bool { return len(d.Compound) > 0 }

// HasRefMember reports whether any compound member is a reference.
func (d Dtype) HasRefMember() bool {
	for _, m := range d.Compound {
		if m.Dtype.IsRef() {
			return true
		}
	}
	return false
}

// String renders the dtype for error messages.
func (d Dtype) String() string {
	switch {
	case d.IsRef():
		return fmt.Sprintf("%s reference to %s", d.Ref.RefType, d.Ref.TargetType)
	case d.IsCompound():
		names := make([]string, len(d.Compound))
		for i, m := range d.Compound {
			names[i] = m.Dtype.String()
		}
		return fmt.Sprintf("compound%v", names)
	case d.Name == "":
		return "<undeclared>"
	default:
		return d.Name
	}
}

// Shape is one declared shape alternative. A -1 entry is a wildcard
// dimension.
type Shape []int

// ShapeWildcard marks a dimension whose extent is unconstrained.
const ShapeWildcard = -1

// MatchesShape reports whether the received extents satisfy the declared
// shape. A nil received shape (scalar) never satisfies a non-empty declared
// shape.
func (s Shape) MatchesShape(received []int) bool {
	if len(s) > 0 && received == nil {
		return false
	}
	if len(s) != len(received) {
		return false
	}
	for i, want := range s {
		if want != ShapeWildcard && want != received[i] {
			return false
		}
	}
	return true
}

// AnyShapeMatches reports whether any declared alternative matches. An empty
// alternatives list means unconstrained.
func AnyShapeMatches(alts []Shape, received []int) bool {
	if len(alts) == 0 {
		return true
	}
	for _, s := range alts {
		if s.MatchesShape(received) {
			return true
		}
	}
	return false
}
