package validate

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam/build"
	"github.com/loamdata/loam/spec"
)

// ValidatorMap validates builder trees against one namespace. Satisfying
// type sets (a type plus everything that inherits from it) are precomputed
// at construction.
type ValidatorMap struct {
	ns         *spec.SpecNamespace
	satisfiers map[string]map[string]bool
	log        zerolog.Logger
}

// NewValidatorMap creates a validator map over a loaded namespace.
func NewValidatorMap(ns *spec.SpecNamespace, log zerolog.Logger) *ValidatorMap {
	vm := &ValidatorMap{
		ns:         ns,
		satisfiers: map[string]map[string]bool{},
		log:        log,
	}
	cat := ns.Catalog()
	for _, dt := range cat.GetRegisteredTypes() {
		set := map[string]bool{dt: true}
		for _, sub := range cat.GetSubtypes(dt, true) {
			set[sub] = true
		}
		vm.satisfiers[dt] = set
	}
	return vm
}

// Namespace returns the namespace this map validates against.
func (vm *ValidatorMap) Namespace() *spec.SpecNamespace { return vm.ns }

// TypesSatisfying returns the set of types accepted where the given type is
// declared.
func (vm *ValidatorMap) TypesSatisfying(dataType string) map[string]bool {
	return vm.satisfiers[dataType]
}

// Validate checks a typed builder and its whole subtree against the schema.
// The returned issues cover every nonconformance found; the error is
// reserved for structural failures, i.e. a builder that carries no data
// type or a type the namespace does not know.
func (vm *ValidatorMap) Validate(b build.Builder) ([]Issue, error) {
	dt := builderType(b)
	if dt == "" {
		return nil, fmt.Errorf("validate: builder %q carries no %s attribute", b.Name(), spec.TypeKey)
	}
	st := vm.ns.Catalog().GetSpec(dt)
	if st == nil {
		return nil, fmt.Errorf("validate: no type %q in namespace %q", dt, vm.ns.Name())
	}
	return vm.validateTyped(b, st, dt), nil
}

func (vm *ValidatorMap) validateTyped(b build.Builder, st spec.StorageSpec, dt string) []Issue {
	switch ts := st.(type) {
	case *spec.GroupSpec:
		gb, ok := b.(*build.GroupBuilder)
		if !ok {
			return []Issue{incorrectDataTypeIssue(dt, "group", kindName(b), b.Path())}
		}
		return vm.validateGroup(gb, ts, dt)
	case *spec.DatasetSpec:
		db, ok := b.(*build.DatasetBuilder)
		if !ok {
			return []Issue{incorrectDataTypeIssue(dt, "dataset", kindName(b), b.Path())}
		}
		return vm.validateDataset(db, ts, dt)
	default:
		return nil
	}
}

func (vm *ValidatorMap) validateGroup(gb *build.GroupBuilder, st *spec.GroupSpec, base string) []Issue {
	issues := vm.validateAttrs(gb, st.Attributes(), base)
	assigned, extra := vm.assignChildren(gb, st, base)
	issues = append(issues, extra...)

	check := func(s spec.Spec, dataType string) {
		kids := assigned[s]
		issues = append(issues, quantityIssues(s, dataType, len(kids), base, gb.Path())...)
		for _, kid := range kids {
			issues = append(issues, vm.validateChild(kid, s, base)...)
		}
	}
	for _, ds := range st.Datasets() {
		check(ds, ds.DataType())
	}
	for _, gs := range st.Groups() {
		check(gs, gs.DataType())
	}
	for _, ls := range st.Links() {
		check(ls, ls.TargetType())
	}
	return issues
}

// assignChildren pairs every child builder with the child spec it should
// satisfy. Links matching a non-linkable group or dataset spec are flagged.
func (vm *ValidatorMap) assignChildren(gb *build.GroupBuilder, st *spec.GroupSpec, base string) (map[spec.Spec][]build.Builder, []Issue) {
	assigned := map[spec.Spec][]build.Builder{}
	counts := map[spec.Spec]int{}
	var issues []Issue

	for _, child := range gb.Groups() {
		if s := vm.matchChild(st, child, false, counts); s != nil {
			assigned[s] = append(assigned[s], child)
			counts[s]++
		}
	}
	for _, child := range gb.Datasets() {
		if s := vm.matchChild(st, child, false, counts); s != nil {
			assigned[s] = append(assigned[s], child)
			counts[s]++
		}
	}
	for _, child := range gb.Links() {
		s := vm.matchChild(st, child, true, counts)
		if s == nil {
			continue
		}
		if stor, ok := s.(spec.StorageSpec); ok && !stor.Linkable() {
			issues = append(issues, illegalLinkIssue(specIdent(base, s), child.Path()))
			continue
		}
		assigned[s] = append(assigned[s], child)
		counts[s]++
	}
	return assigned, issues
}

// matchChild finds the child spec a builder satisfies: a named spec first,
// then a wildcard spec whose type the builder's ancestry satisfies. Among
// equally ranked specs, the first whose observed count still admits another
// child is preferred; when every candidate is full, the first one wins.
func (vm *ValidatorMap) matchChild(st *spec.GroupSpec, child build.Builder, isLink bool, counts map[spec.Spec]int) spec.Spec {
	dt := builderType(child)
	ancestry := map[string]bool{}
	if dt != "" {
		ancestry[dt] = true
		if chain, err := vm.ns.Catalog().GetHierarchy(dt); err == nil {
			for _, a := range chain {
				ancestry[a] = true
			}
		}
	}
	name := child.Name()
	var named, wildcards []spec.Spec
	consider := func(s spec.Spec, specType string) {
		if specType != "" && !ancestry[specType] {
			return
		}
		if s.SpecName() == name {
			named = append(named, s)
			return
		}
		if s.SpecName() == spec.NameWildcard {
			wildcards = append(wildcards, s)
		}
	}
	if isLink {
		for _, s := range st.Links() {
			consider(s, s.TargetType())
		}
	}
	_, isGroup := child.(*build.GroupBuilder)
	if isGroup && !isLink {
		for _, s := range st.Groups() {
			consider(s, s.DataType())
		}
	} else {
		for _, s := range st.Datasets() {
			consider(s, s.DataType())
		}
		if isLink {
			for _, s := range st.Groups() {
				consider(s, s.DataType())
			}
		}
	}
	if s := preferOpenQuantity(named, counts); s != nil {
		return s
	}
	return preferOpenQuantity(wildcards, counts)
}

// preferOpenQuantity picks the first candidate whose quantity still admits
// another match given the counts observed so far, falling back to the first
// candidate when all are full.
func preferOpenQuantity(cands []spec.Spec, counts map[spec.Spec]int) spec.Spec {
	if len(cands) == 0 {
		return nil
	}
	for _, s := range cands {
		if s.Quantity().Admits(counts[s]) {
			return s
		}
	}
	return cands[0]
}

// validateChild validates one assigned builder against its child spec,
// recursing into typed children via their declared type.
func (vm *ValidatorMap) validateChild(b build.Builder, s spec.Spec, base string) []Issue {
	if lb, ok := b.(*build.LinkBuilder); ok {
		b = lb.Target()
	}
	switch ts := s.(type) {
	case *spec.LinkSpec:
		dt := builderType(b)
		if !vm.satisfies(ts.TargetType(), dt) {
			return []Issue{incorrectDataTypeIssue(specIdent(base, s), ts.TargetType(), dt, b.Path())}
		}
		return nil
	case *spec.DatasetSpec:
		db, ok := b.(*build.DatasetBuilder)
		if !ok {
			return []Issue{incorrectDataTypeIssue(specIdent(base, s), "dataset", kindName(b), b.Path())}
		}
		if ts.DataType() != "" {
			return vm.recurseTyped(db, ts.DataType(), base, s)
		}
		return vm.validateDataset(db, ts, specIdent(base, s))
	case *spec.GroupSpec:
		gb, ok := b.(*build.GroupBuilder)
		if !ok {
			return []Issue{incorrectDataTypeIssue(specIdent(base, s), "group", kindName(b), b.Path())}
		}
		if ts.DataType() != "" {
			return vm.recurseTyped(gb, ts.DataType(), base, s)
		}
		return vm.validateGroup(gb, ts, specIdent(base, s))
	default:
		return nil
	}
}

func (vm *ValidatorMap) recurseTyped(b build.Builder, declared, base string, s spec.Spec) []Issue {
	dt := builderType(b)
	if dt == "" {
		return []Issue{missingDataTypeIssue(specIdent(base, s), declared, b.Path())}
	}
	if !vm.satisfies(declared, dt) {
		return []Issue{incorrectDataTypeIssue(specIdent(base, s), declared, dt, b.Path())}
	}
	st := vm.ns.Catalog().GetSpec(dt)
	if st == nil {
		return []Issue{incorrectDataTypeIssue(specIdent(base, s), declared, dt, b.Path())}
	}
	return vm.validateTyped(b, st, dt)
}

func (vm *ValidatorMap) satisfies(declared, received string) bool {
	if declared == received {
		return true
	}
	set, ok := vm.satisfiers[declared]
	return ok && set[received]
}

func (vm *ValidatorMap) validateDataset(db *build.DatasetBuilder, st *spec.DatasetSpec, name string) []Issue {
	issues := vm.validateAttrs(db, st.Attributes(), name)
	issues = append(issues, valueIssues(name, st.Dtype(), st.Shapes(), db.Data(), db.Dtype(), db.Path())...)
	return issues
}

type attributed interface {
	build.Builder
	Attribute(name string) any
	HasAttribute(name string) bool
}

func (vm *ValidatorMap) validateAttrs(b attributed, attrs []*spec.AttributeSpec, base string) []Issue {
	var issues []Issue
	for _, a := range attrs {
		name := base + "/" + a.SpecName()
		if !b.HasAttribute(a.SpecName()) {
			if a.Required() {
				issues = append(issues, missingIssue(name, b.Path()))
			}
			continue
		}
		v := b.Attribute(a.SpecName())
		issues = append(issues, valueIssues(name, a.Dtype(), a.Shapes(), v, spec.Dtype{}, b.Path())...)
	}
	return issues
}

// valueIssues checks one value against a declared dtype and shape.
func valueIssues(name string, declared spec.Dtype, shapes []spec.Shape, v any, carried spec.Dtype, location string) []Issue {
	var issues []Issue
	if v == nil && carried.IsZero() {
		return nil
	}
	if !declared.IsZero() && !declared.IsRef() && !declared.IsCompound() {
		received := carried.Name
		if received == "" && v != nil {
			if inferred, err := build.InferDtype(v); err == nil {
				received = inferred.Name
			}
		}
		if received != "" && !dtypeSatisfies(declared.Name, received) {
			issues = append(issues, dtypeIssue(name, declared.Name, received, location))
		}
	}
	if declared.IsRef() {
		switch v.(type) {
		case *build.ReferenceBuilder, *build.RegionBuilder, nil:
		default:
			issues = append(issues, dtypeIssue(name, declared.String(), fmt.Sprintf("%T", v), location))
		}
	}
	if len(shapes) > 0 && v != nil {
		received := build.ValueShape(v)
		if received == nil {
			issues = append(issues, expectedArrayIssue(name, shapeString(shapes), v, location))
		} else if !spec.AnyShapeMatches(shapes, received) {
			issues = append(issues, shapeIssue(name, shapeString(shapes), received, location))
		}
	}
	return issues
}

// dtypeSatisfies implements the validation allowance table: a declared
// numeric dtype admits any same-family value of equal or greater width, a
// declared float admits wider floats, "numeric" admits every numeric value,
// and utf and ascii never stand in for each other.
func dtypeSatisfies(declared, received string) bool {
	if declared == received {
		return true
	}
	dk, dw := kindOf(declared)
	rk, rw := kindOf(received)
	switch declared {
	case spec.DtypeNumeric:
		return rk == 'i' || rk == 'u' || rk == 'f'
	case spec.DtypeISODatetime:
		// Dates travel as strings.
		return received == spec.DtypeUTF
	case spec.DtypeUTF, spec.DtypeASCII, spec.DtypeBool:
		return false
	}
	if dk != rk {
		return false
	}
	return rw >= dw
}

func kindOf(name string) (byte, int) {
	switch name {
	case spec.DtypeInt8:
		return 'i', 8
	case spec.DtypeInt16:
		return 'i', 16
	case spec.DtypeInt32:
		return 'i', 32
	case spec.DtypeInt64:
		return 'i', 64
	case spec.DtypeUint8:
		return 'u', 8
	case spec.DtypeUint16:
		return 'u', 16
	case spec.DtypeUint32:
		return 'u', 32
	case spec.DtypeUint64:
		return 'u', 64
	case spec.DtypeFloat32:
		return 'f', 32
	case spec.DtypeFloat64:
		return 'f', 64
	default:
		return 'o', 0
	}
}

func quantityIssues(s spec.Spec, dataType string, n int, base, location string) []Issue {
	q := s.Quantity()
	name := specIdent(base, s)
	if n == 0 {
		if !q.Required() {
			return nil
		}
		if s.SpecName() == spec.NameWildcard && dataType != "" {
			return []Issue{missingDataTypeIssue(name, dataType, location)}
		}
		return []Issue{missingIssue(name, location)}
	}
	if fixed, ok := q.Fixed(); ok && n != fixed {
		return []Issue{incorrectQuantityIssue(name, displayType(s, dataType), fixed, n, location)}
	}
	if !q.IsMany() && n > 1 {
		return []Issue{incorrectQuantityIssue(name, displayType(s, dataType), 1, n, location)}
	}
	return nil
}

func displayType(s spec.Spec, dataType string) string {
	if dataType != "" {
		return dataType
	}
	return s.SpecName()
}

func specIdent(base string, s spec.Spec) string {
	var leaf string
	if s.SpecName() != spec.NameWildcard {
		leaf = s.SpecName()
	} else {
		switch t := s.(type) {
		case *spec.GroupSpec:
			leaf = t.DataType()
		case *spec.DatasetSpec:
			leaf = t.DataType()
		case *spec.LinkSpec:
			leaf = t.TargetType()
		}
	}
	if base == "" {
		return leaf
	}
	return base + "/" + leaf
}

func builderType(b build.Builder) string {
	switch t := b.(type) {
	case *build.GroupBuilder:
		s, _ := t.Attribute(spec.TypeKey).(string)
		return s
	case *build.DatasetBuilder:
		s, _ := t.Attribute(spec.TypeKey).(string)
		return s
	case *build.LinkBuilder:
		return builderType(t.Target())
	default:
		return ""
	}
}

func kindName(b build.Builder) string {
	switch b.(type) {
	case *build.GroupBuilder:
		return "group"
	case *build.DatasetBuilder:
		return "dataset"
	case *build.LinkBuilder:
		return "link"
	default:
		return "unknown"
	}
}

func shapeString(shapes []spec.Shape) string {
	parts := make([]string, len(shapes))
	for i, s := range shapes {
		dims := make([]string, len(s))
		for j, d := range s {
			if d == spec.ShapeWildcard {
				dims[j] = "*"
			} else {
				dims[j] = fmt.Sprint(d)
			}
		}
		parts[i] = "(" + strings.Join(dims, ", ") + ")"
	}
	return strings.Join(parts, " or ")
}
