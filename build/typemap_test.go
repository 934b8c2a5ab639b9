package build_test

import (
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/loamdata/loam"
	"github.com/loamdata/loam/build"
	"github.com/loamdata/loam/spec"
)

func TestGetContainerClass_SynthesizesFieldsFromSpec(t *testing.T) {
	tm := newTestTypeMap(t)
	cls, err := tm.GetContainerClass("test", "Foo")
	if err != nil {
		t.Fatalf("GetContainerClass: %v", err)
	}
	if !cls.Generated {
		t.Fatalf("expected a synthesized class")
	}
	bars, ok := cls.FieldByName("bars")
	if !ok {
		t.Fatalf("expected field 'bars' for the quantity-many Bar children")
	}
	if !bars.Multi || bars.Required {
		t.Fatalf("unexpected field flags for bars: %+v", bars)
	}
	baz, ok := cls.FieldByName("baz")
	if !ok || baz.Multi || baz.Required {
		t.Fatalf("unexpected field for baz: %+v ok=%v", baz, ok)
	}

	barCls, err := tm.GetContainerClass("test", "Bar")
	if err != nil {
		t.Fatalf("GetContainerClass(Bar): %v", err)
	}
	if f, ok := barCls.FieldByName("attr1"); !ok || !f.Required {
		t.Fatalf("expected required attr1 field, got %+v ok=%v", f, ok)
	}
	if _, ok := barCls.FieldByName("data"); !ok {
		t.Fatalf("expected data field for the named dataset")
	}
}

func TestContainerClass_MissingRequiredField(t *testing.T) {
	tm := newTestTypeMap(t)
	cls, _ := tm.GetContainerClass("test", "Bar")
	if _, err := cls.New("bar1", map[string]any{"data": []int32{1}}); err == nil {
		t.Fatalf("expected error for missing required field attr1")
	}
}

// barContainer is a hand-authored type for the Bar data type.
type barContainer struct {
	loam.Container
}

func TestRegisterContainerType_RecognizesInstances(t *testing.T) {
	tm := newTestTypeMap(t)
	err := tm.RegisterContainerType("test", "Bar", &build.ContainerClass{
		GoType: reflect.TypeOf(&barContainer{}),
		New: func(name string, fields map[string]any) (loam.AbstractContainer, error) {
			base, err := loam.NewContainer(name)
			if err != nil {
				return nil, err
			}
			c := &barContainer{Container: *base}
			for k, v := range fields {
				if v == nil {
					continue
				}
				if err := c.SetField(k, v); err != nil {
					return nil, err
				}
			}
			return c, nil
		},
	})
	if err != nil {
		t.Fatalf("RegisterContainerType: %v", err)
	}

	cls, err := tm.GetContainerClass("test", "Bar")
	if err != nil {
		t.Fatalf("GetContainerClass: %v", err)
	}
	c, err := cls.New("bar1", map[string]any{"attr1": "hello", "data": []int32{1, 2}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ns, dt, err := tm.DataTypeOf(c)
	if err != nil {
		t.Fatalf("DataTypeOf: %v", err)
	}
	if ns != "test" || dt != "Bar" {
		t.Fatalf("expected test.Bar, got %s.%s", ns, dt)
	}

	// The hand-authored type round-trips through the manager.
	m := build.NewManager(tm, zerolog.Nop())
	foo := newFoo(t, tm, "foo", map[string]any{
		"bars": []loam.AbstractContainer{c},
	})
	b, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m2 := build.NewManager(tm, zerolog.Nop())
	got, err := m2.Construct(b)
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	bars := loam.MultiFieldValues(got, "bars")
	if len(bars) != 1 {
		t.Fatalf("expected 1 bar, got %d", len(bars))
	}
	if _, ok := bars[0].(*barContainer); !ok {
		t.Fatalf("expected hand-authored type, got %T", bars[0])
	}
}

func TestRegisterMap_HookCustomizesMapper(t *testing.T) {
	tm := newTestTypeMap(t)
	tm.RegisterMap("test", "Bar", func(om *build.ObjectMapper) {
		om.OnBuild("attr1", func(c loam.AbstractContainer) (any, error) {
			return "hooked", nil
		})
	})
	m := build.NewManager(tm, zerolog.Nop())
	bar := newBar(t, tm, "bar1", "original", []int32{1})
	foo := newFoo(t, tm, "foo", map[string]any{
		"bars": []loam.AbstractContainer{bar},
	})
	b, err := m.Build(foo, build.BuildOpt{Source: "test.dat", Root: true})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	gb := b.(*build.GroupBuilder)
	if got := gb.Group("bar1").Attribute("attr1"); got != "hooked" {
		t.Fatalf("expected hook to override the value, got %v", got)
	}
}

func TestGetSubspec_PrefersSpecWithOpenQuantity(t *testing.T) {
	tm := newTestTypeMap(t)
	holder, err := spec.BuildGroupSpec(map[string]any{
		"data_type_def": "Holder",
		"doc":           "holds one bar plus overflow",
		"groups": []any{
			map[string]any{"data_type_inc": "Bar", "doc": "primary", "quantity": 1},
			map[string]any{"data_type_inc": "Bar", "doc": "overflow", "quantity": "*"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("BuildGroupSpec: %v", err)
	}
	child := build.NewGroupBuilder("b0")
	child.SetAttribute(spec.TypeKey, "Bar")
	child.SetAttribute(spec.NamespaceKey, "test")

	first := tm.GetSubspec(holder, child, nil)
	if first != spec.Spec(holder.Groups()[0]) {
		t.Fatalf("expected the fixed-quantity spec first, got %v", first)
	}
	second := tm.GetSubspec(holder, child, map[spec.Spec]int{first: 1})
	if second != spec.Spec(holder.Groups()[1]) {
		t.Fatalf("expected the open-quantity spec once the first is full, got %v", second)
	}
}

func TestDataTypeOf_UnknownType(t *testing.T) {
	tm := newTestTypeMap(t)
	c, _ := loam.NewContainer("plain")
	if _, _, err := tm.DataTypeOf(c); err == nil {
		t.Fatalf("expected error for unregistered container type")
	}
}
