package loam

import "fmt"

// DataContainer is implemented by containers that wrap a dataset value
// (scalar or array) rather than a group of children.
type DataContainer interface {
	AbstractContainer
	Data() any
	SetData(value any) error
}

// Data is the base implementation of DataContainer for standalone dataset
// values. Types wrapping a dataset value implement DataContainer themselves
// rather than embed Data: an embedded field named Data shadows the promoted
// Data method.
type Data struct {
	Container
	data any
}

// NewData creates a dataset-backed container holding the given value.
func NewData(name string, data any) (*Data, error) {
	c, err := NewContainer(name)
	if err != nil {
		return nil, err
	}
	return &Data{Container: *c, data: data}, nil
}

// Data returns the wrapped value.
func (d *Data) Data() any { return d.data }

// SetData replaces the wrapped value and marks the container modified.
func (d *Data) SetData(value any) error {
	d.data = value
	d.SetModified(true)
	return nil
}

// DataRegion pairs a DataContainer with a slice of it, used for region
// references.
type DataRegion struct {
	Target DataContainer
	Region []Slice
}

// Slice is one dimension of a region selection (half-open interval).
type Slice struct {
	Start int
	Stop  int
}

// DynamicContainer is the record type instantiated for classes synthesized
// from a spec when no hand-authored Go type is registered. All state lives in
// the schema-indexed field map of the embedded Container.
type DynamicContainer struct {
	Container
	dataType  string
	namespace string
}

// NewDynamicContainer creates a generated-class instance stamped with its
// namespace and data type.
func NewDynamicContainer(name, namespace, dataType string) (*DynamicContainer, error) {
	c, err := NewContainer(name)
	if err != nil {
		return nil, err
	}
	return &DynamicContainer{Container: *c, dataType: dataType, namespace: namespace}, nil
}

// DataType returns the declared type this instance was generated for.
func (d *DynamicContainer) DataType() string { return d.dataType }

// Namespace returns the namespace of the declared type.
func (d *DynamicContainer) Namespace() string { return d.namespace }

// DynamicData is the dataset-backed counterpart of DynamicContainer.
type DynamicData struct {
	Container
	data      any
	dataType  string
	namespace string
}

// NewDynamicData creates a generated dataset-class instance.
func NewDynamicData(name, namespace, dataType string, data any) (*DynamicData, error) {
	c, err := NewContainer(name)
	if err != nil {
		return nil, err
	}
	return &DynamicData{Container: *c, data: data, dataType: dataType, namespace: namespace}, nil
}

// Data returns the wrapped value.
func (d *DynamicData) Data() any { return d.data }

// SetData replaces the wrapped value and marks the container modified.
func (d *DynamicData) SetData(value any) error {
	d.data = value
	d.SetModified(true)
	return nil
}

// DataType returns the declared type this instance was generated for.
func (d *DynamicData) DataType() string { return d.dataType }

// Namespace returns the namespace of the declared type.
func (d *DynamicData) Namespace() string { return d.namespace }

// AddToMultiField appends a child container to a quantity-many field, keyed
// by the child's name, and parents the child to c. Generated classes use this
// for their add operations.
func AddToMultiField(c AbstractContainer, field string, child AbstractContainer) error {
	b := c.base()
	coll, _ := b.fields[field].(map[string]AbstractContainer)
	if coll == nil {
		coll = map[string]AbstractContainer{}
		b.fields[field] = coll
	}
	if _, ok := coll[child.Name()]; ok {
		return fmt.Errorf("loam: %q already contains a %q named %q", c.Name(), field, child.Name())
	}
	coll[child.Name()] = child
	if child.ParentRef() == nil {
		if err := child.SetParent(c); err != nil {
			return err
		}
	}
	b.SetModified(true)
	return nil
}

// GetFromMultiField returns the child of a quantity-many field by name, or
// nil.
func GetFromMultiField(c AbstractContainer, field, name string) AbstractContainer {
	coll, _ := c.base().fields[field].(map[string]AbstractContainer)
	return coll[name]
}

// MultiFieldValues returns all children of a quantity-many field.
func MultiFieldValues(c AbstractContainer, field string) []AbstractContainer {
	coll, _ := c.base().fields[field].(map[string]AbstractContainer)
	out := make([]AbstractContainer, 0, len(coll))
	for _, v := range coll {
		out = append(out, v)
	}
	return out
}
