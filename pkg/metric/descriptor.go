package metric

import (
	"fmt"
	"regexp"
)

// Kind is the type of a metric series.
//
type Kind int

const (
	Gauge Kind = iota
	Counter
)

func (k Kind) String() string {
	switch k {
	case Gauge:
		return "gauge"
	case Counter:
		return "counter"
	default:
		return "unknown"
	}
}

var nameRegexp = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

// Descriptor is the immutable definition of a metric: its name, kind,
// label schema and help text.
//
type Descriptor struct {
	name   string
	help   string
	kind   Kind
	labels []string
}

// NewDescriptor creates a descriptor, validating the name and label names.
//
func NewDescriptor(name, help string, kind Kind, labels ...string) (*Descriptor, error) {
	if !nameRegexp.MatchString(name) {
		return nil, fmt.Errorf("invalid metric name '%s'", name)
	}

	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if !nameRegexp.MatchString(label) {
			return nil, fmt.Errorf("%s: invalid label name '%s'", name, label)
		}

		if _, dup := seen[label]; dup {
			return nil, fmt.Errorf("%s: duplicate label '%s'", name, label)
		}

		seen[label] = struct{}{}
	}

	return &Descriptor{
		name:   name,
		help:   help,
		kind:   kind,
		labels: append([]string(nil), labels...),
	}, nil
}

// MustNewDescriptor is like NewDescriptor but panics on error. Meant for
// package level catalogs.
//
func MustNewDescriptor(name, help string, kind Kind, labels ...string) *Descriptor {
	d, err := NewDescriptor(name, help, kind, labels...)
	if err != nil {
		panic(err)
	}

	return d
}

func (d *Descriptor) Name() string { return d.name }
func (d *Descriptor) Help() string { return d.help }
func (d *Descriptor) Kind() Kind   { return d.kind }

// Labels returns a copy of the label names, in order.
//
func (d *Descriptor) Labels() []string {
	return append([]string(nil), d.labels...)
}

// Catalog is the ordered, fixed set of descriptors an exporter knows
// about.
//
type Catalog struct {
	ordered []*Descriptor
	byName  map[string]*Descriptor
}

// NewCatalog creates a catalog from descriptors, rejecting duplicated
// names.
//
func NewCatalog(descs ...*Descriptor) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*Descriptor, len(descs)),
	}

	for _, d := range descs {
		if _, ok := c.byName[d.name]; ok {
			return nil, fmt.Errorf("descriptor '%s' already in catalog", d.name)
		}

		c.byName[d.name] = d
		c.ordered = append(c.ordered, d)
	}

	return c, nil
}

// Descriptors returns every descriptor in registration order.
//
func (c *Catalog) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), c.ordered...)
}

// Lookup finds a descriptor by name.
//
func (c *Catalog) Lookup(name string) (*Descriptor, bool) {
	d, ok := c.byName[name]
	return d, ok
}

// Len is the number of descriptors in the catalog.
//
func (c *Catalog) Len() int {
	return len(c.ordered)
}
