package device

import (
	"time"
)

// AttrKind is the role an attribute plays on a device.
type AttrKind string

// Attribute kinds.
const (
	KindDynamic  AttrKind = "dynamic"
	KindStatic   AttrKind = "static"
	KindActuator AttrKind = "actuator"
	KindMeta     AttrKind = "meta"
)

// Valid reports whether k is a known kind.
func (k AttrKind) Valid() bool {
	switch k {
	case KindDynamic, KindStatic, KindActuator, KindMeta:
		return true
	}
	return false
}

// ValueTypePSK marks attributes whose per-device value is a pre-shared key.
const ValueTypePSK = "psk"

// MaxMetadataDepth is how far metadata may nest below a top-level attribute.
// Overrides are only resolved at this depth.
const MaxMetadataDepth = 1

// Attribute is one node of a template's attribute tree. Top-level attributes
// carry TemplateID; metadata children carry their parent's id in ParentID.
type Attribute struct {
	ID          int64    `json:"id,omitempty"`
	Label       string   `json:"label"`
	Kind        AttrKind `json:"type"`
	ValueType   string   `json:"value_type"`
	StaticValue *string  `json:"static_value,omitempty"`

	// IsStaticOverridden is only set on resolved device views.
	IsStaticOverridden *bool `json:"is_static_overridden,omitempty"`

	TemplateID int64  `json:"template_id,omitempty"`
	ParentID   *int64 `json:"-"`

	Created time.Time  `json:"created"`
	Updated *time.Time `json:"updated,omitempty"`

	Metadata []Attribute `json:"metadata,omitempty"`
}

// IsPSK reports whether the attribute holds a pre-shared key.
func (a Attribute) IsPSK() bool {
	return a.ValueType == ValueTypePSK
}

// Clone returns a deep copy of a, including metadata and pointer fields.
func (a Attribute) Clone() Attribute {
	c := a
	if a.StaticValue != nil {
		v := *a.StaticValue
		c.StaticValue = &v
	}
	if a.IsStaticOverridden != nil {
		v := *a.IsStaticOverridden
		c.IsStaticOverridden = &v
	}
	if a.ParentID != nil {
		v := *a.ParentID
		c.ParentID = &v
	}
	if a.Updated != nil {
		v := *a.Updated
		c.Updated = &v
	}
	c.Metadata = CloneAttributes(a.Metadata)
	return c
}

// CloneAttributes deep copies a list of attributes. A nil list stays nil.
func CloneAttributes(attrs []Attribute) []Attribute {
	if attrs == nil {
		return nil
	}
	out := make([]Attribute, len(attrs))
	for i := range attrs {
		out[i] = attrs[i].Clone()
	}
	return out
}

// FindMetadata returns the metadata entry of a with the given id.
func (a *Attribute) FindMetadata(id int64) *Attribute {
	for i := range a.Metadata {
		if a.Metadata[i].ID == id {
			return &a.Metadata[i]
		}
	}
	return nil
}

// ValidateTree checks attribute definitions submitted for a template.
//
// Every node needs a label, a known kind and a value type. Labels may not
// repeat at the same level. Metadata may not carry metadata of its own.
func ValidateTree(attrs []Attribute) error {
	return validateLevel(attrs, 0)
}

func validateLevel(attrs []Attribute, depth int) error {
	seen := make(map[string]struct{}, len(attrs))
	for i := range attrs {
		a := &attrs[i]
		if a.Label == "" {
			return withDetail(ErrInvalidAttribute, "attribute %d has no label", i)
		}
		if !a.Kind.Valid() {
			return withDetail(ErrInvalidAttribute, "attribute %q has unknown type %q", a.Label, a.Kind)
		}
		if a.ValueType == "" {
			return withDetail(ErrInvalidAttribute, "attribute %q has no value_type", a.Label)
		}
		if _, dup := seen[a.Label]; dup {
			return withDetail(ErrRepeatedAttribute, "attribute %q is repeated", a.Label)
		}
		seen[a.Label] = struct{}{}

		if len(a.Metadata) == 0 {
			continue
		}
		if depth >= MaxMetadataDepth {
			return withDetail(ErrMetadataTooDeep, "metadata %q nests below depth %d", a.Label, MaxMetadataDepth)
		}
		if err := validateLevel(a.Metadata, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// checkOverrideDepth rejects override payloads nested deeper than metadata.
func checkOverrideDepth(attrs []Attribute) error {
	for _, a := range attrs {
		for _, m := range a.Metadata {
			if len(m.Metadata) > 0 {
				return withDetail(ErrMetadataTooDeep, "override for %d nests below depth %d", m.ID, MaxMetadataDepth)
			}
		}
	}
	return nil
}
