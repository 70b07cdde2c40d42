package device

import (
	"context"
	"time"
)

// Spec describes one device to stage.
type Spec struct {
	// ID is optional; a free id is generated when empty.
	ID        string
	Label     string
	Templates []int64

	// Attrs carries per-device static values for attributes and metadata
	// of the templates, identified by attribute id.
	Attrs []Attribute

	// Created and Updated are kept when a device is rebuilt by an update.
	Created time.Time
	Updated *time.Time

	// PreSharedKeys are carried over for attributes still on the device.
	PreSharedKeys []PreSharedKey
}

// Staged is a device written to an uncommitted unit of work together with
// the templates it was validated against.
type Staged struct {
	Device    *Device
	Templates []*Template
}

// View returns the full representation of the staged device.
func (s *Staged) View() *View {
	v, _ := BuildView(s.Device, templateIndex(s.Templates))
	return v
}

// Assembler validates device specs and stages them. It never commits:
// transaction scope belongs to the caller.
type Assembler struct {
	ids *IDGenerator
	now func() time.Time
}

// NewAssembler creates an assembler drawing ids from ids.
func NewAssembler(ids *IDGenerator) *Assembler {
	if ids == nil {
		ids = NewIDGenerator(DefaultIDAttempts)
	}
	return &Assembler{ids: ids, now: now}
}

// Insert stages spec in tx. The checks run in order and the first failure
// aborts with nothing staged:
//
//  1. the id matches the device id pattern, or a free one is generated
//  2. the label is not used by another device
//  3. at least one template is given
//  4. the templates exist and share no attribute label
//  5. every requested static value names an attribute of those templates
func (a *Assembler) Insert(ctx context.Context, tx Tx, spec Spec) (*Staged, error) {
	id := spec.ID
	if id != "" {
		if !ValidDeviceID(id) {
			return nil, withDetail(ErrInvalidDeviceID, "%q is not 2 to 6 hex digits", id)
		}
	} else {
		var err error
		if id, err = a.ids.Generate(ctx, tx.DeviceExists); err != nil {
			return nil, err
		}
	}

	if spec.Label == "" {
		return nil, withDetail(ErrInvalidLabel, "device label is required")
	}
	taken, err := tx.LabelInUse(ctx, spec.Label)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, withDetail(ErrLabelInUse, "label %q is already in use", spec.Label)
	}

	if len(spec.Templates) == 0 {
		return nil, withDetail(ErrNoTemplates, "device %s has no templates", id)
	}
	templates, err := LoadTemplates(ctx, tx, spec.Templates)
	if err != nil {
		return nil, err
	}

	overrides, err := buildOverrides(templates, spec.Attrs)
	if err != nil {
		return nil, err
	}

	created := spec.Created
	if created.IsZero() {
		created = a.now()
	}
	d := &Device{
		ID:            id,
		Label:         spec.Label,
		Created:       created,
		Updated:       spec.Updated,
		Templates:     append([]int64{}, spec.Templates...),
		Overrides:     overrides,
		PreSharedKeys: keepKeys(templates, spec.PreSharedKeys),
	}
	if err := tx.InsertDevice(ctx, d); err != nil {
		return nil, err
	}
	return &Staged{Device: d, Templates: templates}, nil
}

// findAttr locates a top-level attribute across templates.
func findAttr(templates []*Template, id int64) (int64, *Attribute) {
	for _, t := range templates {
		if a := t.FindAttribute(id); a != nil {
			return t.ID, a
		}
	}
	return 0, nil
}

// findAttrByLabel locates a top-level attribute by label across templates.
func findAttrByLabel(templates []*Template, label string) (int64, *Attribute) {
	for _, t := range templates {
		for i := range t.Attrs {
			if t.Attrs[i].Label == label {
				return t.ID, &t.Attrs[i]
			}
		}
	}
	return 0, nil
}

// buildOverrides turns requested static values into override records.
// Entries without a static value only serve to reach their metadata.
func buildOverrides(templates []*Template, attrs []Attribute) ([]Override, error) {
	if err := checkOverrideDepth(attrs); err != nil {
		return nil, err
	}

	var (
		out  []Override
		seen = make(map[int64]struct{})
	)
	add := func(o Override) error {
		if _, dup := seen[o.AttrID]; dup {
			return withDetail(ErrRepeatedAttribute, "attribute %d is overridden twice", o.AttrID)
		}
		seen[o.AttrID] = struct{}{}
		out = append(out, o)
		return nil
	}

	for _, req := range attrs {
		owner, stored := findAttr(templates, req.ID)
		if stored == nil {
			return nil, withDetail(ErrUnknownOverride, "attribute %d is not part of the device templates", req.ID)
		}
		if req.StaticValue != nil {
			if err := add(Override{AttrID: stored.ID, TemplateID: owner, StaticValue: *req.StaticValue}); err != nil {
				return nil, err
			}
		}
		for _, m := range req.Metadata {
			meta := stored.FindMetadata(m.ID)
			if meta == nil {
				return nil, withDetail(ErrUnknownOverride, "metadata %d is not part of attribute %q", m.ID, stored.Label)
			}
			if m.StaticValue == nil {
				continue
			}
			parent := stored.ID
			if err := add(Override{AttrID: meta.ID, TemplateID: owner, ParentID: &parent, StaticValue: *m.StaticValue}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// keepKeys drops keys whose psk attribute no longer belongs to the device.
func keepKeys(templates []*Template, keys []PreSharedKey) []PreSharedKey {
	var out []PreSharedKey
	for _, k := range keys {
		owner, a := findAttr(templates, k.AttrID)
		if a == nil || !a.IsPSK() {
			continue
		}
		k.TemplateID = owner
		out = append(out, k)
	}
	return out
}
