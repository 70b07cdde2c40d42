package device

import (
	"fmt"
)

// Decrypter opens stored pre-shared keys.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// fillOverriddenFlag marks every attribute and metadata entry that has a
// default static value as not overridden, so the flag is present uniformly.
func fillOverriddenFlag(attrs []Attribute) {
	for i := range attrs {
		a := &attrs[i]
		if a.IsStaticOverridden == nil && a.StaticValue != nil {
			f := false
			a.IsStaticOverridden = &f
		}
		fillOverriddenFlag(a.Metadata)
	}
}

func applyOverride(a *Attribute, value string) {
	v := value
	t := true
	a.StaticValue = &v
	a.IsStaticOverridden = &t
}

// ResolveOverrides applies device overrides to a dumped attribute tree.
//
// Top-level overrides are found by id in their template's list. Metadata
// overrides go through the parent attribute first, then the metadata entry.
// The tree must already be a private copy; template defaults are never
// touched. Overrides that match nothing are returned.
func ResolveOverrides(attrs AttrsByTemplate, overrides []Override) []Override {
	for _, list := range attrs {
		fillOverriddenFlag(list)
	}

	var dangling []Override
	for _, o := range overrides {
		target := locate(attrs[o.TemplateID], o)
		if target == nil {
			dangling = append(dangling, o)
			continue
		}
		applyOverride(target, o.StaticValue)
	}
	return dangling
}

func locate(list []Attribute, o Override) *Attribute {
	if o.ParentID == nil {
		for i := range list {
			if list[i].ID == o.AttrID {
				return &list[i]
			}
		}
		return nil
	}
	for i := range list {
		if list[i].ID == *o.ParentID {
			return list[i].FindMetadata(o.AttrID)
		}
	}
	return nil
}

// BuildView assembles the external representation of d from its templates.
// Missing templates contribute an empty list. Overrides that no longer match
// an attribute are returned so the caller can log them.
func BuildView(d *Device, templates map[int64]*Template) (*View, []Override) {
	v := &View{
		ID:        d.ID,
		Label:     d.Label,
		Created:   d.Created,
		Updated:   d.Updated,
		Templates: append([]int64{}, d.Templates...),
		Attrs:     make(AttrsByTemplate, len(d.Templates)),
	}
	for _, id := range d.Templates {
		t, ok := templates[id]
		if !ok {
			v.Attrs[id] = []Attribute{}
			continue
		}
		v.Attrs[id] = CloneAttributes(t.Attrs)
		if v.Attrs[id] == nil {
			v.Attrs[id] = []Attribute{}
		}
	}
	dangling := ResolveOverrides(v.Attrs, d.Overrides)
	return v, dangling
}

// RevealPSKs writes the decrypted pre-shared keys of a device into the
// static values of its psk attributes. Only internal views call this.
func RevealPSKs(v *View, keys []PreSharedKey, dec Decrypter) error {
	for _, k := range keys {
		list := v.Attrs[k.TemplateID]
		for i := range list {
			if list[i].ID != k.AttrID || !list[i].IsPSK() {
				continue
			}
			plain, err := dec.Decrypt(k.Key)
			if err != nil {
				return fmt.Errorf("decrypting psk for attribute %d: %w", k.AttrID, err)
			}
			s := string(plain)
			list[i].StaticValue = &s
		}
	}
	return nil
}

// AllAttributes returns the top-level attributes of the view in template
// attachment order.
func (v *View) AllAttributes() []Attribute {
	var out []Attribute
	for _, id := range v.Templates {
		out = append(out, v.Attrs[id]...)
	}
	return out
}
