package device

import (
	"testing"
)

func resolverTemplate() *Template {
	parent := int64(8)
	return &Template{
		ID:    1,
		Label: "sensor",
		Attrs: []Attribute{
			{ID: 5, Label: "mode", Kind: KindStatic, ValueType: "string", StaticValue: strPtr("old"), TemplateID: 1},
			{ID: 6, Label: "serial", Kind: KindStatic, ValueType: "string", StaticValue: strPtr("x"), TemplateID: 1},
			{ID: 7, Label: "temperature", Kind: KindDynamic, ValueType: "float", TemplateID: 1},
			{ID: 8, Label: "humidity", Kind: KindDynamic, ValueType: "float", TemplateID: 1, Metadata: []Attribute{
				{ID: 9, Label: "unit", Kind: KindMeta, ValueType: "string", StaticValue: strPtr("%"), ParentID: &parent},
			}},
		},
	}
}

func TestResolveOverrides_TopLevel(t *testing.T) {
	tmpl := resolverTemplate()
	attrs := AttrsByTemplate{1: CloneAttributes(tmpl.Attrs)}

	dangling := ResolveOverrides(attrs, []Override{{AttrID: 5, TemplateID: 1, StaticValue: "new"}})
	if len(dangling) != 0 {
		t.Fatalf("dangling = %v, want none", dangling)
	}

	mode := attrByLabel(t, attrs[1], "mode")
	if mode.StaticValue == nil || *mode.StaticValue != "new" {
		t.Errorf("mode static_value = %v, want new", mode.StaticValue)
	}
	if mode.IsStaticOverridden == nil || !*mode.IsStaticOverridden {
		t.Errorf("mode is_static_overridden = %v, want true", mode.IsStaticOverridden)
	}

	serial := attrByLabel(t, attrs[1], "serial")
	if *serial.StaticValue != "x" {
		t.Errorf("serial static_value = %q, want x", *serial.StaticValue)
	}
	if serial.IsStaticOverridden == nil || *serial.IsStaticOverridden {
		t.Errorf("serial is_static_overridden = %v, want false", serial.IsStaticOverridden)
	}

	temp := attrByLabel(t, attrs[1], "temperature")
	if temp.IsStaticOverridden != nil {
		t.Errorf("attribute without default got flag %v", *temp.IsStaticOverridden)
	}

	// The template itself is untouched.
	if *tmpl.Attrs[0].StaticValue != "old" || tmpl.Attrs[0].IsStaticOverridden != nil {
		t.Error("resolution modified the template")
	}
}

func TestResolveOverrides_Metadata(t *testing.T) {
	attrs := AttrsByTemplate{1: CloneAttributes(resolverTemplate().Attrs)}
	parent := int64(8)

	ResolveOverrides(attrs, []Override{{AttrID: 9, TemplateID: 1, ParentID: &parent, StaticValue: "ratio"}})

	unit := attrByLabel(t, attrs[1], "humidity").Metadata[0]
	if *unit.StaticValue != "ratio" {
		t.Errorf("unit static_value = %q, want ratio", *unit.StaticValue)
	}
	if unit.IsStaticOverridden == nil || !*unit.IsStaticOverridden {
		t.Error("unit is_static_overridden not set")
	}
}

func TestResolveOverrides_Dangling(t *testing.T) {
	attrs := AttrsByTemplate{1: CloneAttributes(resolverTemplate().Attrs)}
	parent := int64(5)

	dangling := ResolveOverrides(attrs, []Override{
		{AttrID: 99, TemplateID: 1, StaticValue: "a"},
		{AttrID: 9, TemplateID: 1, ParentID: &parent, StaticValue: "b"},
		{AttrID: 5, TemplateID: 2, StaticValue: "c"},
	})
	if len(dangling) != 3 {
		t.Errorf("dangling = %d, want 3", len(dangling))
	}
}

func TestBuildView(t *testing.T) {
	tmpl := resolverTemplate()
	d := &Device{
		ID:        "ab12",
		Label:     "kitchen",
		Templates: []int64{1, 2},
		Overrides: []Override{{AttrID: 6, TemplateID: 1, StaticValue: "S-1"}},
	}

	v, dangling := BuildView(d, map[int64]*Template{1: tmpl})
	if len(dangling) != 0 {
		t.Fatalf("dangling = %v", dangling)
	}
	if v.ID != "ab12" || v.Label != "kitchen" {
		t.Errorf("view = %s/%s", v.ID, v.Label)
	}
	if len(v.Attrs[1]) != 4 {
		t.Errorf("attrs of template 1 = %d, want 4", len(v.Attrs[1]))
	}
	if got, ok := v.Attrs[2]; !ok || len(got) != 0 {
		t.Errorf("missing template should map to an empty list, got %v", got)
	}
	if *attrByLabel(t, v.Attrs[1], "serial").StaticValue != "S-1" {
		t.Error("override not applied")
	}
	if *tmpl.Attrs[1].StaticValue != "x" {
		t.Error("BuildView modified the template")
	}
}

func TestRevealPSKs(t *testing.T) {
	tmpl := &Template{ID: 1, Attrs: []Attribute{
		{ID: 3, Label: "key", Kind: KindStatic, ValueType: ValueTypePSK, TemplateID: 1},
		{ID: 4, Label: "other", Kind: KindStatic, ValueType: "string", TemplateID: 1},
	}}
	sealed, _ := fakeCipher{}.Encrypt([]byte("s3cret"))
	d := &Device{ID: "ab", Templates: []int64{1}}

	v, _ := BuildView(d, map[int64]*Template{1: tmpl})
	keys := []PreSharedKey{
		{AttrID: 3, TemplateID: 1, Key: sealed},
		{AttrID: 4, TemplateID: 1, Key: sealed},
	}
	if err := RevealPSKs(v, keys, fakeCipher{}); err != nil {
		t.Fatalf("RevealPSKs() error = %v", err)
	}
	if got := attrByLabel(t, v.Attrs[1], "key").StaticValue; got == nil || *got != "s3cret" {
		t.Errorf("psk static_value = %v, want s3cret", got)
	}
	if got := attrByLabel(t, v.Attrs[1], "other").StaticValue; got != nil {
		t.Errorf("non-psk attribute revealed %q", *got)
	}

	if err := RevealPSKs(v, []PreSharedKey{{AttrID: 3, TemplateID: 1, Key: []byte("garbage")}}, fakeCipher{}); err == nil {
		t.Error("RevealPSKs() with undecryptable key returned nil error")
	}
}
