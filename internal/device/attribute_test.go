package device

import (
	"errors"
	"testing"
)

func TestValidateTree(t *testing.T) {
	meta := func(label string) Attribute { return attr(label, KindMeta, "string", strPtr("m")) }

	tests := []struct {
		name    string
		attrs   []Attribute
		wantErr error
	}{
		{
			name: "valid with metadata",
			attrs: []Attribute{
				attr("temperature", KindDynamic, "float", nil, meta("unit"), meta("precision")),
				attr("serial", KindStatic, "string", strPtr("x")),
			},
		},
		{
			name:  "empty list",
			attrs: nil,
		},
		{
			name:    "missing label",
			attrs:   []Attribute{attr("", KindDynamic, "float", nil)},
			wantErr: ErrInvalidAttribute,
		},
		{
			name:    "unknown kind",
			attrs:   []Attribute{attr("x", AttrKind("sensor"), "float", nil)},
			wantErr: ErrInvalidAttribute,
		},
		{
			name:    "missing value type",
			attrs:   []Attribute{attr("x", KindDynamic, "", nil)},
			wantErr: ErrInvalidAttribute,
		},
		{
			name: "repeated label",
			attrs: []Attribute{
				attr("x", KindDynamic, "float", nil),
				attr("x", KindActuator, "bool", nil),
			},
			wantErr: ErrRepeatedAttribute,
		},
		{
			name: "repeated metadata label",
			attrs: []Attribute{
				attr("x", KindDynamic, "float", nil, meta("unit"), meta("unit")),
			},
			wantErr: ErrRepeatedAttribute,
		},
		{
			name: "metadata nested too deep",
			attrs: []Attribute{
				attr("x", KindDynamic, "float", nil,
					attr("unit", KindMeta, "string", nil, meta("deeper"))),
			},
			wantErr: ErrMetadataTooDeep,
		},
		{
			name: "same label on different levels",
			attrs: []Attribute{
				attr("x", KindDynamic, "float", nil, meta("x")),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTree(tt.attrs)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateTree() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateTree() error = %v, want %v", err, tt.wantErr)
			}
			if !IsValidation(err) {
				t.Errorf("ValidateTree() error is not a validation error: %v", err)
			}
		})
	}
}

func TestAttributeClone_Independent(t *testing.T) {
	orig := attr("x", KindStatic, "string", strPtr("a"), attr("unit", KindMeta, "string", strPtr("m")))
	c := orig.Clone()

	*c.StaticValue = "b"
	*c.Metadata[0].StaticValue = "n"
	c.Metadata = append(c.Metadata, attr("extra", KindMeta, "string", nil))

	if *orig.StaticValue != "a" {
		t.Errorf("original static value = %q, want %q", *orig.StaticValue, "a")
	}
	if *orig.Metadata[0].StaticValue != "m" {
		t.Errorf("original metadata value = %q, want %q", *orig.Metadata[0].StaticValue, "m")
	}
	if len(orig.Metadata) != 1 {
		t.Errorf("original metadata len = %d, want 1", len(orig.Metadata))
	}
}

func TestErrorsMatchByReason(t *testing.T) {
	err := withDetail(ErrLabelInUse, "label %q is taken", "x")
	if !errors.Is(err, ErrLabelInUse) {
		t.Errorf("errors.Is(%v, ErrLabelInUse) = false", err)
	}
	if errors.Is(err, ErrDeviceIDInUse) {
		t.Errorf("errors.Is(%v, ErrDeviceIDInUse) = true", err)
	}
	if got := Reason(err); got != "label-already-in-use" {
		t.Errorf("Reason() = %q, want label-already-in-use", got)
	}
	if got := err.Error(); got != `device: label-already-in-use: label "x" is taken` {
		t.Errorf("Error() = %q", got)
	}
	if Reason(ErrIDSpaceExhausted) != "" {
		t.Error("plain errors carry no reason")
	}
}
