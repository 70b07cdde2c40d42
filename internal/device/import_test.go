package device

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/devmgr/internal/notify"
)

func importPayload() ImportPayload {
	return ImportPayload{
		Templates: []Template{
			{ID: 500, Label: "sensor", Attrs: []Attribute{
				{ID: 900, Label: "mode", Kind: KindStatic, ValueType: "string", StaticValue: strPtr("auto")},
				{ID: 901, Label: "humidity", Kind: KindDynamic, ValueType: "float", Metadata: []Attribute{
					{ID: 902, Label: "unit", Kind: KindMeta, ValueType: "string", StaticValue: strPtr("%")},
				}},
			}},
			{ID: 501, Label: "relay", Attrs: []Attribute{
				{ID: 910, Label: "switch", Kind: KindActuator, ValueType: "bool"},
			}},
		},
		Devices: []DeviceInput{
			{ID: "0a01", Label: "greenhouse", Templates: []int64{500, 501}, Attrs: []Attribute{
				{ID: 900, StaticValue: strPtr("manual")},
				{ID: 901, Metadata: []Attribute{{ID: 902, StaticValue: strPtr("ratio")}}},
			}},
			{ID: "0a02", Label: "porch", Templates: []int64{501}},
		},
	}
}

func TestImport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.template(t, "old", attr("x", KindDynamic, "int", nil))
	f.device(t, DeviceInput{ID: "ff01", Label: "legacy", Templates: []int64{old.ID}})
	f.reset()

	im := NewImporter(f.store, f.events, nil)
	res, err := im.Import(ctx, testTenant, importPayload())
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	want := ImportResult{Message: "data imported", Removed: 1, Templates: 2, Devices: 2}
	if *res != want {
		t.Errorf("Import() = %+v, want %+v", *res, want)
	}
	if f.store.Commits() != 1 {
		t.Errorf("commits = %d, want 1", f.store.Commits())
	}

	kinds := f.events.Kinds()
	wantKinds := []notify.Kind{notify.KindRemove, notify.KindCreate, notify.KindCreate}
	if len(kinds) != len(wantKinds) {
		t.Fatalf("events = %v, want %v", kinds, wantKinds)
	}
	for i := range kinds {
		if kinds[i] != wantKinds[i] {
			t.Errorf("event[%d] = %s, want %s", i, kinds[i], wantKinds[i])
		}
	}

	if _, err := f.devices.GetDevice(ctx, testTenant, "ff01", false); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("old device still present: %v", err)
	}
	if _, err := f.templates.Get(ctx, testTenant, old.ID); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("old template still present: %v", err)
	}

	v, err := f.devices.GetDevice(ctx, testTenant, "0a01", false)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if len(v.Templates) != 2 {
		t.Fatalf("templates = %v", v.Templates)
	}
	sensor := v.Attrs[v.Templates[0]]
	if got := attrByLabel(t, sensor, "mode"); *got.StaticValue != "manual" || !*got.IsStaticOverridden {
		t.Errorf("mode = %q", *got.StaticValue)
	}
	if got := attrByLabel(t, sensor, "humidity").Metadata[0]; *got.StaticValue != "ratio" {
		t.Errorf("unit = %q, want ratio", *got.StaticValue)
	}
}

func TestImport_RejectedPayloadKeepsData(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.template(t, "old", attr("x", KindDynamic, "int", nil))
	f.device(t, DeviceInput{ID: "ff01", Label: "legacy", Templates: []int64{old.ID}})
	f.reset()

	tests := []struct {
		name    string
		mutate  func(p *ImportPayload)
		wantErr error
	}{
		{name: "device without id", mutate: func(p *ImportPayload) { p.Devices[1].ID = "" }, wantErr: ErrInvalidPayload},
		{name: "template without label", mutate: func(p *ImportPayload) { p.Templates[0].Label = "" }, wantErr: ErrInvalidLabel},
		{name: "unknown template reference", mutate: func(p *ImportPayload) { p.Devices[1].Templates = []int64{42} }, wantErr: ErrTemplateNotFound},
		{name: "unknown attribute reference", mutate: func(p *ImportPayload) { p.Devices[0].Attrs[0].ID = 1234 }, wantErr: ErrUnknownOverride},
		{name: "duplicate label", mutate: func(p *ImportPayload) { p.Devices[1].Label = "greenhouse" }, wantErr: ErrLabelInUse},
		{name: "malformed device id", mutate: func(p *ImportPayload) { p.Devices[1].ID = "nothex" }, wantErr: ErrInvalidDeviceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := importPayload()
			tt.mutate(&p)
			if _, err := NewImporter(f.store, f.events, nil).Import(ctx, testTenant, p); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Import() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if f.store.Commits() != 0 || len(f.events.Events()) != 0 {
		t.Errorf("rejected imports committed %d times and published %d events", f.store.Commits(), len(f.events.Events()))
	}
	if _, err := f.devices.GetDevice(ctx, testTenant, "ff01", false); err != nil {
		t.Errorf("existing device lost: %v", err)
	}
}
