package device

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/devmgr/internal/notify"
)

func TestBatchRequest_Validate(t *testing.T) {
	valid := BatchRequest{Prefix: "device", Quantity: 3, InitialSuffix: 0, Templates: []int64{1}}

	tests := []struct {
		name    string
		mutate  func(r *BatchRequest)
		tenant  string
		wantErr error
	}{
		{name: "valid", mutate: func(*BatchRequest) {}, tenant: testTenant},
		{name: "empty prefix", mutate: func(r *BatchRequest) { r.Prefix = "" }, tenant: testTenant, wantErr: ErrInvalidBatchPrefix},
		{name: "zero quantity", mutate: func(r *BatchRequest) { r.Quantity = 0 }, tenant: testTenant, wantErr: ErrInvalidBatchQuantity},
		{name: "negative quantity", mutate: func(r *BatchRequest) { r.Quantity = -2 }, tenant: testTenant, wantErr: ErrInvalidBatchQuantity},
		{name: "negative suffix", mutate: func(r *BatchRequest) { r.InitialSuffix = -1 }, tenant: testTenant, wantErr: ErrInvalidBatchSuffix},
		{name: "no templates", mutate: func(r *BatchRequest) { r.Templates = nil }, tenant: testTenant, wantErr: ErrInvalidBatchTemplates},
		{name: "no tenant", mutate: func(*BatchRequest) {}, tenant: "", wantErr: ErrInvalidBatchTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			err := r.Validate(tt.tenant)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) || !IsValidation(err) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateDevicesInBatch_InvalidRequestTouchesNothing(t *testing.T) {
	f := newFixture(t)
	f.reset()

	_, err := f.devices.CreateDevicesInBatch(context.Background(), testTenant, BatchRequest{Prefix: "d", Quantity: 0, Templates: []int64{1}})
	if !errors.Is(err, ErrInvalidBatchQuantity) {
		t.Fatalf("CreateDevicesInBatch() error = %v, want ErrInvalidBatchQuantity", err)
	}
	if f.store.begins != 0 {
		t.Errorf("units of work opened = %d, want 0", f.store.begins)
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestCreateDevicesInBatch_AllSucceed(t *testing.T) {
	f := newFixture(t)
	power := f.template(t, "power", attr("voltage", KindDynamic, "float", nil))
	f.reset()

	res, err := f.devices.CreateDevicesInBatch(context.Background(), testTenant,
		BatchRequest{Prefix: "device", Quantity: 3, Templates: []int64{power.ID}})
	if err != nil {
		t.Fatalf("CreateDevicesInBatch() error = %v", err)
	}
	if res.DevicesWithError || len(res.Failures) != 0 {
		t.Errorf("failures = %v", res.Failures)
	}
	want := []string{"device-0", "device-1", "device-2"}
	if len(res.Successes) != len(want) {
		t.Fatalf("successes = %d, want %d", len(res.Successes), len(want))
	}
	for i, v := range res.Successes {
		if v.Label != want[i] {
			t.Errorf("success[%d] = %q, want %q", i, v.Label, want[i])
		}
		if len(v.Attrs[power.ID]) != 1 {
			t.Errorf("success[%d] is not a full view", i)
		}
	}
	if f.store.Commits() != 1 {
		t.Errorf("commits = %d, want 1", f.store.Commits())
	}

	events := f.events.Events()
	if len(events) != 3 {
		t.Fatalf("events = %d, want 3", len(events))
	}
	for i, ev := range events {
		if ev.Event != notify.KindCreate || ev.EntityID != res.Successes[i].ID || ev.Tenant() != testTenant {
			t.Errorf("event[%d] = %s %s/%s", i, ev.Event, ev.Tenant(), ev.EntityID)
		}
	}
}

func TestCreateDevicesInBatch_PartialFailure(t *testing.T) {
	f := newFixture(t)
	power := f.template(t, "power", attr("voltage", KindDynamic, "float", nil))
	f.device(t, DeviceInput{Label: "device-11", Templates: []int64{power.ID}})
	f.device(t, DeviceInput{Label: "device-13", Templates: []int64{power.ID}})
	f.reset()

	res, err := f.devices.CreateDevicesInBatch(context.Background(), testTenant,
		BatchRequest{Prefix: "device", Quantity: 5, InitialSuffix: 10, Templates: []int64{power.ID}})
	if err != nil {
		t.Fatalf("CreateDevicesInBatch() error = %v", err)
	}

	var labels []string
	for _, v := range res.Successes {
		labels = append(labels, v.Label)
	}
	if len(labels) != 3 || labels[0] != "device-10" || labels[1] != "device-12" || labels[2] != "device-14" {
		t.Errorf("successes = %v, want [device-10 device-12 device-14]", labels)
	}
	wantFailures := []BatchFailure{
		{Label: "device-11", Reason: "label-already-in-use"},
		{Label: "device-13", Reason: "label-already-in-use"},
	}
	if len(res.Failures) != len(wantFailures) {
		t.Fatalf("failures = %v, want %v", res.Failures, wantFailures)
	}
	for i := range wantFailures {
		if res.Failures[i] != wantFailures[i] {
			t.Errorf("failure[%d] = %+v, want %+v", i, res.Failures[i], wantFailures[i])
		}
	}
	if !res.DevicesWithError {
		t.Error("devicesWithError = false, want true")
	}
	if f.store.Commits() != 1 {
		t.Errorf("commits = %d, want 1", f.store.Commits())
	}
	if n := len(f.events.Events()); n != 3 {
		t.Errorf("events = %d, want 3", n)
	}

	list, err := f.devices.ListDevices(context.Background(), testTenant, DeviceFilter{Label: "device-1"}, false)
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	if len(list.Devices) != 5 {
		t.Errorf("stored devices = %d, want 5", len(list.Devices))
	}
}

func TestCreateDevicesInBatch_UnknownTemplateFailsEveryDevice(t *testing.T) {
	f := newFixture(t)
	f.reset()

	res, err := f.devices.CreateDevicesInBatch(context.Background(), testTenant,
		BatchRequest{Prefix: "x", Quantity: 2, Templates: []int64{404}})
	if err != nil {
		t.Fatalf("CreateDevicesInBatch() error = %v", err)
	}
	if len(res.Successes) != 0 || len(res.Failures) != 2 {
		t.Fatalf("result = %d successes, %d failures", len(res.Successes), len(res.Failures))
	}
	if res.Failures[0].Reason != "template-id-does-not-exist" {
		t.Errorf("reason = %q", res.Failures[0].Reason)
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}
}

func TestCreateDevicesInBatch_SystemErrorAborts(t *testing.T) {
	f := newFixture(t)
	power := f.template(t, "power", attr("voltage", KindDynamic, "float", nil))
	f.device(t, DeviceInput{ID: "beef", Label: "existing", Templates: []int64{power.ID}})

	ids := NewIDGenerator(3)
	// The first candidate is free, every later one collides.
	ids.candidate = func() func() (string, error) {
		n := 0
		return func() (string, error) {
			n++
			if n == 1 {
				return "0001", nil
			}
			return "beef", nil
		}
	}()
	svc := NewService(f.store, f.events, fakeCipher{}, NewAssembler(ids), DefaultConfig())
	f.reset()

	_, err := svc.CreateDevicesInBatch(context.Background(), testTenant,
		BatchRequest{Prefix: "device", Quantity: 3, Templates: []int64{power.ID}})
	if !errors.Is(err, ErrIDSpaceExhausted) {
		t.Fatalf("CreateDevicesInBatch() error = %v, want ErrIDSpaceExhausted", err)
	}
	if f.store.Commits() != 0 {
		t.Errorf("commits = %d, want 0", f.store.Commits())
	}
	if n := len(f.events.Events()); n != 0 {
		t.Errorf("events = %d, want 0", n)
	}

	_, err = f.devices.GetDevice(context.Background(), testTenant, "0001", false)
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

type batchCall struct {
	tenant              string
	successes, failures int
}

type recordingBatches struct {
	mu    sync.Mutex
	calls []batchCall
}

func (r *recordingBatches) WriteBatchResult(tenant string, successes, failures int) {
	r.mu.Lock()
	r.calls = append(r.calls, batchCall{tenant, successes, failures})
	r.mu.Unlock()
}

func TestCreateDevicesInBatch_RecordsOutcome(t *testing.T) {
	f := newFixture(t)
	power := f.template(t, "power", attr("voltage", KindDynamic, "float", nil))
	f.device(t, DeviceInput{Label: "node-1", Templates: []int64{power.ID}})

	rec := &recordingBatches{}
	f.devices.SetBatchRecorder(rec)

	if _, err := f.devices.CreateDevicesInBatch(context.Background(), testTenant,
		BatchRequest{Prefix: "node", Quantity: 2, Templates: []int64{power.ID}}); err != nil {
		t.Fatalf("CreateDevicesInBatch() error = %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("recorder calls = %d, want 1", len(rec.calls))
	}
	if got := rec.calls[0]; got != (batchCall{testTenant, 1, 1}) {
		t.Errorf("recorded %+v, want {%s 1 1}", got, testTenant)
	}
}
