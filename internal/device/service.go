package device

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/nerrad567/devmgr/internal/notify"
)

// Logger defines the logging interface used by the services.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Notifier publishes change events. Publishing never fails the caller.
type Notifier interface {
	Publish(ctx context.Context, ev notify.Event)
}

// Cipher seals pre-shared keys for storage and opens them for internal views.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypter
}

// BatchRecorder receives the outcome of every committed batch.
type BatchRecorder interface {
	WriteBatchResult(tenant string, successes, failures int)
}

// Config tunes the device service.
type Config struct {
	// KeyLengthMax is the largest key length gen_psk accepts.
	KeyLengthMax int

	// DefaultPageSize is used when a listing does not choose one.
	DefaultPageSize int
}

// DefaultConfig returns the limits used when none are configured.
func DefaultConfig() Config {
	return Config{KeyLengthMax: 1024, DefaultPageSize: 20}
}

// Service is the device side of the registry. Every operation runs in its
// own unit of work, commits at most once and publishes events only after
// the commit succeeded.
//
// Thread Safety: safe for concurrent use; isolation comes from the store.
type Service struct {
	store     Store
	notifier  Notifier
	cipher    Cipher
	assembler *Assembler
	batches   BatchRecorder
	cfg       Config
	logger    Logger
	now       func() time.Time
}

// NewService wires the device service. A nil assembler draws ids with the
// default generator.
func NewService(store Store, notifier Notifier, cipher Cipher, assembler *Assembler, cfg Config) *Service {
	if assembler == nil {
		assembler = NewAssembler(nil)
	}
	def := DefaultConfig()
	if cfg.KeyLengthMax <= 0 {
		cfg.KeyLengthMax = def.KeyLengthMax
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = def.DefaultPageSize
	}
	return &Service{
		store:     store,
		notifier:  notifier,
		cipher:    cipher,
		assembler: assembler,
		cfg:       cfg,
		logger:    noopLogger{},
		now:       now,
	}
}

// SetLogger sets the logger for the service.
func (s *Service) SetLogger(logger Logger) {
	s.logger = logger
}

// SetBatchRecorder registers where batch outcomes are reported.
func (s *Service) SetBatchRecorder(r BatchRecorder) {
	s.batches = r
}

// inTx runs fn in a unit of work and commits when it succeeds.
func inTx(ctx context.Context, store Store, tenant string, fn func(tx Tx) error) error {
	tx, err := store.Begin(ctx, tenant)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// readTx runs fn in a unit of work that is always rolled back.
func readTx(ctx context.Context, store Store, tenant string, fn func(tx Tx) error) error {
	tx, err := store.Begin(ctx, tenant)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}

// viewer builds device views, loading each template once.
type viewer struct {
	tx        Tx
	templates map[int64]*Template
	logger    Logger
}

func newViewer(tx Tx, logger Logger) *viewer {
	return &viewer{tx: tx, templates: make(map[int64]*Template), logger: logger}
}

func (v *viewer) load(ctx context.Context, ids []int64) (map[int64]*Template, error) {
	out := make(map[int64]*Template, len(ids))
	for _, id := range ids {
		t, ok := v.templates[id]
		if !ok {
			var err error
			if t, err = v.tx.GetTemplate(ctx, id); err != nil {
				return nil, err
			}
			v.templates[id] = t
		}
		out[id] = t
	}
	return out, nil
}

func (v *viewer) view(ctx context.Context, d *Device) (*View, error) {
	templates, err := v.load(ctx, d.Templates)
	if err != nil {
		return nil, fmt.Errorf("loading templates of device %s: %w", d.ID, err)
	}
	view, dangling := BuildView(d, templates)
	for _, o := range dangling {
		v.logger.Warn("override references unknown attribute",
			"device_id", d.ID, "attr_id", o.AttrID, "template_id", o.TemplateID)
	}
	return view, nil
}

// CreateResult is the outcome of CreateDevices. Devices holds full views
// when verbose was requested and summaries otherwise.
type CreateResult struct {
	Message string `json:"message"`
	Devices any    `json:"devices"`
}

// CreateDevices creates count devices from one input.
//
// count above 1 forces generated ids and numbers the labels. Inline attrs
// define an auto-created template when no templates are given and carry
// per-device static values otherwise.
func (s *Service) CreateDevices(ctx context.Context, tenant string, in DeviceInput, count int, verbose bool) (*CreateResult, error) {
	if count < 1 {
		return nil, withDetail(ErrInvalidCount, "count must be a positive integer")
	}
	if verbose && count != 1 {
		return nil, withDetail(ErrVerboseWithCount, "verbose can only be used for single device creation")
	}
	if in.Label == "" {
		return nil, withDetail(ErrInvalidLabel, "device label is required")
	}
	inlineTemplate := len(in.Templates) == 0 && len(in.Attrs) > 0
	if inlineTemplate {
		if err := ValidateTree(in.Attrs); err != nil {
			return nil, err
		}
	}

	var staged []*Staged
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		for i := 0; i < count; i++ {
			spec := Spec{Label: in.Label, Templates: in.Templates, Attrs: in.Attrs}
			if count == 1 {
				spec.ID = in.ID
			} else {
				spec.Label = indexedLabel(in.Label, i, count)
			}
			if inlineTemplate {
				if err := s.inlineTemplate(ctx, tx, &spec); err != nil {
					return err
				}
			}
			st, err := s.assembler.Insert(ctx, tx, spec)
			if err != nil {
				return err
			}
			staged = append(staged, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	views := make([]*View, len(staged))
	for i, st := range staged {
		views[i] = st.View()
		s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindCreate, tenant, views[i].ID, views[i]))
	}
	s.logger.Info("devices created", "tenant", tenant, "count", len(views))

	if verbose {
		return &CreateResult{Message: "device created", Devices: views}, nil
	}
	summaries := make([]Summary, len(views))
	for i, v := range views {
		summaries[i] = Summary{ID: v.ID, Label: v.Label}
	}
	return &CreateResult{Message: "devices created", Devices: summaries}, nil
}

// inlineTemplate stores spec.Attrs as a template of their own, named after
// the device, and binds the device to it. The device id is fixed first so
// the template can carry it.
func (s *Service) inlineTemplate(ctx context.Context, tx Tx, spec *Spec) error {
	if spec.ID == "" {
		id, err := s.assembler.ids.Generate(ctx, tx.DeviceExists)
		if err != nil {
			return err
		}
		spec.ID = id
	} else if !ValidDeviceID(spec.ID) {
		return withDetail(ErrInvalidDeviceID, "%q is not 2 to 6 hex digits", spec.ID)
	}

	tmpl := &Template{
		Label:   fmt.Sprintf("device.%s template", spec.ID),
		Attrs:   stripIDs(CloneAttributes(spec.Attrs)),
		Created: s.now(),
	}
	if err := tx.InsertTemplate(ctx, tmpl); err != nil {
		return err
	}
	spec.Templates = []int64{tmpl.ID}
	spec.Attrs = nil
	return nil
}

func stripIDs(attrs []Attribute) []Attribute {
	for i := range attrs {
		attrs[i].ID = 0
		attrs[i].TemplateID = 0
		attrs[i].ParentID = nil
		attrs[i].IsStaticOverridden = nil
		attrs[i].Created = time.Time{}
		attrs[i].Updated = nil
		attrs[i].Metadata = stripIDs(attrs[i].Metadata)
	}
	return attrs
}

// GetDevice returns the full view of one device. sensitive reveals the
// decrypted pre-shared keys.
func (s *Service) GetDevice(ctx context.Context, tenant, id string, sensitive bool) (*View, error) {
	var view *View
	err := readTx(ctx, s.store, tenant, func(tx Tx) error {
		d, err := tx.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		if view, err = newViewer(tx, s.logger).view(ctx, d); err != nil {
			return err
		}
		if sensitive {
			return RevealPSKs(view, d.PreSharedKeys, s.cipher)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DeviceList is one page of devices.
type DeviceList struct {
	Devices    []*View    `json:"devices"`
	Pagination Pagination `json:"pagination"`
}

// defaultPage fills an unset page number with 1 and an unset size with size.
func defaultPage(p Page, size int) (Page, error) {
	if p.Size == 0 {
		p.Size = size
	}
	if p.Num == 0 {
		p.Num = 1
	}
	return p, p.Validate()
}

// ListDevices returns one page of devices matching f.
func (s *Service) ListDevices(ctx context.Context, tenant string, f DeviceFilter, sensitive bool) (*DeviceList, error) {
	p, err := defaultPage(f.Page, s.cfg.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	f.Page = p

	list := &DeviceList{Devices: []*View{}}
	err = readTx(ctx, s.store, tenant, func(tx Tx) error {
		devices, total, err := tx.ListDevices(ctx, f)
		if err != nil {
			return err
		}
		vw := newViewer(tx, s.logger)
		for i := range devices {
			view, err := vw.view(ctx, &devices[i])
			if err != nil {
				return err
			}
			if sensitive {
				if err := RevealPSKs(view, devices[i].PreSharedKeys, s.cipher); err != nil {
					return err
				}
			}
			list.Devices = append(list.Devices, view)
		}
		list.Pagination = NewPagination(f.Page, total)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// ListDeviceIDs returns the ids of every device matching f, unpaginated.
func (s *Service) ListDeviceIDs(ctx context.Context, tenant string, f DeviceFilter) ([]string, error) {
	f.Page = Page{}
	ids := []string{}
	err := readTx(ctx, s.store, tenant, func(tx Tx) error {
		devices, _, err := tx.ListDevices(ctx, f)
		if err != nil {
			return err
		}
		for _, d := range devices {
			ids = append(ids, d.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DevicesByTemplate lists the devices a template is attached to.
func (s *Service) DevicesByTemplate(ctx context.Context, tenant string, templateID int64, p Page) (*DeviceList, error) {
	err := readTx(ctx, s.store, tenant, func(tx Tx) error {
		_, err := tx.GetTemplate(ctx, templateID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.ListDevices(ctx, tenant, DeviceFilter{TemplateID: templateID, Page: p}, false)
}

// UpdateDevice replaces the label, templates and overrides of a device.
// The id and creation time are kept; keys survive for psk attributes that
// are still on the device.
func (s *Service) UpdateDevice(ctx context.Context, tenant, id string, in DeviceInput) (*View, error) {
	if in.Label == "" {
		return nil, withDetail(ErrInvalidLabel, "device label is required")
	}
	inlineTemplate := len(in.Templates) == 0 && len(in.Attrs) > 0
	if inlineTemplate {
		if err := ValidateTree(in.Attrs); err != nil {
			return nil, err
		}
	}

	var staged *Staged
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		old, err := tx.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteDevice(ctx, id); err != nil {
			return err
		}
		now := s.now()
		spec := Spec{
			ID:            id,
			Label:         in.Label,
			Templates:     in.Templates,
			Attrs:         in.Attrs,
			Created:       old.Created,
			Updated:       &now,
			PreSharedKeys: old.PreSharedKeys,
		}
		if inlineTemplate {
			if err := s.inlineTemplate(ctx, tx, &spec); err != nil {
				return err
			}
		}
		staged, err = s.assembler.Insert(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}

	view := staged.View()
	s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindUpdate, tenant, id, view))
	s.logger.Info("device updated", "tenant", tenant, "device_id", id)
	return view, nil
}

// DeleteDevice removes a device with its overrides and keys.
func (s *Service) DeleteDevice(ctx context.Context, tenant, id string) (*View, error) {
	var view *View
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		d, err := tx.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		if view, err = newViewer(tx, s.logger).view(ctx, d); err != nil {
			return err
		}
		return tx.DeleteDevice(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindRemove, tenant, id, view))
	s.logger.Info("device removed", "tenant", tenant, "device_id", id)
	return view, nil
}

// DeleteAllDevices removes every device of the tenant.
func (s *Service) DeleteAllDevices(ctx context.Context, tenant string) ([]*View, error) {
	views := []*View{}
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		devices, _, err := tx.ListDevices(ctx, DeviceFilter{Sort: Sort{Field: "id"}})
		if err != nil {
			return err
		}
		vw := newViewer(tx, s.logger)
		for i := range devices {
			view, err := vw.view(ctx, &devices[i])
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return tx.DeleteAllDevices(ctx)
	})
	if err != nil {
		return nil, err
	}

	for _, v := range views {
		s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindRemove, tenant, v.ID, v))
	}
	s.logger.Info("devices removed", "tenant", tenant, "count", len(views))
	return views, nil
}

// ConfigureDevice asks the device to apply attrs. Every label must name an
// actuator attribute of the device; nothing is stored.
func (s *Service) ConfigureDevice(ctx context.Context, tenant, id string, attrs map[string]any) error {
	if len(attrs) == 0 {
		return withDetail(ErrInvalidPayload, "attrs must not be empty")
	}
	err := readTx(ctx, s.store, tenant, func(tx Tx) error {
		d, err := tx.GetDevice(ctx, id)
		if err != nil {
			return err
		}
		templates, err := newViewer(tx, s.logger).load(ctx, d.Templates)
		if err != nil {
			return err
		}
		ordered := make([]*Template, 0, len(d.Templates))
		for _, tid := range d.Templates {
			ordered = append(ordered, templates[tid])
		}

		var invalid []string
		for label := range attrs {
			_, a := findAttrByLabel(ordered, label)
			if a == nil || a.Kind != KindActuator {
				invalid = append(invalid, label)
			}
		}
		if len(invalid) > 0 {
			sort.Strings(invalid)
			return &BusinessError{
				Reason:  ErrNotActuator.Reason,
				Message: "some of the attributes are not configurable",
				Details: invalid,
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.notifier.Publish(ctx, notify.ConfigureEvent(tenant, id, attrs, s.now()))
	s.logger.Debug("device configured", "tenant", tenant, "device_id", id, "attrs", len(attrs))
	return nil
}

// AddTemplate attaches a template to a device. The resulting template set
// must pass the same label check as a new device.
func (s *Service) AddTemplate(ctx context.Context, tenant, deviceID string, templateID int64) (*View, error) {
	return s.changeTemplates(ctx, tenant, deviceID, func(tx Tx, d *Device) error {
		if slices.Contains(d.Templates, templateID) {
			return withDetail(ErrDuplicatedAttribute, "template %d is already attached to device %s", templateID, deviceID)
		}
		if _, err := LoadTemplates(ctx, tx, append(slices.Clone(d.Templates), templateID)); err != nil {
			return err
		}
		return tx.AttachTemplate(ctx, deviceID, templateID)
	})
}

// RemoveTemplate detaches a template from a device. The last template
// cannot be removed.
func (s *Service) RemoveTemplate(ctx context.Context, tenant, deviceID string, templateID int64) (*View, error) {
	return s.changeTemplates(ctx, tenant, deviceID, func(tx Tx, d *Device) error {
		if !slices.Contains(d.Templates, templateID) {
			return withDetail(ErrTemplateNotAttached, "template %d is not attached to device %s", templateID, deviceID)
		}
		if len(d.Templates) == 1 {
			return withDetail(ErrNoTemplates, "device %s would be left without templates", deviceID)
		}
		return tx.DetachTemplate(ctx, deviceID, templateID)
	})
}

func (s *Service) changeTemplates(ctx context.Context, tenant, deviceID string, change func(Tx, *Device) error) (*View, error) {
	var view *View
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		d, err := tx.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		if err := change(tx, d); err != nil {
			return err
		}
		if err := tx.TouchDevice(ctx, deviceID, s.now()); err != nil {
			return err
		}
		if d, err = tx.GetDevice(ctx, deviceID); err != nil {
			return err
		}
		view, err = newViewer(tx, s.logger).view(ctx, d)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindUpdate, tenant, deviceID, view))
	return view, nil
}
