package device

import (
	"context"
	"time"

	"github.com/nerrad567/devmgr/internal/notify"
)

// ImportPayload is a tenant's complete dataset.
//
// Template and attribute ids in the payload are references only: templates
// get fresh ids on import and the devices' template lists and static values
// are translated to them. Device ids are kept.
type ImportPayload struct {
	Templates []Template    `json:"templates"`
	Devices   []DeviceInput `json:"devices"`
}

// ImportResult counts what was replaced.
type ImportResult struct {
	Message   string `json:"message"`
	Removed   int    `json:"removed"`
	Templates int    `json:"templates"`
	Devices   int    `json:"devices"`
}

// Importer replaces a tenant's templates and devices in one unit of work.
type Importer struct {
	store     Store
	notifier  Notifier
	assembler *Assembler
	logger    Logger
	now       func() time.Time
}

// NewImporter wires an importer.
func NewImporter(store Store, notifier Notifier, assembler *Assembler) *Importer {
	if assembler == nil {
		assembler = NewAssembler(nil)
	}
	return &Importer{
		store:     store,
		notifier:  notifier,
		assembler: assembler,
		logger:    noopLogger{},
		now:       now,
	}
}

// SetLogger sets the logger for the importer.
func (im *Importer) SetLogger(logger Logger) {
	im.logger = logger
}

// Import drops every device and template of the tenant and stores the
// payload instead. Remove events for the previous devices and create events
// for the imported ones follow the commit.
func (im *Importer) Import(ctx context.Context, tenant string, p ImportPayload) (*ImportResult, error) {
	for i := range p.Templates {
		if p.Templates[i].Label == "" {
			return nil, withDetail(ErrInvalidLabel, "template %d has no label", p.Templates[i].ID)
		}
		if err := ValidateTree(p.Templates[i].Attrs); err != nil {
			return nil, err
		}
	}
	for _, d := range p.Devices {
		if d.ID == "" {
			return nil, withDetail(ErrInvalidPayload, "imported device %q has no id", d.Label)
		}
	}

	var (
		removed []*View
		created []*View
	)
	err := inTx(ctx, im.store, tenant, func(tx Tx) error {
		previous, _, err := tx.ListDevices(ctx, DeviceFilter{Sort: Sort{Field: "id"}})
		if err != nil {
			return err
		}
		vw := newViewer(tx, im.logger)
		for i := range previous {
			v, err := vw.view(ctx, &previous[i])
			if err != nil {
				return err
			}
			removed = append(removed, v)
		}
		if err := tx.DeleteAllDevices(ctx); err != nil {
			return err
		}
		if err := tx.DeleteAllTemplates(ctx); err != nil {
			return err
		}

		ids := idMap{templates: map[int64]int64{}, attrs: map[int64]int64{}}
		for i := range p.Templates {
			if err := ids.insertTemplate(ctx, tx, &p.Templates[i], im.now()); err != nil {
				return err
			}
		}

		for _, in := range p.Devices {
			spec, err := ids.spec(in)
			if err != nil {
				return err
			}
			st, err := im.assembler.Insert(ctx, tx, spec)
			if err != nil {
				return err
			}
			created = append(created, st.View())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range removed {
		im.notifier.Publish(ctx, notify.DeviceEvent(notify.KindRemove, tenant, v.ID, v))
	}
	for _, v := range created {
		im.notifier.Publish(ctx, notify.DeviceEvent(notify.KindCreate, tenant, v.ID, v))
	}
	im.logger.Info("tenant data imported",
		"tenant", tenant, "removed", len(removed), "templates", len(p.Templates), "devices", len(created))

	return &ImportResult{
		Message:   "data imported",
		Removed:   len(removed),
		Templates: len(p.Templates),
		Devices:   len(created),
	}, nil
}

// idMap translates payload ids to stored ids.
type idMap struct {
	templates map[int64]int64
	attrs     map[int64]int64
}

func (m *idMap) insertTemplate(ctx context.Context, tx Tx, src *Template, now time.Time) error {
	tmpl := &Template{
		Label:   src.Label,
		Attrs:   stripIDs(CloneAttributes(src.Attrs)),
		Created: src.Created,
		Updated: src.Updated,
	}
	if tmpl.Created.IsZero() {
		tmpl.Created = now
	}
	if err := tx.InsertTemplate(ctx, tmpl); err != nil {
		return err
	}
	if src.ID != 0 {
		m.templates[src.ID] = tmpl.ID
	}
	for i, a := range src.Attrs {
		if a.ID != 0 {
			m.attrs[a.ID] = tmpl.Attrs[i].ID
		}
		for j, meta := range a.Metadata {
			if meta.ID != 0 {
				m.attrs[meta.ID] = tmpl.Attrs[i].Metadata[j].ID
			}
		}
	}
	return nil
}

func (m *idMap) spec(in DeviceInput) (Spec, error) {
	spec := Spec{ID: in.ID, Label: in.Label}
	for _, id := range in.Templates {
		stored, ok := m.templates[id]
		if !ok {
			return Spec{}, withDetail(ErrTemplateNotFound, "device %s references template %d which is not imported", in.ID, id)
		}
		spec.Templates = append(spec.Templates, stored)
	}
	spec.Attrs = CloneAttributes(in.Attrs)
	for i := range spec.Attrs {
		a := &spec.Attrs[i]
		if a.ID = m.attrs[a.ID]; a.ID == 0 {
			return Spec{}, withDetail(ErrUnknownOverride, "device %s overrides an attribute which is not imported", in.ID)
		}
		for j := range a.Metadata {
			meta := &a.Metadata[j]
			if meta.ID = m.attrs[meta.ID]; meta.ID == 0 {
				return Spec{}, withDetail(ErrUnknownOverride, "device %s overrides metadata which is not imported", in.ID)
			}
		}
	}
	return spec, nil
}
