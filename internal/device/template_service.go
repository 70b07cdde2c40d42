package device

import (
	"context"
	"time"

	"github.com/nerrad567/devmgr/internal/notify"
)

// TemplateInput is a create or update request for one template.
type TemplateInput struct {
	Label string      `json:"label" validate:"required"`
	Attrs []Attribute `json:"attrs"`
}

// Attribute list layouts for template responses.
const (
	AttrFormatBoth   = "both"
	AttrFormatSplit  = "split"
	AttrFormatSingle = "single"
)

// TemplateView is the external representation of a template. Depending on
// the requested layout it carries the full attribute list, the list split
// into data and configuration attributes, or both.
type TemplateView struct {
	ID          int64       `json:"id"`
	Label       string      `json:"label"`
	Created     time.Time   `json:"created"`
	Updated     *time.Time  `json:"updated,omitempty"`
	Attrs       []Attribute `json:"attrs,omitempty"`
	DataAttrs   []Attribute `json:"data_attrs,omitempty"`
	ConfigAttrs []Attribute `json:"config_attrs,omitempty"`
}

// ViewTemplate lays out t for a response. Configuration attributes are the
// meta kind; everything else is data. Unknown layouts fall back to both.
func ViewTemplate(t *Template, format string) TemplateView {
	v := TemplateView{ID: t.ID, Label: t.Label, Created: t.Created, Updated: t.Updated}
	if format != AttrFormatSplit {
		v.Attrs = t.Attrs
		if v.Attrs == nil {
			v.Attrs = []Attribute{}
		}
	}
	if format == AttrFormatSingle {
		return v
	}
	v.DataAttrs = []Attribute{}
	v.ConfigAttrs = []Attribute{}
	for _, a := range t.Attrs {
		if a.Kind == KindMeta {
			v.ConfigAttrs = append(v.ConfigAttrs, a)
		} else {
			v.DataAttrs = append(v.DataAttrs, a)
		}
	}
	return v
}

// TemplateService is the template side of the registry.
type TemplateService struct {
	store    Store
	notifier Notifier
	cfg      Config
	logger   Logger
	now      func() time.Time
}

// NewTemplateService wires the template service.
func NewTemplateService(store Store, notifier Notifier, cfg Config) *TemplateService {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = DefaultConfig().DefaultPageSize
	}
	return &TemplateService{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   noopLogger{},
		now:      now,
	}
}

// SetLogger sets the logger for the service.
func (s *TemplateService) SetLogger(logger Logger) {
	s.logger = logger
}

// Create stores a new template with its attributes and metadata.
func (s *TemplateService) Create(ctx context.Context, tenant string, in TemplateInput) (*Template, error) {
	if in.Label == "" {
		return nil, withDetail(ErrInvalidLabel, "template label is required")
	}
	if err := ValidateTree(in.Attrs); err != nil {
		return nil, err
	}

	tmpl := &Template{Label: in.Label, Attrs: stripIDs(CloneAttributes(in.Attrs)), Created: s.now()}
	if tmpl.Attrs == nil {
		tmpl.Attrs = []Attribute{}
	}
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		if err := tx.InsertTemplate(ctx, tmpl); err != nil {
			return err
		}
		stored, err := tx.GetTemplate(ctx, tmpl.ID)
		if err != nil {
			return err
		}
		tmpl = stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("template created", "tenant", tenant, "template_id", tmpl.ID)
	return tmpl, nil
}

// Get returns one template.
func (s *TemplateService) Get(ctx context.Context, tenant string, id int64) (*Template, error) {
	var tmpl *Template
	err := readTx(ctx, s.store, tenant, func(tx Tx) error {
		var err error
		tmpl, err = tx.GetTemplate(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

// TemplateList is one page of templates.
type TemplateList struct {
	Templates  []Template `json:"templates"`
	Pagination Pagination `json:"pagination"`
}

// List returns one page of templates matching f.
func (s *TemplateService) List(ctx context.Context, tenant string, f TemplateFilter) (*TemplateList, error) {
	p, err := defaultPage(f.Page, s.cfg.DefaultPageSize)
	if err != nil {
		return nil, err
	}
	f.Page = p

	list := &TemplateList{}
	err = readTx(ctx, s.store, tenant, func(tx Tx) error {
		templates, total, err := tx.ListTemplates(ctx, f)
		if err != nil {
			return err
		}
		list.Templates = templates
		list.Pagination = NewPagination(f.Page, total)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Delete removes a template that no device uses.
func (s *TemplateService) Delete(ctx context.Context, tenant string, id int64) (*Template, error) {
	var tmpl *Template
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		var err error
		if tmpl, err = tx.GetTemplate(ctx, id); err != nil {
			return err
		}
		return tx.DeleteTemplate(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("template removed", "tenant", tenant, "template_id", id)
	return tmpl, nil
}

// DeleteAll removes every template of the tenant. It fails as a whole when
// any of them is still in use.
func (s *TemplateService) DeleteAll(ctx context.Context, tenant string) ([]Template, error) {
	var removed []Template
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		var err error
		if removed, _, err = tx.ListTemplates(ctx, TemplateFilter{Sort: Sort{Field: "id"}}); err != nil {
			return err
		}
		return tx.DeleteAllTemplates(ctx)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("templates removed", "tenant", tenant, "count", len(removed))
	return removed, nil
}

// Update changes a template's label and reconciles its attributes with the
// request, matching them by label and type:
//   - matched attributes take the requested value type and default
//   - stored attributes missing from the request are removed
//   - requested attributes missing from storage are added
//
// Metadata of matched attributes is reconciled the same way. The updated
// timestamp moves only when attributes were added or removed. Every device
// using the template is announced as updated, followed by one template
// update event listing them.
func (s *TemplateService) Update(ctx context.Context, tenant string, id int64, in TemplateInput) (*Template, error) {
	if in.Label == "" {
		return nil, withDetail(ErrInvalidLabel, "template label is required")
	}
	if err := ValidateTree(in.Attrs); err != nil {
		return nil, err
	}

	var (
		tmpl     *Template
		affected []string
		views    []*View
	)
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		old, err := tx.GetTemplate(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.UpdateTemplateLabel(ctx, id, in.Label); err != nil {
			return err
		}

		now := s.now()
		r := reconciler{tx: tx, templateID: id, now: now}
		if err := r.reconcile(ctx, old.Attrs, CloneAttributes(in.Attrs), nil); err != nil {
			return err
		}
		if r.structural {
			if err := tx.TouchTemplate(ctx, id, now); err != nil {
				return err
			}
		}

		if tmpl, err = tx.GetTemplate(ctx, id); err != nil {
			return err
		}
		if affected, err = tx.TemplateDeviceIDs(ctx, id); err != nil {
			return err
		}
		vw := newViewer(tx, s.logger)
		for _, devID := range affected {
			d, err := tx.GetDevice(ctx, devID)
			if err != nil {
				return err
			}
			// The new attribute set must still be free of label clashes on
			// every device using it.
			if _, err := LoadTemplates(ctx, tx, d.Templates); err != nil {
				return err
			}
			view, err := vw.view(ctx, d)
			if err != nil {
				return err
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, v := range views {
		s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindUpdate, tenant, v.ID, v))
	}
	s.notifier.Publish(ctx, notify.TemplateUpdateEvent(tenant, id, affected, tmpl))
	s.logger.Info("template updated", "tenant", tenant, "template_id", id, "affected", len(affected))
	return tmpl, nil
}

// reconciler applies a requested attribute list onto the stored one.
type reconciler struct {
	tx         Tx
	templateID int64
	now        time.Time
	structural bool
}

func (r *reconciler) reconcile(ctx context.Context, stored, requested []Attribute, parent *int64) error {
	remaining := requested
	for _, cur := range stored {
		idx := -1
		for i, req := range remaining {
			if req.Label == cur.Label && req.Kind == cur.Kind {
				idx = i
				break
			}
		}
		if idx < 0 {
			if err := r.tx.DeleteAttribute(ctx, cur.ID); err != nil {
				return err
			}
			r.structural = true
			continue
		}

		req := remaining[idx]
		remaining = append(remaining[:idx:idx], remaining[idx+1:]...)

		cur.ValueType = req.ValueType
		cur.StaticValue = req.StaticValue
		updated := r.now
		cur.Updated = &updated
		if err := r.tx.UpdateAttribute(ctx, cur); err != nil {
			return err
		}
		if parent == nil {
			p := cur.ID
			if err := r.reconcile(ctx, cur.Metadata, req.Metadata, &p); err != nil {
				return err
			}
		}
	}

	for i := range remaining {
		a := stripIDs([]Attribute{remaining[i]})[0]
		a.Created = r.now
		if err := r.tx.InsertAttribute(ctx, r.templateID, parent, &a); err != nil {
			return err
		}
		r.structural = true
		if parent != nil {
			continue
		}
		for j := range a.Metadata {
			p := a.ID
			m := a.Metadata[j]
			m.Created = r.now
			if err := r.tx.InsertAttribute(ctx, 0, &p, &m); err != nil {
				return err
			}
		}
	}
	return nil
}
