package device

import (
	"context"
	"time"
)

// Store opens units of work scoped to one tenant.
type Store interface {
	Begin(ctx context.Context, tenant string) (Tx, error)
}

// TemplateGetter looks templates up by id.
// Returns ErrTemplateNotFound when the id does not exist for the tenant.
type TemplateGetter interface {
	GetTemplate(ctx context.Context, id int64) (*Template, error)
}

// Tx is one unit of work. Writes are staged until Commit; Rollback discards
// them. A Tx is not safe for concurrent use.
//
// Constraint violations come back as business errors: a taken device id is
// ErrDeviceIDInUse, a taken label is ErrLabelInUse, removing a referenced
// template is ErrTemplateInUse and a repeated attribute label inside one
// template is ErrDuplicatedAttrLabel.
type Tx interface {
	TemplateGetter

	// Tenant returns the tenant every statement is scoped to.
	Tenant() string

	ListTemplates(ctx context.Context, f TemplateFilter) ([]Template, int, error)

	// InsertTemplate stores t and its attribute tree. Zero ids are assigned
	// by the store and written back into t.
	InsertTemplate(ctx context.Context, t *Template) error
	UpdateTemplateLabel(ctx context.Context, id int64, label string) error
	InsertAttribute(ctx context.Context, templateID int64, parentID *int64, a *Attribute) error
	UpdateAttribute(ctx context.Context, a Attribute) error
	DeleteAttribute(ctx context.Context, id int64) error
	TouchTemplate(ctx context.Context, id int64, at time.Time) error
	DeleteTemplate(ctx context.Context, id int64) error
	DeleteAllTemplates(ctx context.Context) error

	// TemplateDeviceIDs lists the devices a template is attached to.
	TemplateDeviceIDs(ctx context.Context, templateID int64) ([]string, error)

	DeviceExists(ctx context.Context, id string) (bool, error)
	LabelInUse(ctx context.Context, label string) (bool, error)
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context, f DeviceFilter) ([]Device, int, error)

	// InsertDevice stages d with its template links, overrides and keys.
	// A failure leaves nothing of d behind and the Tx usable.
	InsertDevice(ctx context.Context, d *Device) error
	DeleteDevice(ctx context.Context, id string) error
	DeleteAllDevices(ctx context.Context) error
	TouchDevice(ctx context.Context, id string, at time.Time) error
	AttachTemplate(ctx context.Context, deviceID string, templateID int64) error

	// DetachTemplate also drops the device's overrides and keys on the
	// template's attributes.
	DetachTemplate(ctx context.Context, deviceID string, templateID int64) error

	UpsertPSK(ctx context.Context, deviceID string, attrID int64, key []byte) error
	GetPSK(ctx context.Context, deviceID string, attrID int64) ([]byte, error)

	Commit() error
	Rollback() error
}
