package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// timeFormat is fixed width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SQLiteStore implements Store on the registry database.
//
// The database is opened with a single connection, so an open Tx holds it
// exclusively and units of work are serialised process-wide.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over an open database with the registry
// migrations applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Begin starts a unit of work for tenant.
func (s *SQLiteStore) Begin(ctx context.Context, tenant string) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqliteTx{tx: tx, tenant: tenant}, nil
}

type sqliteTx struct {
	tx     *sql.Tx
	tenant string
	spSeq  int
}

func (t *sqliteTx) Tenant() string { return t.tenant }

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", mapConstraint(err, nil))
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

// mapConstraint turns constraint violations into business errors. fk is the
// error reported for foreign key failures in the calling context; nil keeps
// the driver error.
func mapConstraint(err error, fk error) error {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return err
	}
	msg := se.Error()
	switch se.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
		switch {
		case strings.Contains(msg, "devices.id"):
			return withDetail(ErrDeviceIDInUse, "device id is already in use")
		case strings.Contains(msg, "devices.label"):
			return withDetail(ErrLabelInUse, "device label is already in use")
		case strings.Contains(msg, "attrs.label"):
			return withDetail(ErrDuplicatedAttrLabel, "attribute label repeats within the template")
		}
	case sqlite3.ErrConstraintForeignKey:
		if fk != nil {
			return fk
		}
	}
	return err
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// --- templates ---

func (t *sqliteTx) GetTemplate(ctx context.Context, id int64) (*Template, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, label, created_at, updated_at FROM templates WHERE tenant = ? AND id = ?`,
		t.tenant, id)
	tmpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withDetail(ErrTemplateNotFound, "template %d does not exist", id)
		}
		return nil, fmt.Errorf("querying template %d: %w", id, err)
	}
	if tmpl.Attrs, err = t.loadAttrs(ctx, id); err != nil {
		return nil, err
	}
	return tmpl, nil
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		tmpl    Template
		created string
		updated sql.NullString
	)
	if err := row.Scan(&tmpl.ID, &tmpl.Label, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if tmpl.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if tmpl.Updated, err = parseTimePtr(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &tmpl, nil
}

const attrColumns = `id, template_id, parent_id, label, type, value_type, static_value, created_at, updated_at`

func scanAttr(row rowScanner) (Attribute, error) {
	var (
		a        Attribute
		tmplID   sql.NullInt64
		parentID sql.NullInt64
		static   sql.NullString
		created  string
		updated  sql.NullString
		kind     string
	)
	if err := row.Scan(&a.ID, &tmplID, &parentID, &a.Label, &kind, &a.ValueType, &static, &created, &updated); err != nil {
		return a, err
	}
	a.Kind = AttrKind(kind)
	a.TemplateID = tmplID.Int64
	if parentID.Valid {
		p := parentID.Int64
		a.ParentID = &p
	}
	if static.Valid {
		s := static.String
		a.StaticValue = &s
	}
	var err error
	if a.Created, err = parseTime(created); err != nil {
		return a, fmt.Errorf("parsing created_at: %w", err)
	}
	if a.Updated, err = parseTimePtr(updated); err != nil {
		return a, fmt.Errorf("parsing updated_at: %w", err)
	}
	return a, nil
}

// loadAttrs reads the attribute tree of one template in insertion order.
func (t *sqliteTx) loadAttrs(ctx context.Context, templateID int64) ([]Attribute, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+attrColumns+` FROM attrs
		WHERE template_id = ?
		   OR parent_id IN (SELECT id FROM attrs WHERE template_id = ?)
		ORDER BY id`, templateID, templateID)
	if err != nil {
		return nil, fmt.Errorf("querying attrs of template %d: %w", templateID, err)
	}
	defer rows.Close()

	var (
		top      []Attribute
		children = make(map[int64][]Attribute)
	)
	for rows.Next() {
		a, err := scanAttr(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning attr: %w", err)
		}
		if a.ParentID != nil {
			children[*a.ParentID] = append(children[*a.ParentID], a)
			continue
		}
		top = append(top, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attrs: %w", err)
	}
	for i := range top {
		top[i].Metadata = children[top[i].ID]
	}
	if top == nil {
		top = []Attribute{}
	}
	return top, nil
}

func (t *sqliteTx) ListTemplates(ctx context.Context, f TemplateFilter) ([]Template, int, error) {
	where := []string{"t.tenant = ?"}
	args := []any{t.tenant}
	if f.Label != "" {
		where = append(where, "t.label LIKE ?")
		args = append(args, "%"+f.Label+"%")
	}
	for _, m := range f.Attrs {
		where = append(where, `EXISTS (SELECT 1 FROM attrs a WHERE a.template_id = t.id AND a.label = ? AND a.static_value = ?)`)
		args = append(args, m.Label, m.Value)
	}
	if len(f.AttrTypes) > 0 {
		where = append(where, `EXISTS (SELECT 1 FROM attrs a WHERE a.template_id = t.id AND a.value_type IN (`+placeholders(len(f.AttrTypes))+`))`)
		for _, vt := range f.AttrTypes {
			args = append(args, vt)
		}
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates t WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting templates: %w", err)
	}

	query := `SELECT t.id FROM templates t WHERE ` + clause + ` ORDER BY t.` + f.Sort.orderBy() + `, t.id`
	query, args = paginate(query, args, f.Page)
	ids, err := t.queryInt64s(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing templates: %w", err)
	}

	out := make([]Template, 0, len(ids))
	for _, id := range ids {
		tmpl, err := t.GetTemplate(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *tmpl)
	}
	return out, total, nil
}

func (t *sqliteTx) InsertTemplate(ctx context.Context, tmpl *Template) error {
	if tmpl.Created.IsZero() {
		tmpl.Created = time.Now().UTC()
	}
	var (
		res sql.Result
		err error
	)
	if tmpl.ID != 0 {
		res, err = t.tx.ExecContext(ctx,
			`INSERT INTO templates (id, tenant, label, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			tmpl.ID, t.tenant, tmpl.Label, formatTime(tmpl.Created), formatTimePtr(tmpl.Updated))
	} else {
		res, err = t.tx.ExecContext(ctx,
			`INSERT INTO templates (tenant, label, created_at, updated_at) VALUES (?, ?, ?, ?)`,
			t.tenant, tmpl.Label, formatTime(tmpl.Created), formatTimePtr(tmpl.Updated))
	}
	if err != nil {
		return fmt.Errorf("inserting template: %w", mapConstraint(err, nil))
	}
	if tmpl.ID == 0 {
		if tmpl.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading template id: %w", err)
		}
	}

	for i := range tmpl.Attrs {
		a := &tmpl.Attrs[i]
		if err := t.InsertAttribute(ctx, tmpl.ID, nil, a); err != nil {
			return err
		}
		for j := range a.Metadata {
			parent := a.ID
			if err := t.InsertAttribute(ctx, 0, &parent, &a.Metadata[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// InsertAttribute stores one attribute. Top-level attributes pass the
// template id and a nil parent; metadata passes the parent id.
func (t *sqliteTx) InsertAttribute(ctx context.Context, templateID int64, parentID *int64, a *Attribute) error {
	if a.Created.IsZero() {
		a.Created = time.Now().UTC()
	}
	var tmpl, parent sql.NullInt64
	if parentID != nil {
		parent = sql.NullInt64{Int64: *parentID, Valid: true}
		a.TemplateID = 0
		p := *parentID
		a.ParentID = &p
	} else {
		tmpl = sql.NullInt64{Int64: templateID, Valid: true}
		a.TemplateID = templateID
		a.ParentID = nil
	}
	static := sql.NullString{}
	if a.StaticValue != nil {
		static = sql.NullString{String: *a.StaticValue, Valid: true}
	}

	var id any
	if a.ID != 0 {
		id = a.ID
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO attrs (id, template_id, parent_id, label, type, value_type, static_value, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, tmpl, parent, a.Label, string(a.Kind), a.ValueType, static,
		formatTime(a.Created), formatTimePtr(a.Updated))
	if err != nil {
		return fmt.Errorf("inserting attr %q: %w", a.Label, mapConstraint(err, nil))
	}
	if a.ID == 0 {
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("reading attr id: %w", err)
		}
	}
	return nil
}

func (t *sqliteTx) UpdateTemplateLabel(ctx context.Context, id int64, label string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE templates SET label = ? WHERE tenant = ? AND id = ?`, label, t.tenant, id)
	if err != nil {
		return fmt.Errorf("updating template label: %w", err)
	}
	return expectRow(res, withDetail(ErrTemplateNotFound, "template %d does not exist", id))
}

// UpdateAttribute rewrites the value type and default of a stored attribute.
func (t *sqliteTx) UpdateAttribute(ctx context.Context, a Attribute) error {
	static := sql.NullString{}
	if a.StaticValue != nil {
		static = sql.NullString{String: *a.StaticValue, Valid: true}
	}
	now := time.Now().UTC()
	if a.Updated != nil {
		now = *a.Updated
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE attrs SET value_type = ?, static_value = ?, updated_at = ? WHERE id = ?`,
		a.ValueType, static, formatTime(now), a.ID)
	if err != nil {
		return fmt.Errorf("updating attr %d: %w", a.ID, err)
	}
	return expectRow(res, withDetail(ErrAttributeNotFound, "attribute %d does not exist", a.ID))
}

func (t *sqliteTx) DeleteAttribute(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM attrs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting attr %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTx) TouchTemplate(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE templates SET updated_at = ? WHERE tenant = ? AND id = ?`, formatTime(at), t.tenant, id)
	if err != nil {
		return fmt.Errorf("touching template %d: %w", id, err)
	}
	return nil
}

func (t *sqliteTx) DeleteTemplate(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM templates WHERE tenant = ? AND id = ?`, t.tenant, id)
	if err != nil {
		return fmt.Errorf("deleting template %d: %w", id,
			mapConstraint(err, withDetail(ErrTemplateInUse, "template %d is attached to devices", id)))
	}
	return expectRow(res, withDetail(ErrTemplateNotFound, "template %d does not exist", id))
}

func (t *sqliteTx) DeleteAllTemplates(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM templates WHERE tenant = ?`, t.tenant); err != nil {
		return fmt.Errorf("deleting templates: %w",
			mapConstraint(err, withDetail(ErrTemplateInUse, "templates are attached to devices")))
	}
	return nil
}

func (t *sqliteTx) TemplateDeviceIDs(ctx context.Context, templateID int64) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT device_id FROM device_template WHERE tenant = ? AND template_id = ? ORDER BY device_id`,
		t.tenant, templateID)
	if err != nil {
		return nil, fmt.Errorf("querying template devices: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- devices ---

func (t *sqliteTx) DeviceExists(ctx context.Context, id string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE tenant = ? AND id = ?`, t.tenant, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking device id: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) LabelInUse(ctx context.Context, label string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE tenant = ? AND label = ?`, t.tenant, label).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking device label: %w", err)
	}
	return n > 0, nil
}

func (t *sqliteTx) GetDevice(ctx context.Context, id string) (*Device, error) {
	var (
		d       Device
		created string
		updated sql.NullString
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, label, created_at, updated_at FROM devices WHERE tenant = ? AND id = ?`,
		t.tenant, id).Scan(&d.ID, &d.Label, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withDetail(ErrDeviceNotFound, "device %s does not exist", id)
		}
		return nil, fmt.Errorf("querying device %s: %w", id, err)
	}
	if d.Created, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.Updated, err = parseTimePtr(updated); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if d.Templates, err = t.queryInt64s(ctx,
		`SELECT template_id FROM device_template WHERE tenant = ? AND device_id = ? ORDER BY position`,
		t.tenant, id); err != nil {
		return nil, fmt.Errorf("querying device templates: %w", err)
	}
	if d.Overrides, err = t.loadOverrides(ctx, id); err != nil {
		return nil, err
	}
	if d.PreSharedKeys, err = t.loadPSKs(ctx, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *sqliteTx) loadOverrides(ctx context.Context, deviceID string) ([]Override, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT o.attr_id, COALESCE(a.template_id, p.template_id), a.parent_id, o.static_value
		FROM overrides o
		JOIN attrs a ON a.id = o.attr_id
		LEFT JOIN attrs p ON p.id = a.parent_id
		WHERE o.tenant = ? AND o.device_id = ?
		ORDER BY o.attr_id`, t.tenant, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var (
			o      Override
			parent sql.NullInt64
		)
		if err := rows.Scan(&o.AttrID, &o.TemplateID, &parent, &o.StaticValue); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		if parent.Valid {
			p := parent.Int64
			o.ParentID = &p
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *sqliteTx) loadPSKs(ctx context.Context, deviceID string) ([]PreSharedKey, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT k.attr_id, COALESCE(a.template_id, p.template_id), k.psk
		FROM pre_shared_keys k
		JOIN attrs a ON a.id = k.attr_id
		LEFT JOIN attrs p ON p.id = a.parent_id
		WHERE k.tenant = ? AND k.device_id = ?
		ORDER BY k.attr_id`, t.tenant, deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying pre-shared keys: %w", err)
	}
	defer rows.Close()

	var out []PreSharedKey
	for rows.Next() {
		var k PreSharedKey
		if err := rows.Scan(&k.AttrID, &k.TemplateID, &k.Key); err != nil {
			return nil, fmt.Errorf("scanning pre-shared key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (t *sqliteTx) ListDevices(ctx context.Context, f DeviceFilter) ([]Device, int, error) {
	where := []string{"d.tenant = ?"}
	args := []any{t.tenant}
	if f.Label != "" {
		where = append(where, "d.label LIKE ?")
		args = append(args, "%"+f.Label+"%")
	}
	if f.TemplateID != 0 {
		where = append(where, `EXISTS (SELECT 1 FROM device_template dt
			WHERE dt.tenant = d.tenant AND dt.device_id = d.id AND dt.template_id = ?)`)
		args = append(args, f.TemplateID)
	}
	for _, m := range f.Attrs {
		// The device's override wins over the template default.
		where = append(where, `EXISTS (SELECT 1 FROM device_template dt
			JOIN attrs a ON a.template_id = dt.template_id
			LEFT JOIN overrides o ON o.tenant = dt.tenant AND o.device_id = dt.device_id AND o.attr_id = a.id
			WHERE dt.tenant = d.tenant AND dt.device_id = d.id
			  AND a.label = ? AND COALESCE(o.static_value, a.static_value) = ?)`)
		args = append(args, m.Label, m.Value)
	}
	if len(f.AttrTypes) > 0 {
		where = append(where, `EXISTS (SELECT 1 FROM device_template dt
			JOIN attrs a ON a.template_id = dt.template_id
			WHERE dt.tenant = d.tenant AND dt.device_id = d.id
			  AND a.value_type IN (`+placeholders(len(f.AttrTypes))+`))`)
		for _, vt := range f.AttrTypes {
			args = append(args, vt)
		}
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices d WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting devices: %w", err)
	}

	query := `SELECT d.id FROM devices d WHERE ` + clause + ` ORDER BY d.` + f.Sort.orderBy() + `, d.id`
	query, args = paginate(query, args, f.Page)

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing devices: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, 0, fmt.Errorf("scanning device id: %w", err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, 0, fmt.Errorf("iterating devices: %w", err)
	}

	out := make([]Device, 0, len(ids))
	for _, id := range ids {
		d, err := t.GetDevice(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	return out, total, nil
}

// InsertDevice writes the device inside a savepoint so a failing device in a
// batch does not poison the rest of the transaction.
func (t *sqliteTx) InsertDevice(ctx context.Context, d *Device) (err error) {
	t.spSeq++
	sp := fmt.Sprintf("insert_device_%d", t.spSeq)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return fmt.Errorf("opening savepoint: %w", err)
	}
	defer func() {
		if err != nil {
			_, _ = t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		}
		_, _ = t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
	}()

	if d.Created.IsZero() {
		d.Created = time.Now().UTC()
	}
	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO devices (tenant, id, label, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.tenant, d.ID, d.Label, formatTime(d.Created), formatTimePtr(d.Updated))
	if err != nil {
		return fmt.Errorf("inserting device %s: %w", d.ID, mapConstraint(err, nil))
	}

	for i, tmplID := range d.Templates {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO device_template (tenant, device_id, template_id, position) VALUES (?, ?, ?, ?)`,
			t.tenant, d.ID, tmplID, i)
		if err != nil {
			return fmt.Errorf("attaching template %d: %w", tmplID,
				mapConstraint(err, withDetail(ErrTemplateNotFound, "template %d does not exist", tmplID)))
		}
	}

	for _, o := range d.Overrides {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO overrides (tenant, device_id, attr_id, static_value) VALUES (?, ?, ?, ?)`,
			t.tenant, d.ID, o.AttrID, o.StaticValue)
		if err != nil {
			return fmt.Errorf("inserting override for attr %d: %w", o.AttrID,
				mapConstraint(err, withDetail(ErrUnknownOverride, "attribute %d does not exist", o.AttrID)))
		}
	}

	for _, k := range d.PreSharedKeys {
		_, err = t.tx.ExecContext(ctx,
			`INSERT INTO pre_shared_keys (tenant, device_id, attr_id, psk) VALUES (?, ?, ?, ?)`,
			t.tenant, d.ID, k.AttrID, k.Key)
		if err != nil {
			return fmt.Errorf("inserting psk for attr %d: %w", k.AttrID,
				mapConstraint(err, withDetail(ErrAttributeNotFound, "attribute %d does not exist", k.AttrID)))
		}
	}
	return nil
}

func (t *sqliteTx) DeleteDevice(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM devices WHERE tenant = ? AND id = ?`, t.tenant, id)
	if err != nil {
		return fmt.Errorf("deleting device %s: %w", id, err)
	}
	return expectRow(res, withDetail(ErrDeviceNotFound, "device %s does not exist", id))
}

func (t *sqliteTx) DeleteAllDevices(ctx context.Context) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM devices WHERE tenant = ?`, t.tenant); err != nil {
		return fmt.Errorf("deleting devices: %w", err)
	}
	return nil
}

func (t *sqliteTx) TouchDevice(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE devices SET updated_at = ? WHERE tenant = ? AND id = ?`, formatTime(at), t.tenant, id)
	if err != nil {
		return fmt.Errorf("touching device %s: %w", id, err)
	}
	return expectRow(res, withDetail(ErrDeviceNotFound, "device %s does not exist", id))
}

func (t *sqliteTx) AttachTemplate(ctx context.Context, deviceID string, templateID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO device_template (tenant, device_id, template_id, position)
		SELECT ?, ?, ?, COALESCE(MAX(position) + 1, 0)
		FROM device_template WHERE tenant = ? AND device_id = ?`,
		t.tenant, deviceID, templateID, t.tenant, deviceID)
	if err != nil {
		return fmt.Errorf("attaching template %d: %w", templateID,
			mapConstraint(err, withDetail(ErrTemplateNotFound, "template %d does not exist", templateID)))
	}
	return nil
}

func (t *sqliteTx) DetachTemplate(ctx context.Context, deviceID string, templateID int64) error {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM device_template WHERE tenant = ? AND device_id = ? AND template_id = ?`,
		t.tenant, deviceID, templateID)
	if err != nil {
		return fmt.Errorf("detaching template %d: %w", templateID, err)
	}
	if err := expectRow(res, withDetail(ErrTemplateNotAttached,
		"template %d is not attached to device %s", templateID, deviceID)); err != nil {
		return err
	}

	owned := `attr_id IN (
		SELECT id FROM attrs WHERE template_id = ?
		UNION SELECT id FROM attrs WHERE parent_id IN (SELECT id FROM attrs WHERE template_id = ?))`
	for _, table := range []string{"overrides", "pre_shared_keys"} {
		_, err := t.tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE tenant = ? AND device_id = ? AND `+owned,
			t.tenant, deviceID, templateID, templateID)
		if err != nil {
			return fmt.Errorf("dropping %s of template %d: %w", table, templateID, err)
		}
	}
	return nil
}

func (t *sqliteTx) UpsertPSK(ctx context.Context, deviceID string, attrID int64, key []byte) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO pre_shared_keys (tenant, device_id, attr_id, psk) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant, device_id, attr_id) DO UPDATE SET psk = excluded.psk`,
		t.tenant, deviceID, attrID, key)
	if err != nil {
		return fmt.Errorf("storing psk for attr %d: %w", attrID,
			mapConstraint(err, withDetail(ErrDeviceNotFound, "device %s does not exist", deviceID)))
	}
	return nil
}

func (t *sqliteTx) GetPSK(ctx context.Context, deviceID string, attrID int64) ([]byte, error) {
	var key []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT psk FROM pre_shared_keys WHERE tenant = ? AND device_id = ? AND attr_id = ?`,
		t.tenant, deviceID, attrID).Scan(&key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withDetail(ErrPSKNotFound, "device %s has no key for attribute %d", deviceID, attrID)
		}
		return nil, fmt.Errorf("querying psk: %w", err)
	}
	return key, nil
}

// --- helpers ---

func (t *sqliteTx) queryInt64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []int64{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// paginate appends LIMIT/OFFSET. A zero page size returns every row.
func paginate(query string, args []any, p Page) (string, []any) {
	if p.Size <= 0 {
		return query, args
	}
	num := p.Num
	if num < 1 {
		num = 1
	}
	return query + ` LIMIT ? OFFSET ?`, append(args, p.Size, (num-1)*p.Size)
}

// now is the registry clock, truncated to what timeFormat keeps.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
