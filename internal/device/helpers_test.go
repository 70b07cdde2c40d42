package device

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/devmgr/internal/infrastructure/database"
	"github.com/nerrad567/devmgr/internal/notify"
	_ "github.com/nerrad567/devmgr/migrations"
)

const testTenant = "acme"

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

// countingStore counts units of work and commits.
type countingStore struct {
	Store
	mu      sync.Mutex
	begins  int
	commits int
}

func (s *countingStore) Begin(ctx context.Context, tenant string) (Tx, error) {
	tx, err := s.Store.Begin(ctx, tenant)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.begins++
	s.mu.Unlock()
	return &countingTx{Tx: tx, store: s}, nil
}

func (s *countingStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *countingStore) Reset() {
	s.mu.Lock()
	s.begins, s.commits = 0, 0
	s.mu.Unlock()
}

type countingTx struct {
	Tx
	store *countingStore
}

func (t *countingTx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.store.mu.Lock()
	t.store.commits++
	t.store.mu.Unlock()
	return nil
}

// fakeCipher is reversible and marks its output so tests can see that a
// stored key is not plaintext.
type fakeCipher struct{}

var sealedPrefix = []byte("sealed:")

func (fakeCipher) Encrypt(p []byte) ([]byte, error) {
	return append(append([]byte{}, sealedPrefix...), p...), nil
}

func (fakeCipher) Decrypt(c []byte) ([]byte, error) {
	if !bytes.HasPrefix(c, sealedPrefix) {
		return nil, errors.New("not sealed")
	}
	return bytes.TrimPrefix(c, sealedPrefix), nil
}

type fixture struct {
	store     *countingStore
	sqlite    *SQLiteStore
	events    *notify.Recorder
	devices   *Service
	templates *TemplateService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sqlite := openTestStore(t)
	store := &countingStore{Store: sqlite}
	events := &notify.Recorder{}
	cfg := DefaultConfig()
	return &fixture{
		store:     store,
		sqlite:    sqlite,
		events:    events,
		devices:   NewService(store, events, fakeCipher{}, NewAssembler(nil), cfg),
		templates: NewTemplateService(store, events, cfg),
	}
}

// reset forgets events and commits recorded during setup.
func (f *fixture) reset() {
	f.events.Reset()
	f.store.Reset()
}

func (f *fixture) template(t *testing.T, label string, attrs ...Attribute) *Template {
	t.Helper()
	tmpl, err := f.templates.Create(context.Background(), testTenant, TemplateInput{Label: label, Attrs: attrs})
	if err != nil {
		t.Fatalf("Create(%q) error = %v", label, err)
	}
	return tmpl
}

func (f *fixture) device(t *testing.T, in DeviceInput) *View {
	t.Helper()
	res, err := f.devices.CreateDevices(context.Background(), testTenant, in, 1, true)
	if err != nil {
		t.Fatalf("CreateDevices(%q) error = %v", in.Label, err)
	}
	return res.Devices.([]*View)[0]
}

// inspect runs fn in a unit of work that is rolled back afterwards. The
// database has one connection, so fn must not call the services.
func (f *fixture) inspect(t *testing.T, fn func(tx Tx)) {
	t.Helper()
	tx, err := f.sqlite.Begin(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	defer tx.Rollback() //nolint:errcheck // read only
	fn(tx)
}

func strPtr(s string) *string { return &s }

func attr(label string, kind AttrKind, valueType string, static *string, meta ...Attribute) Attribute {
	return Attribute{Label: label, Kind: kind, ValueType: valueType, StaticValue: static, Metadata: meta}
}

func attrByLabel(t *testing.T, attrs []Attribute, label string) Attribute {
	t.Helper()
	for _, a := range attrs {
		if a.Label == label {
			return a
		}
	}
	t.Fatalf("attribute %q not found", label)
	return Attribute{}
}
