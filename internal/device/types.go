package device

import (
	"fmt"
	"strings"
	"time"
)

// Template is a reusable named bundle of attribute definitions.
type Template struct {
	ID      int64       `json:"id"`
	Label   string      `json:"label"`
	Attrs   []Attribute `json:"attrs"`
	Created time.Time   `json:"created"`
	Updated *time.Time  `json:"updated,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	c := *t
	c.Attrs = CloneAttributes(t.Attrs)
	if t.Updated != nil {
		u := *t.Updated
		c.Updated = &u
	}
	return &c
}

// FindAttribute returns the top-level attribute with the given id.
func (t *Template) FindAttribute(id int64) *Attribute {
	for i := range t.Attrs {
		if t.Attrs[i].ID == id {
			return &t.Attrs[i]
		}
	}
	return nil
}

// Device is the stored device aggregate.
type Device struct {
	ID      string
	Label   string
	Created time.Time
	Updated *time.Time

	// Templates holds the attached template ids in attachment order.
	Templates []int64

	Overrides     []Override
	PreSharedKeys []PreSharedKey
}

// Override replaces the default static value of one template attribute or
// metadata entry for a single device.
//
// TemplateID is the template owning the attribute (or its parent for
// metadata). ParentID is set only for metadata overrides.
type Override struct {
	AttrID      int64
	TemplateID  int64
	ParentID    *int64
	StaticValue string
}

// PreSharedKey is the encrypted secret bound to a psk attribute of a device.
type PreSharedKey struct {
	AttrID     int64
	TemplateID int64
	Key        []byte
}

// AttrsByTemplate is the dumped attribute tree of a device keyed by the
// template contributing each list.
type AttrsByTemplate map[int64][]Attribute

// View is the full external representation of a device.
type View struct {
	ID        string          `json:"id"`
	Label     string          `json:"label"`
	Created   time.Time       `json:"created"`
	Updated   *time.Time      `json:"updated,omitempty"`
	Templates []int64         `json:"templates"`
	Attrs     AttrsByTemplate `json:"attrs"`
}

// Summary is the short representation returned when many devices are created.
type Summary struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// DeviceInput is a create or update request for one device.
type DeviceInput struct {
	ID        string      `json:"id,omitempty"`
	Label     string      `json:"label" validate:"required"`
	Templates []int64     `json:"templates"`
	Attrs     []Attribute `json:"attrs,omitempty"`
}

// AttrMatch filters on an attribute label whose effective static value
// (override first, template default second) equals Value.
type AttrMatch struct {
	Label string
	Value string
}

// ParseAttrMatch parses "label=value".
func ParseAttrMatch(s string) (AttrMatch, error) {
	label, value, ok := strings.Cut(s, "=")
	if !ok || label == "" {
		return AttrMatch{}, withDetail(ErrInvalidPayload, "attr filter %q is not label=value", s)
	}
	return AttrMatch{Label: label, Value: value}, nil
}

// Page selects one page of a listing. Num starts at 1.
type Page struct {
	Num  int
	Size int
}

// Validate rejects pages below 1.
func (p Page) Validate() error {
	if p.Num < 1 || p.Size < 1 {
		return withDetail(ErrInvalidPagination, "page_num and page_size must be at least 1")
	}
	return nil
}

// Pagination describes where a page sits in the full result.
// Total is the number of pages.
type Pagination struct {
	Page     int  `json:"page"`
	Total    int  `json:"total"`
	HasNext  bool `json:"has_next"`
	NextPage *int `json:"next_page"`
}

// NewPagination computes pagination for a page over count rows.
func NewPagination(p Page, count int) Pagination {
	pages := 0
	if p.Size > 0 {
		pages = (count + p.Size - 1) / p.Size
	}
	pg := Pagination{Page: p.Num, Total: pages}
	if p.Num < pages {
		next := p.Num + 1
		pg.HasNext = true
		pg.NextPage = &next
	}
	return pg
}

// Sort orders a listing by one column.
type Sort struct {
	Field string
	Desc  bool
}

var sortFields = map[string]struct{}{
	"id":      {},
	"label":   {},
	"created": {},
	"updated": {},
}

// ParseSort parses "[asc:|desc:]field". An empty string sorts by label.
func ParseSort(s string) (Sort, error) {
	if s == "" {
		return Sort{Field: "label"}, nil
	}
	var sort Sort
	switch {
	case strings.HasPrefix(s, "asc:"):
		s = strings.TrimPrefix(s, "asc:")
	case strings.HasPrefix(s, "desc:"):
		s = strings.TrimPrefix(s, "desc:")
		sort.Desc = true
	}
	if _, ok := sortFields[s]; !ok {
		return Sort{}, withDetail(ErrInvalidSort, "cannot sort by %q", s)
	}
	sort.Field = s
	return sort, nil
}

func (s Sort) orderBy() string {
	col := s.Field
	switch col {
	case "created":
		col = "created_at"
	case "updated":
		col = "updated_at"
	case "":
		col = "label"
	}
	if s.Desc {
		return col + " DESC"
	}
	return col + " ASC"
}

// DeviceFilter narrows a device listing. Zero values do not filter.
type DeviceFilter struct {
	Label      string
	TemplateID int64
	Attrs      []AttrMatch
	AttrTypes  []string
	Sort       Sort
	Page       Page
}

// TemplateFilter narrows a template listing. Zero values do not filter.
type TemplateFilter struct {
	Label     string
	Attrs     []AttrMatch
	AttrTypes []string
	Sort      Sort
	Page      Page
}

// indexedLabel numbers a label when several devices share a base label:
// base_01 .. base_12 for count 12.
func indexedLabel(base string, i, count int) string {
	width := len(fmt.Sprintf("%d", count))
	return fmt.Sprintf("%s_%0*d", base, width, i)
}
