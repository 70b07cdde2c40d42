package device

import (
	"context"
)

// LoadTemplates resolves the templates a device is to be bound to.
//
// Templates are returned in the order of ids. Attribute labels are claimed
// per label only: any label seen twice fails with ErrDuplicatedAttribute,
// including when the same template id is listed twice.
func LoadTemplates(ctx context.Context, src TemplateGetter, ids []int64) ([]*Template, error) {
	if len(ids) == 0 {
		return nil, withDetail(ErrNoTemplates, "a device needs at least one template")
	}

	claimed := make(map[string]int64)
	out := make([]*Template, 0, len(ids))
	for _, id := range ids {
		tmpl, err := src.GetTemplate(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, a := range tmpl.Attrs {
			if owner, seen := claimed[a.Label]; seen {
				return nil, withDetail(ErrDuplicatedAttribute,
					"attribute %q is defined by templates %d and %d", a.Label, owner, id)
			}
			claimed[a.Label] = id
		}
		out = append(out, tmpl)
	}
	return out, nil
}

// templateIndex keys loaded templates by id.
func templateIndex(templates []*Template) map[int64]*Template {
	idx := make(map[int64]*Template, len(templates))
	for _, t := range templates {
		idx[t.ID] = t
	}
	return idx
}
