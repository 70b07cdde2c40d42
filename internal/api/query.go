package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devmgr/internal/device"
)

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidPayload(name + " must be an integer")
	}
	return n, nil
}

// queryBool reads a boolean query parameter. Absent means false.
func queryBool(q url.Values, name string) (bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, invalidPayload(name + " must be true or false")
	}
	return b, nil
}

// queryList collects a parameter given either repeated or comma separated.
func queryList(q url.Values, name string) []string {
	var out []string
	for _, v := range q[name] {
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// queryPage reads page_num and page_size. Zero values are left for the
// service to default.
func queryPage(q url.Values) (device.Page, error) {
	num, err := queryInt(q, "page_num", 0)
	if err != nil {
		return device.Page{}, err
	}
	size, err := queryInt(q, "page_size", 0)
	if err != nil {
		return device.Page{}, err
	}
	if q.Has("page_num") && num < 1 || q.Has("page_size") && size < 1 {
		return device.Page{}, &device.ValidationError{
			Reason:  device.ErrInvalidPagination.Reason,
			Message: "page_num and page_size must be at least 1",
		}
	}
	return device.Page{Num: num, Size: size}, nil
}

// queryAttrs parses every attr=label=value filter.
func queryAttrs(q url.Values) ([]device.AttrMatch, error) {
	var matches []device.AttrMatch
	for _, raw := range q["attr"] {
		m, err := device.ParseAttrMatch(raw)
		if err != nil {
			return nil, err
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// deviceFilter builds a device listing filter from the query string.
func deviceFilter(q url.Values) (device.DeviceFilter, error) {
	var f device.DeviceFilter
	var err error

	f.Label = q.Get("label")
	if raw := q.Get("template"); raw != "" {
		if f.TemplateID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return f, invalidPayload("template must be an integer")
		}
	}
	if f.Attrs, err = queryAttrs(q); err != nil {
		return f, err
	}
	f.AttrTypes = queryList(q, "attr_type")
	if f.Sort, err = device.ParseSort(q.Get("sortBy")); err != nil {
		return f, err
	}
	f.Page, err = queryPage(q)
	return f, err
}

// templateFilter builds a template listing filter from the query string.
func templateFilter(q url.Values) (device.TemplateFilter, error) {
	var f device.TemplateFilter
	var err error

	f.Label = q.Get("label")
	if f.Attrs, err = queryAttrs(q); err != nil {
		return f, err
	}
	f.AttrTypes = queryList(q, "attr_type")
	if f.Sort, err = device.ParseSort(q.Get("sortBy")); err != nil {
		return f, err
	}
	f.Page, err = queryPage(q)
	return f, err
}

// templateIDParam reads an integer template id URL parameter.
func templateIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, invalidPayload(name + " must be an integer")
	}
	return id, nil
}
