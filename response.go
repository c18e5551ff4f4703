package poingest

import (
	"encoding/json"

	"github.com/karlseguin/typed"
)

// keys under which upstream responses have been observed to carry the item
// list, in the order they are probed
var resultKeys = []string{"purchase_orders", "data", "value", "results"}

// NormalizePage parses a raw response body into a Page. The upstream is
// inconsistent about shape: sometimes a bare array, sometimes an object with
// the items under one of several keys, sometimes OData-style {"d":{"results":
// [...]}}. Pagination metadata is optional; when absent, returned defaults to
// the item count and has_more to "items non-empty". Anything else is a fatal
// parse error, not a retry candidate.
func NormalizePage(body []byte, offset int) (*Page, error) {
	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, NewIngestError(ErrCodeParse, "malformed JSON in page response, offset:%v", offset, err)
	}

	var items []typed.Typed
	var pagination typed.Typed

	switch v := raw.(type) {
	case []interface{}:
		var ok bool
		if items, ok = itemObjects(v); !ok {
			return nil, NewIngestError(ErrCodeParse, "page response is a list but not of objects, offset:%v", offset)
		}
	case map[string]interface{}:
		root := typed.New(v)
		list, found := findItemList(root)
		if !found {
			return nil, NewIngestError(ErrCodeParse, "page response has no recognized results key, offset:%v", offset)
		}
		var ok bool
		if items, ok = itemObjects(list); !ok {
			return nil, NewIngestError(ErrCodeParse, "page results is not a list of objects, offset:%v", offset)
		}
		if p, exists := root["pagination"]; exists {
			if pm, isMap := p.(map[string]interface{}); isMap {
				pagination = typed.New(pm)
			}
		}
	default:
		return nil, NewIngestError(ErrCodeParse, "page response is neither list nor object, offset:%v", offset)
	}

	page := &Page{
		Offset:   offset,
		Items:    items,
		Returned: len(items),
		HasMore:  len(items) > 0,
	}
	if pagination != nil {
		if n, exists := pagination.IntIf("returned"); exists {
			page.Returned = n
		}
		if b, exists := pagination.BoolIf("has_more"); exists {
			page.HasMore = b
		}
	}
	return page, nil
}

// findItemList locates the item list under one of the recognized keys,
// including the nested OData shape d.results.
func findItemList(root typed.Typed) ([]interface{}, bool) {
	for _, key := range resultKeys {
		if v, exists := root[key]; exists {
			if list, ok := v.([]interface{}); ok {
				return list, true
			}
		}
	}
	if d, exists := root["d"]; exists {
		if dm, ok := d.(map[string]interface{}); ok {
			if v, exists := dm["results"]; exists {
				if list, ok := v.([]interface{}); ok {
					return list, true
				}
			}
		}
	}
	return nil, false
}

func itemObjects(list []interface{}) ([]typed.Typed, bool) {
	items := make([]typed.Typed, 0, len(list))
	for _, e := range list {
		m, ok := e.(map[string]interface{})
		if !ok {
			return nil, false
		}
		items = append(items, typed.New(m))
	}
	return items, true
}
