package poingest

import (
	"context"
	"fmt"
	"sync"

	"github.com/karlseguin/typed"
)

// fakeSource is a scripted PageFetcher. Offsets without a scripted page yield
// an empty terminal page, which is how the upstream answers past its data.
type fakeSource struct {
	mu        sync.Mutex
	pages     map[int]Page
	errAt     map[int]error
	requested []int
	windows   []DateWindow
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: map[int]Page{},
		errAt: map[int]error{},
	}
}

func (s *fakeSource) addPage(offset, items int, hasMore bool) {
	s.pages[offset] = Page{
		Offset:   offset,
		Items:    makeOrders(offset, items),
		Returned: items,
		HasMore:  hasMore,
	}
}

func (s *fakeSource) FetchPage(ctx context.Context, offset, limit int, window DateWindow) (*Page, error) {
	s.mu.Lock()
	s.requested = append(s.requested, offset)
	s.windows = append(s.windows, window)
	s.mu.Unlock()

	if err, ok := s.errAt[offset]; ok {
		return nil, err
	}
	if p, ok := s.pages[offset]; ok {
		page := p
		return &page, nil
	}
	return &Page{Offset: offset}, nil
}

func (s *fakeSource) requestedOffsets() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.requested...)
}

// makeOrders builds n orders, one line item each, with identities unique per
// offset so records from different pages never collide.
func makeOrders(offset, n int) []typed.Typed {
	orders := make([]typed.Typed, 0, n)
	for i := 0; i < n; i++ {
		orders = append(orders, typed.Typed{
			"purchase_order_id": fmt.Sprintf("PO-%06d", offset+i),
			"created_date":      "2025-03-10T08:00:00Z",
			"status":            "open",
			"supplier_id":       "SUP-1",
			"items": []interface{}{
				map[string]interface{}{
					"item_number": "10",
					"product_id":  fmt.Sprintf("MAT-%06d", offset+i),
					"quantity":    float64(2),
					"unit_price":  float64(9.5),
					"net_value":   float64(19),
				},
			},
		})
	}
	return orders
}

// collectResults drains a fetch channel into a map by offset.
func collectResults(ch <-chan PageResult) map[int]PageResult {
	out := map[int]PageResult{}
	for r := range ch {
		out[r.Offset] = r
	}
	return out
}
