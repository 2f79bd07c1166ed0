package client

import (
	"context"
	"fmt"
)

// ChangeIterator walks every result of a query across pages, following
// the resume cursor embedded in truncated pages. Pages are fetched
// lazily, one request per page. Use it like a scanner:
//
//	it := client.Changes().QueryAll("status:open", QueryOptions{Limit: 500})
//	for it.Next(ctx) {
//		handle(it.Change())
//	}
//	if err := it.Err(); err != nil { ... }
type ChangeIterator struct {
	service *ChangeService
	query   string
	opts    QueryOptions

	cursor  string
	page    []Change
	pos     int
	done    bool
	seen    map[string]struct{}
	current Change
	err     error
}

// QueryAll returns an iterator over all changes matching the query. A
// non-empty opts.Cursor restarts iteration after a previously returned
// item.
func (s *ChangeService) QueryAll(query string, opts QueryOptions) *ChangeIterator {
	return &ChangeIterator{
		service: s,
		query:   query,
		opts:    opts,
		cursor:  opts.Cursor,
		seen:    map[string]struct{}{},
	}
}

// Next advances to the next change. It returns false when the results
// are exhausted or an error occurred.
func (it *ChangeIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for {
		for it.pos < len(it.page) {
			change := it.page[it.pos]
			it.pos++
			// Pages can overlap when changes are updated mid-crawl;
			// return every change at most once.
			if _, dup := it.seen[change.ID]; dup {
				continue
			}
			it.seen[change.ID] = struct{}{}
			it.current = change
			return true
		}
		if it.done {
			return false
		}
		if err := it.fetchPage(ctx); err != nil {
			it.err = err
			return false
		}
	}
}

// Change returns the item produced by the last successful Next.
func (it *ChangeIterator) Change() Change {
	return it.current
}

// Cursor returns the resume cursor of the most recent page, usable to
// restart a crawl from this point.
func (it *ChangeIterator) Cursor() string {
	return it.cursor
}

func (it *ChangeIterator) Err() error {
	return it.err
}

func (it *ChangeIterator) fetchPage(ctx context.Context) error {
	opts := it.opts
	opts.Cursor = it.cursor
	page, err := it.service.Query(ctx, it.query, opts)
	if err != nil {
		return err
	}
	it.page = page
	it.pos = 0

	var markers []Change
	for _, change := range page {
		if change.MoreChanges {
			markers = append(markers, change)
		}
	}
	switch {
	case len(markers) > 1:
		return &ProtocolError{Reason: fmt.Sprintf("page carries %d resume markers, want at most one", len(markers))}
	case len(markers) == 1:
		if markers[0].SortKey == "" {
			return &ProtocolError{Reason: "resume marker has no sort key"}
		}
		it.cursor = markers[0].SortKey
	default:
		it.done = true
	}
	if len(page) == 0 {
		it.done = true
	}
	return nil
}
