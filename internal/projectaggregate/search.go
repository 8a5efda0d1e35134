package projectaggregate

import (
	"sort"
	"strings"
)

// SearchQuery narrows a shadow search by path prefix and/or suffix
// (file-type predicate), per §4.6 "path-first shadow search ... narrows
// by path or file-type predicates".
type SearchQuery struct {
	PathPrefix string
	Suffix     string
	PageSize   int // 0 uses DefaultPageSize
}

// DefaultPageSize matches config's shadow_search.page_size default
// (spec.md §6).
const DefaultPageSize = 50

// SearchResult is one bounded page of matching files.
type SearchResult struct {
	Files   []FileState
	HasMore bool
}

// Search narrows by path first, then terminates as soon as a full page
// is collected (Testable Property 10) — it never scans the whole
// in-memory file set unconditionally once the page is full, grounded on
// internal/storage.ReadLedger's whole-bucket cursor idiom but cut short
// here instead of reading to the end.
func (a *Aggregate) Search(q SearchQuery) SearchResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	paths := make([]string, 0, len(a.files))
	for p := range a.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []FileState
	for _, p := range paths {
		if q.PathPrefix != "" && !strings.HasPrefix(p, q.PathPrefix) {
			continue
		}
		if q.Suffix != "" && !strings.HasSuffix(p, q.Suffix) {
			continue
		}
		out = append(out, *a.files[p])
		if len(out) == pageSize {
			// Early termination: there may be more matches past this
			// point in sorted order, but the page is full.
			return SearchResult{Files: out, HasMore: hasMoreAfter(paths, p, q)}
		}
	}
	return SearchResult{Files: out, HasMore: false}
}

// hasMoreAfter reports whether any path sorted after last still matches
// the query, without building the full result set.
func hasMoreAfter(sortedPaths []string, last string, q SearchQuery) bool {
	idx := sort.SearchStrings(sortedPaths, last)
	for _, p := range sortedPaths[idx+1:] {
		if q.PathPrefix != "" && !strings.HasPrefix(p, q.PathPrefix) {
			continue
		}
		if q.Suffix != "" && !strings.HasSuffix(p, q.Suffix) {
			continue
		}
		return true
	}
	return false
}
