package models

import (
	"fmt"
	"sort"
	"strings"
)

// DatacenterSnapshot is one observation of the provider's per-location
// online-VPS counts. Snapshots are fetched fresh on every monitor tick and
// never cached, except for the per-user LastKnownTotal baseline.
type DatacenterSnapshot struct {
	Counts map[string]int
	Total  int
}

// Breakdown renders the per-datacenter counts as display lines, sorted by
// name so repeated notifications for the same snapshot are stable.
func (s *DatacenterSnapshot) Breakdown() string {
	if len(s.Counts) == 0 {
		return "no datacenter details available"
	}
	names := make([]string, 0, len(s.Counts))
	for name := range s.Counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- %s: %d", name, s.Counts[name])
	}
	return b.String()
}
