package firmware

import "strings"

// Search matches free text against {id, name, category} case-
// insensitively, per spec.md §4.7.
func Search(boards []Board, query string) []Board {
	if query == "" {
		return boards
	}
	q := strings.ToLower(query)

	var out []Board
	for _, b := range boards {
		if strings.Contains(strings.ToLower(b.ID), q) ||
			strings.Contains(strings.ToLower(b.Name), q) ||
			strings.Contains(strings.ToLower(b.Category), q) {
			out = append(out, b)
		}
	}
	return out
}

// GroupByMajorVersion buckets versions into groups like "4.5.x", marking
// the newest stable in each group as Latest.
func GroupByMajorVersion(versions []FirmwareVersion) []BoardGroup {
	groups := make(map[string][]FirmwareVersion)
	var order []string
	for _, v := range versions {
		g := majorMinorGroup(v.Version)
		if _, ok := groups[g]; !ok {
			order = append(order, g)
		}
		groups[g] = append(groups[g], v)
	}

	out := make([]BoardGroup, 0, len(order))
	for _, g := range order {
		vs := groups[g]
		markLatestStable(vs)
		out = append(out, BoardGroup{Group: g, Versions: vs})
	}
	return out
}

// majorMinorGroup reduces "4.5.1" to "4.5.x"; versions that don't parse
// as dotted numerics are grouped under themselves verbatim.
func majorMinorGroup(version string) string {
	v := strings.TrimPrefix(version, "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return version
	}
	return parts[0] + "." + parts[1] + ".x"
}

func markLatestStable(vs []FirmwareVersion) {
	patch := func(version string) int {
		parts := strings.SplitN(strings.TrimPrefix(version, "v"), ".", 3)
		if len(parts) < 3 {
			return -1
		}
		n := 0
		for _, r := range parts[2] {
			if r < '0' || r > '9' {
				break
			}
			n = n*10 + int(r-'0')
		}
		return n
	}
	latestIdx := -1
	for i, v := range vs {
		if v.ReleaseType == ReleaseStable && (latestIdx < 0 || patch(v.Version) > patch(vs[latestIdx].Version)) {
			latestIdx = i
		}
	}
	for i := range vs {
		vs[i].Latest = i == latestIdx
	}
}
