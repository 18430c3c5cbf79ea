package presence

import (
	"sort"
	"strings"

	"pulsetrack/api/models"
)

// deriveFlow classifies tracked navigation into a main flow and secondary
// pages. The longest recorded navigation history is taken as the main
// (presumed conversion-oriented) path; every other visited page becomes a
// secondary entry. Viewer counts on both sides are the live distinct-viewer
// counts from pageViewers, so the flow view and the popularity view never
// disagree about how busy a page is. Ties between equally long histories
// are broken lexicographically to keep broadcasts deterministic.
func deriveFlow(navigationPaths map[string][]string, pageViewers map[string]map[string]struct{}) models.FlowView {
	flow := models.FlowView{
		MainFlow:       []models.PageViewers{},
		SecondaryPages: []models.PageViewers{},
	}
	if len(navigationPaths) == 0 {
		return flow
	}

	var main []string
	for _, history := range navigationPaths {
		if len(history) == 0 {
			continue
		}
		if main == nil || longerFlow(history, main) {
			main = history
		}
	}
	if main == nil {
		return flow
	}

	onMain := make(map[string]struct{}, len(main))
	for _, path := range main {
		if _, seen := onMain[path]; seen {
			continue
		}
		onMain[path] = struct{}{}
		flow.MainFlow = append(flow.MainFlow, models.PageViewers{
			Path:    path,
			Viewers: len(pageViewers[path]),
		})
	}

	secondary := make(map[string]struct{})
	for _, history := range navigationPaths {
		for _, path := range history {
			if _, isMain := onMain[path]; isMain {
				continue
			}
			secondary[path] = struct{}{}
		}
	}
	for path := range secondary {
		flow.SecondaryPages = append(flow.SecondaryPages, models.PageViewers{
			Path:    path,
			Viewers: len(pageViewers[path]),
		})
	}
	sort.Slice(flow.SecondaryPages, func(i, j int) bool {
		a, b := flow.SecondaryPages[i], flow.SecondaryPages[j]
		if a.Viewers != b.Viewers {
			return a.Viewers > b.Viewers
		}
		return a.Path < b.Path
	})

	return flow
}

func longerFlow(candidate, current []string) bool {
	if len(candidate) != len(current) {
		return len(candidate) > len(current)
	}
	return strings.Join(candidate, "\x00") < strings.Join(current, "\x00")
}
