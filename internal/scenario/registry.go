package scenario

import (
	"fmt"
	"sort"
)

var registry = make(map[string]Scenario)

// Register adds a scenario to the global registry. It panics on a duplicate
// ID; registration happens in init functions, so a duplicate is a
// programming error caught at startup.
func Register(sc Scenario) {
	if _, exists := registry[sc.ID]; exists {
		panic(fmt.Sprintf("scenario %q registered twice", sc.ID))
	}
	registry[sc.ID] = sc
}

// Get returns the scenario with the given ID.
func Get(id string) (Scenario, bool) {
	sc, ok := registry[id]
	return sc, ok
}

// All returns every registered scenario, sorted by ID.
func All() []Scenario {
	out := make([]Scenario, 0, len(registry))
	for _, sc := range registry {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the sorted identifiers of every registered scenario.
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
