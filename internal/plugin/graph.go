package plugin

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// graph is the dependency relation over a set of plugin names.
type graph map[string][]string

// topoSort orders the graph depth-first so that dependencies precede their
// dependents. Revisiting a node still on the recursion stack signals a
// cycle: the cycle is logged and its members are excluded from the order.
// Dependency names absent from the graph are logged and treated as
// vacuously satisfied for ordering purposes only.
func topoSort(g graph, log *logrus.Entry) (order []string, cyclic []string) {
	const (
		unvisited = iota
		onStack
		done
		excluded
	)

	state := make(map[string]int, len(g))

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case done:
			return true
		case excluded:
			return false
		case onStack:
			log.WithField("plugin", name).Warn("dependency cycle detected")
			state[name] = excluded
			return false
		}

		state[name] = onStack
		for _, dep := range g[name] {
			if _, known := g[dep]; !known {
				log.WithFields(logrus.Fields{
					"plugin":     name,
					"dependency": dep,
				}).Warn("dependency not registered, ignored for ordering")
				continue
			}
			if !visit(dep) {
				// A cycle below excludes everything on the path into it.
				if state[name] == onStack {
					state[name] = excluded
				}
				return false
			}
		}

		if state[name] == onStack {
			state[name] = done
			order = append(order, name)
			return true
		}
		return false
	}

	// Deterministic iteration keeps wave composition stable across runs.
	for _, name := range sortedKeys(g) {
		if state[name] == unvisited {
			visit(name)
		}
	}

	for _, name := range sortedKeys(g) {
		if state[name] == excluded {
			cyclic = append(cyclic, name)
		}
	}
	return order, cyclic
}

func sortedKeys(g graph) []string {
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
