package pluginmanager

import "fmt"

// buildLayers computes Kahn's-algorithm topological layers over the
// dependency graph implied by metas: an edge A -> B exists iff B appears in
// A's Dependencies. Each returned layer is the set of nodes with zero
// remaining in-degree at that point — every plugin within a layer may load
// concurrently; the next layer only begins once the previous layer is
// fully resolved (success or permanent failure).
//
// A dependency naming a plugin that was never discovered is not an edge in
// the graph (there is nothing to wait on); it is reported separately via
// unknownDeps for diagnostics. The loader determines dependencies_met by
// checking each dependency's actual end state (Manager.unloadedDependencies),
// which also catches a dependency that loaded and was discovered but still
// ended in StateError.
//
// A cycle — including a plugin depending on itself — means every node
// reachable from the cycle never appears in any layer; the caller checks
// for that by comparing the total layered count against len(metas).
func buildLayers(metas map[string]PluginMeta) (layers [][]string, unknownDeps map[string][]string) {
	inDegree := make(map[string]int, len(metas))
	dependents := make(map[string][]string) // dep -> plugins that depend on it
	unknownDeps = make(map[string][]string)

	for name := range metas {
		inDegree[name] = 0
	}
	for name, meta := range metas {
		for _, dep := range meta.Dependencies {
			if _, ok := metas[dep]; !ok {
				unknownDeps[name] = append(unknownDeps[name], dep)
				continue
			}
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	remaining := make(map[string]int, len(inDegree))
	for k, v := range inDegree {
		remaining[k] = v
	}

	for len(remaining) > 0 {
		var layer []string
		for name, deg := range remaining {
			if deg == 0 {
				layer = append(layer, name)
			}
		}
		if len(layer) == 0 {
			// Every remaining node has at least one unresolved dependency:
			// a cycle. None of them can ever load.
			break
		}
		for _, name := range layer {
			delete(remaining, name)
		}
		for _, name := range layer {
			for _, dependent := range dependents[name] {
				if _, stillPending := remaining[dependent]; stillPending {
					remaining[dependent]--
				}
			}
		}
		layers = append(layers, layer)
	}

	return layers, unknownDeps
}

// cyclicNodes returns the set of plugin names that buildLayers could not
// place into any layer (they belong to, or depend transitively on, a
// dependency cycle).
func cyclicNodes(metas map[string]PluginMeta, layers [][]string) []string {
	placed := make(map[string]bool)
	for _, layer := range layers {
		for _, name := range layer {
			placed[name] = true
		}
	}
	var stuck []string
	for name := range metas {
		if !placed[name] {
			stuck = append(stuck, name)
		}
	}
	return stuck
}

// validateNoDuplicateDependency rejects a plugin that lists itself as a
// dependency. A dependency listed twice is not rejected here.
func validateNoDuplicateDependency(meta PluginMeta) error {
	seen := make(map[string]bool, len(meta.Dependencies))
	for _, dep := range meta.Dependencies {
		if dep == meta.Name {
			return fmt.Errorf("plugin %q depends on itself", meta.Name)
		}
		seen[dep] = true
	}
	return nil
}
