// Package taskgraph resolves the set of containers a task run needs and the
// dependency edges between them, per spec §4.1.
package taskgraph

import (
	"fmt"

	"github.com/cube-orchestrator/taskrunner/internal/task"
)

// CyclicDependencyError reports a dependency cycle discovered during
// resolution. Path lists the container names in the cycle, in traversal
// order, with the first name repeated at the end.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: %v", e.Path)
}

// UnknownDependencyError reports a depends-on entry that names a container
// absent from the project.
type UnknownDependencyError struct {
	From string
	Name string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("container %q depends on unknown container %q", e.From, e.Name)
}

// Graph is the resolved subgraph of Containers reachable from the task
// container via depends-on edges.
type Graph struct {
	containers    map[string]*task.Container
	taskContainer string
}

// TaskContainerName returns the name of the container flagged as the task
// container for this run.
func (g *Graph) TaskContainerName() string {
	return g.taskContainer
}

// Container looks up a resolved container by name. The second return value
// is false if name is not part of this graph.
func (g *Graph) Container(name string) (*task.Container, bool) {
	c, ok := g.containers[name]
	return c, ok
}

// DependenciesOf returns the names a container directly depends on.
func (g *Graph) DependenciesOf(name string) []string {
	c, ok := g.containers[name]
	if !ok {
		return nil
	}
	return append([]string(nil), c.DependsOn...)
}

// ContainersThatDependOn returns the names of containers that directly
// depend on name.
func (g *Graph) ContainersThatDependOn(name string) []string {
	var out []string
	for _, c := range g.containers {
		for _, dep := range c.DependsOn {
			if dep == name {
				out = append(out, c.Name)
				break
			}
		}
	}
	return out
}

// Names returns every container name in the graph, leaves of the
// dependency tree first (a container appears only after all of its
// dependencies).
func (g *Graph) Names() []string {
	visited := make(map[string]bool, len(g.containers))
	order := make([]string, 0, len(g.containers))

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		c := g.containers[name]
		for _, dep := range c.DependsOn {
			visit(dep)
		}
		order = append(order, name)
	}

	for name := range g.containers {
		visit(name)
	}
	return order
}

// Resolve computes the subgraph of all containers reachable from
// taskContainerName, failing if the graph contains a cycle or an unknown
// dependency name.
func Resolve(all map[string]*task.Container, taskContainerName string) (*Graph, error) {
	if _, ok := all[taskContainerName]; !ok {
		return nil, &UnknownDependencyError{From: "<task>", Name: taskContainerName}
	}

	reachable := make(map[string]*task.Container)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), name)
			return &CyclicDependencyError{Path: cycle}
		}

		c, ok := all[name]
		if !ok {
			from := "<task>"
			if len(path) > 0 {
				from = path[len(path)-1]
			}
			return &UnknownDependencyError{From: from, Name: name}
		}

		state[name] = visiting
		path = append(path, name)
		for _, dep := range c.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done

		reachable[name] = c
		return nil
	}

	if err := visit(taskContainerName); err != nil {
		return nil, err
	}

	return &Graph{containers: reachable, taskContainer: taskContainerName}, nil
}
