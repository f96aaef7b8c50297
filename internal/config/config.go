// Package config parses a project's taskrunner.toml into the Container and
// Task declarations the engine consumes. This is explicitly out of core
// scope (spec §1 calls config parsing an external collaborator) but the
// demo CLI needs a real implementation to be runnable end to end.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-connections/nat"

	"github.com/cube-orchestrator/taskrunner/internal/task"
)

// Project is the parsed form of a taskrunner.toml file.
type Project struct {
	Containers map[string]ContainerSpec `toml:"containers"`
	Tasks      map[string]TaskSpec      `toml:"tasks"`
}

// ContainerSpec is the raw TOML shape of a [containers.<name>] table.
type ContainerSpec struct {
	Image            string            `toml:"image"`
	Build            string            `toml:"build_directory"`
	BuildArgs        map[string]string `toml:"build_args"`
	Command          []string          `toml:"command"`
	WorkingDirectory string            `toml:"working_directory"`
	Environment      map[string]string `toml:"environment"`
	Ports            map[string]string `toml:"ports"`
	RunAsCurrentUser bool              `toml:"run_as_current_user"`
	HealthInterval   string            `toml:"health_check_interval"`
	HealthRetries    int               `toml:"health_check_retries"`
	HealthStartPeriod string           `toml:"health_check_start_period"`
	DependsOn        []string          `toml:"dependencies"`
}

// TaskSpec is the raw TOML shape of a [tasks.<name>] table.
type TaskSpec struct {
	Container string   `toml:"container"`
	Command   []string `toml:"command"`
}

// Load reads and parses a taskrunner.toml file at path.
func Load(path string) (*Project, error) {
	var p Project
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &p, nil
}

// ResolveContainers converts every parsed ContainerSpec into an internal
// task.Container, ready for dependency-graph resolution.
func (p *Project) ResolveContainers() (map[string]*task.Container, error) {
	out := make(map[string]*task.Container, len(p.Containers))
	for name, spec := range p.Containers {
		c, err := spec.toContainer(name)
		if err != nil {
			return nil, err
		}
		out[name] = c
	}
	return out, nil
}

func (s ContainerSpec) toContainer(name string) (*task.Container, error) {
	interval, err := parseDuration(s.HealthInterval, time.Second)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", name, err)
	}
	startPeriod, err := parseDuration(s.HealthStartPeriod, 0)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", name, err)
	}

	c := &task.Container{
		Name:             name,
		Command:          s.Command,
		WorkingDirectory: s.WorkingDirectory,
		Environment:      s.Environment,
		RunAsCurrentUser: s.RunAsCurrentUser,
		DependsOn:        s.DependsOn,
		Health: task.HealthCheck{
			Interval:    interval,
			Retries:     s.HealthRetries,
			StartPeriod: startPeriod,
		},
	}

	if s.Build != "" {
		buildArgs := make(map[string]*string, len(s.BuildArgs))
		for k, v := range s.BuildArgs {
			v := v
			buildArgs[k] = &v
		}
		c.Image = task.ImageSource{BuildDir: s.Build, BuildArgs: buildArgs}
	} else {
		c.Image = task.ImageSource{PullRef: s.Image}
	}

	if len(s.Ports) > 0 {
		portMap, err := toPortMap(s.Ports)
		if err != nil {
			return nil, fmt.Errorf("container %s: %w", name, err)
		}
		c.Ports = portMap
	}

	return c, nil
}

func toPortMap(ports map[string]string) (nat.PortMap, error) {
	out := make(nat.PortMap, len(ports))
	for containerPort, hostPort := range ports {
		p, err := nat.NewPort("tcp", containerPort)
		if err != nil {
			return nil, err
		}
		out[p] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: hostPort}}
	}
	return out, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}
