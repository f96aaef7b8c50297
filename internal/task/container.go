// Package task defines the static configuration types that describe a
// project's containers and the resolved runtime handles the engine hands
// out once those containers exist.
package task

import (
	"time"

	"github.com/docker/go-connections/nat"
)

// ImageSource describes where a Container's image comes from: either an
// existing image to pull, or a directory to build.
type ImageSource struct {
	// PullRef is set when the image should be pulled by reference (e.g.
	// "postgres:16"). Mutually exclusive with BuildDir.
	PullRef string

	// BuildDir is set when the image should be built from a Dockerfile in
	// this directory. Mutually exclusive with PullRef.
	BuildDir string

	// BuildArgs are passed through verbatim to the image build; nil unless
	// BuildDir is set.
	BuildArgs map[string]*string
}

// IsBuild reports whether this source builds an image rather than pulling one.
func (s ImageSource) IsBuild() bool {
	return s.BuildDir != ""
}

// HealthCheck configures how long the engine waits for a container to
// report healthy before giving up.
type HealthCheck struct {
	Interval   time.Duration
	Retries    int
	StartPeriod time.Duration
}

// Timeout is the total time the engine should be willing to wait for this
// container to become healthy: interval * retries, plus the start period
// during which failures don't count.
func (h HealthCheck) Timeout() time.Duration {
	return h.StartPeriod + time.Duration(h.Retries)*h.Interval
}

// Container is the static, config-declared description of one named
// container in a project: its image source, command, environment, and its
// declared dependencies.
type Container struct {
	// Name uniquely identifies this container within the project.
	Name string

	Image ImageSource

	// Command overrides the image's default command, if non-empty.
	Command []string

	WorkingDirectory string

	Environment map[string]string

	Ports nat.PortMap

	Volumes []VolumeMount

	Health HealthCheck

	// RunAsCurrentUser causes the engine to run the container under the
	// invoking host user's uid:gid, generating a passwd/group temp file
	// mounted into the container so that uid resolves to a real user.
	RunAsCurrentUser bool

	// DependsOn names other containers in the project that must be
	// started (and healthy) before this one runs.
	DependsOn []string
}

// VolumeMount is a single host-path -> container-path bind mount.
type VolumeMount struct {
	LocalPath     string
	ContainerPath string
	ReadOnly      bool
}

// RuntimeContainer is the opaque identifier the runtime adapter returns
// after creating a container. It is valid only for the lifetime of the run
// that created it.
type RuntimeContainer struct {
	ID string
}

// RuntimeImage is the opaque identifier/tag returned by a build or pull.
type RuntimeImage struct {
	Ref string
}

// RuntimeNetwork is the opaque identifier for the per-run isolated bridge
// network. Exactly one exists per run after CreateTaskNetwork succeeds.
type RuntimeNetwork struct {
	ID string
}
