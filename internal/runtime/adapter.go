// Package runtime is the container-runtime adapter (spec §6): a thin,
// synchronous wrapper over the Docker Engine SDK that the Step Runner calls
// and that translates every outcome into a plain Go result value — no
// exceptions cross this boundary (spec §9, "Exception-based control flow").
package runtime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/api/types/container"
	dockerevents "github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/sirupsen/logrus"

	"github.com/cube-orchestrator/taskrunner/internal/task"
)

// Adapter is the capability set consumed by the Step Runner, matching
// spec §6 exactly. DockerAdapter is the production implementation; tests
// substitute a fake.
type Adapter interface {
	Build(ctx context.Context, projectName string, c task.Container, onProgress func(step, total int, label string)) (task.RuntimeImage, error)
	PullIfMissing(ctx context.Context, ref string) (task.RuntimeImage, error)
	Create(ctx context.Context, req CreateRequest) (task.RuntimeContainer, []TempFile, error)
	Run(ctx context.Context, rc task.RuntimeContainer) (int, error)
	Start(ctx context.Context, rc task.RuntimeContainer) error
	Stop(ctx context.Context, rc task.RuntimeContainer) error
	Remove(ctx context.Context, rc task.RuntimeContainer, force bool) (existed bool, err error)
	InspectHealthcheckPresence(ctx context.Context, rc task.RuntimeContainer) (bool, error)
	StreamEvents(ctx context.Context, rc task.RuntimeContainer, onLine func(status string)) error
	LastHealthCheckResult(ctx context.Context, rc task.RuntimeContainer) (exitCode int, output string, err error)
	CreateNetwork(ctx context.Context) (task.RuntimeNetwork, error)
	DeleteNetwork(ctx context.Context, n task.RuntimeNetwork) error
}

// CreateRequest bundles the parameters for creating a container, matching
// spec §6's `create(request)` contract.
type CreateRequest struct {
	Container task.Container
	Image     task.RuntimeImage
	Network   task.RuntimeNetwork
	Command   []string
	Env       map[string]string
}

// TempFile describes a host file generated to support RunAsCurrentUser,
// mounted read-only into the created container.
type TempFile struct {
	Path string
}

// DockerAdapter implements Adapter against a real Docker Engine daemon via
// the official SDK client, the way the teacher's task.Docker wrapper did
// for a single-container subset of this surface.
type DockerAdapter struct {
	Client *client.Client
	Log    *logrus.Entry
}

// NewDockerAdapter builds an Adapter from an already-configured Docker SDK
// client.
func NewDockerAdapter(cli *client.Client, log *logrus.Entry) *DockerAdapter {
	return &DockerAdapter{Client: cli, Log: log}
}

var buildStepPattern = regexp.MustCompile(`^Step (\d+)/(\d+)\s*:\s*(.+)$`)
var buildSuccessPattern = regexp.MustCompile(`^Successfully built (\S+)`)

type buildProgressLine struct {
	Stream string `json:"stream"`
	Error  string `json:"error"`
}

// Build invokes an image build against Container.Image.BuildDir, streaming
// "Step N/M : <instruction>" progress lines to onProgress (spec §6's build
// progress parsing rule).
func (d *DockerAdapter) Build(ctx context.Context, projectName string, c task.Container, onProgress func(step, total int, label string)) (task.RuntimeImage, error) {
	tag := SyntheticImageTag(projectName, c.Name)

	buildCtx, err := buildContextTar(c.Image.BuildDir)
	if err != nil {
		return task.RuntimeImage{}, fmt.Errorf("preparing build context for %s: %w", c.Name, err)
	}
	defer buildCtx.Close()

	resp, err := d.Client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:      []string{tag},
		BuildArgs: c.Image.BuildArgs,
		Remove:    true,
	})
	if err != nil {
		return task.RuntimeImage{}, err
	}
	defer resp.Body.Close()

	builtTag := tag
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var line buildProgressLine
		text := scanner.Text()
		if err := json.Unmarshal([]byte(text), &line); err != nil {
			continue // spec §6: any other line is ignored
		}
		if line.Error != "" {
			return task.RuntimeImage{}, fmt.Errorf("build failed for %s: %s", c.Name, line.Error)
		}
		if m := buildStepPattern.FindStringSubmatch(strings.TrimSpace(line.Stream)); m != nil {
			step, total := atoiOr(m[1], 0), atoiOr(m[2], 0)
			if onProgress != nil {
				onProgress(step, total, m[3])
			}
		}
		if m := buildSuccessPattern.FindStringSubmatch(strings.TrimSpace(line.Stream)); m != nil {
			builtTag = m[1]
		}
	}
	if err := scanner.Err(); err != nil {
		return task.RuntimeImage{}, err
	}

	return task.RuntimeImage{Ref: builtTag}, nil
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// PullIfMissing checks local presence by tag lookup before pulling, per
// spec §6.
func (d *DockerAdapter) PullIfMissing(ctx context.Context, ref string) (task.RuntimeImage, error) {
	images, err := d.Client.ImageList(ctx, image.ListOptions{})
	if err == nil {
		for _, img := range images {
			for _, t := range img.RepoTags {
				if t == ref {
					return task.RuntimeImage{Ref: ref}, nil
				}
			}
		}
	}

	reader, err := d.Client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return task.RuntimeImage{}, err
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return task.RuntimeImage{}, err
	}
	return task.RuntimeImage{Ref: ref}, nil
}

// Create composes the container config/host config and creates the
// container on the per-run network, merging in any RunAsCurrentUser temp
// files as read-only mounts (spec §4.4's CreateContainer contract).
func (d *DockerAdapter) Create(ctx context.Context, req CreateRequest) (task.RuntimeContainer, []TempFile, error) {
	var tempFiles []TempFile
	var user string
	var mounts []string

	for _, v := range req.Container.Volumes {
		spec := v.LocalPath + ":" + v.ContainerPath
		if v.ReadOnly {
			spec += ":ro"
		}
		mounts = append(mounts, spec)
	}

	if req.Container.RunAsCurrentUser {
		passwdPath, groupPath, uid, gid, err := writeCurrentUserFiles(req.Container.Name)
		if err != nil {
			return task.RuntimeContainer{}, nil, err
		}
		tempFiles = append(tempFiles, TempFile{Path: passwdPath}, TempFile{Path: groupPath})
		mounts = append(mounts, passwdPath+":/etc/passwd:ro", groupPath+":/etc/group:ro")
		user = fmt.Sprintf("%d:%d", uid, gid)
	}

	env := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		env = append(env, k+"="+v)
	}

	cfg := &container.Config{
		Image:        req.Image.Ref,
		Cmd:          req.Command,
		Env:          env,
		WorkingDir:   req.Container.WorkingDirectory,
		ExposedPorts: portSet(req.Container.Ports),
		User:         user,
	}
	hostCfg := &container.HostConfig{
		PortBindings: req.Container.Ports,
		Binds:        mounts,
		NetworkMode:  container.NetworkMode(req.Network.ID),
	}
	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			req.Network.ID: {NetworkID: req.Network.ID},
		},
	}

	resp, err := d.Client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, req.Container.Name)
	if err != nil {
		return task.RuntimeContainer{}, tempFiles, err
	}
	return task.RuntimeContainer{ID: resp.ID}, tempFiles, nil
}

func portSet(m nat.PortMap) nat.PortSet {
	set := make(nat.PortSet, len(m))
	for p := range m {
		set[p] = struct{}{}
	}
	return set
}

// Run starts the task container and copies its stdout/stderr to the host's,
// blocking until it exits and returning its exit code (spec §6's `run(rc)`
// contract). Stdin is not attached, so the container never runs
// interactively.
func (d *DockerAdapter) Run(ctx context.Context, rc task.RuntimeContainer) (int, error) {
	attach, err := d.Client.ContainerAttach(ctx, rc.ID, container.AttachOptions{
		Stream: true, Stdout: true, Stderr: true,
	})
	if err != nil {
		return -1, err
	}
	defer attach.Close()

	if err := d.Client.ContainerStart(ctx, rc.ID, container.StartOptions{}); err != nil {
		return -1, err
	}

	go func() {
		_, _ = stdcopy.StdCopy(os.Stdout, os.Stderr, attach.Reader)
	}()

	statusCh, errCh := d.Client.ContainerWait(ctx, rc.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		return int(status.StatusCode), nil
	}
}

// Start starts a dependency container in the background (spec §6's
// `start(rc)`).
func (d *DockerAdapter) Start(ctx context.Context, rc task.RuntimeContainer) error {
	return d.Client.ContainerStart(ctx, rc.ID, container.StartOptions{})
}

// Stop stops a running container.
func (d *DockerAdapter) Stop(ctx context.Context, rc task.RuntimeContainer) error {
	return d.Client.ContainerStop(ctx, rc.ID, container.StopOptions{})
}

// Remove removes a container. "Container does not exist" is translated
// into existed=false, err=nil (idempotence under crash-in-the-middle,
// spec §4.4).
func (d *DockerAdapter) Remove(ctx context.Context, rc task.RuntimeContainer, force bool) (bool, error) {
	err := d.Client.ContainerRemove(ctx, rc.ID, container.RemoveOptions{Force: force})
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// InspectHealthcheckPresence re-derives spec §6's "literal null JSON"
// healthcheck-absence rule from the already-parsed SDK response.
func (d *DockerAdapter) InspectHealthcheckPresence(ctx context.Context, rc task.RuntimeContainer) (bool, error) {
	info, err := d.Client.ContainerInspect(ctx, rc.ID)
	if err != nil {
		return false, err
	}
	return info.Config != nil && info.Config.Healthcheck != nil && len(info.Config.Healthcheck.Test) > 0, nil
}

// StreamEvents subscribes to die/health_status events for rc, invoking
// onLine with the literal status text per container line (spec §6).
func (d *DockerAdapter) StreamEvents(ctx context.Context, rc task.RuntimeContainer, onLine func(status string)) error {
	filterArgs := eventFilters(rc.ID)
	msgCh, errCh := d.Client.Events(ctx, dockerevents.ListOptions{Filters: filterArgs})
	for {
		select {
		case err := <-errCh:
			if err == io.EOF || err == nil {
				return nil
			}
			return err
		case msg := <-msgCh:
			switch msg.Action {
			case "die":
				onLine("die")
			default:
				if strings.HasPrefix(string(msg.Action), "health_status") {
					onLine(string(msg.Action))
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// LastHealthCheckResult returns the most recent health-check probe's exit
// code and combined output.
func (d *DockerAdapter) LastHealthCheckResult(ctx context.Context, rc task.RuntimeContainer) (int, string, error) {
	info, err := d.Client.ContainerInspect(ctx, rc.ID)
	if err != nil {
		return 0, "", err
	}
	if info.State == nil || info.State.Health == nil || len(info.State.Health.Log) == 0 {
		return 0, "", fmt.Errorf("no health check log available for %s", rc.ID)
	}
	last := info.State.Health.Log[len(info.State.Health.Log)-1]
	return last.ExitCode, last.Output, nil
}

// CreateNetwork creates the per-run isolated bridge network.
func (d *DockerAdapter) CreateNetwork(ctx context.Context) (task.RuntimeNetwork, error) {
	name := SyntheticNetworkName()
	resp, err := d.Client.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return task.RuntimeNetwork{}, err
	}
	return task.RuntimeNetwork{ID: resp.ID}, nil
}

// DeleteNetwork deletes the per-run network.
func (d *DockerAdapter) DeleteNetwork(ctx context.Context, n task.RuntimeNetwork) error {
	return d.Client.NetworkRemove(ctx, n.ID)
}
