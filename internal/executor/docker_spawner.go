package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"gc-diffbench/internal/cpuallocator"
	"gc-diffbench/internal/logging"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/sirupsen/logrus"
)

// cleanupTimeout bounds container teardown, which runs on a fresh context so
// it still happens after an interrupt.
const cleanupTimeout = 30 * time.Second

// DockerSpawner runs each cell in a throwaway container of the runtime's
// image. Work, log and classpath directories are bind-mounted at the same
// path so the command line is identical to the process spawner's.
type DockerSpawner struct {
	client         *client.Client
	maxOutputBytes int
	logger         *logrus.Logger

	pullMu sync.Mutex
	pulled map[string]bool
}

func NewDockerSpawner(maxOutputBytes int) (*DockerSpawner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerSpawner{
		client:         cli,
		maxOutputBytes: maxOutputBytes,
		logger:         logging.GetLogger(),
		pulled:         make(map[string]bool),
	}, nil
}

func (s *DockerSpawner) Close() error {
	return s.client.Close()
}

func (s *DockerSpawner) Spawn(ctx context.Context, req SpawnRequest) SpawnResult {
	if len(req.Command) == 0 || req.Image == "" {
		return SpawnResult{Outcome: SpawnFailed{Reason: "docker spawn needs a command and an image"}}
	}
	if err := ctx.Err(); err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: "interrupted: " + err.Error()}}
	}
	if err := s.ensureImage(ctx, req.Image); err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: err.Error()}}
	}

	config := &container.Config{
		Image:      req.Image,
		Cmd:        req.Command,
		WorkingDir: req.Dir,
		Env:        req.Env,
		User:       fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
	}
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		AutoRemove:  false,
	}
	if len(req.CPUs) > 0 {
		hostConfig.Resources.CpusetCpus = cpuallocator.FormatCPUSpec(req.CPUs)
	}
	for _, mount := range req.Mounts {
		hostConfig.Binds = append(hostConfig.Binds, mount+":"+mount)
	}

	resp, err := s.client.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: fmt.Sprintf("failed to create container: %v", err)}}
	}
	defer s.remove(resp.ID)

	if err := s.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return SpawnResult{Outcome: SpawnFailed{Reason: fmt.Sprintf("failed to start container: %v", err)}}
	}

	waitCtx, cancelWait := context.WithCancel(ctx)
	defer cancelWait()
	statusCh, errCh := s.client.ContainerWait(waitCtx, resp.ID, container.WaitConditionNotRunning)

	var deadline <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case status := <-statusCh:
		stdout, stderr := s.logs(resp.ID)
		if status.Error != nil && status.Error.Message != "" {
			return SpawnResult{Outcome: SpawnFailed{Reason: status.Error.Message}}
		}
		return SpawnResult{Outcome: Completed{ExitCode: int(status.StatusCode), Stdout: stdout, Stderr: stderr}}
	case err := <-errCh:
		if ctx.Err() != nil {
			s.kill(resp.ID)
			return SpawnResult{Outcome: SpawnFailed{Reason: "interrupted: " + ctx.Err().Error()}}
		}
		return SpawnResult{Outcome: SpawnFailed{Reason: fmt.Sprintf("failed to wait for container: %v", err)}}
	case <-deadline:
		s.kill(resp.ID)
		stdout, stderr := s.logs(resp.ID)
		return SpawnResult{Outcome: TimedOut{PartialStdout: stdout, PartialStderr: stderr}}
	case <-ctx.Done():
		s.kill(resp.ID)
		return SpawnResult{Outcome: SpawnFailed{Reason: "interrupted: " + ctx.Err().Error()}}
	}
}

func (s *DockerSpawner) ensureImage(ctx context.Context, image string) error {
	s.pullMu.Lock()
	defer s.pullMu.Unlock()
	if s.pulled[image] {
		return nil
	}
	if _, _, err := s.client.ImageInspectWithRaw(ctx, image); err == nil {
		s.pulled[image] = true
		return nil
	}

	s.logger.WithField("image", image).Info("Pulling image")
	pullResp, err := s.client.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer pullResp.Close()

	// Read the pull response to completion
	if _, err := io.Copy(io.Discard, pullResp); err != nil {
		return fmt.Errorf("failed to complete image pull for %s: %w", image, err)
	}
	s.pulled[image] = true
	return nil
}

func (s *DockerSpawner) logs(containerID string) (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	rc, err := s.client.ContainerLogs(ctx, containerID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		s.logger.WithField("container_id", shortID(containerID)).WithError(err).Warn("Failed to read container logs")
		return "", ""
	}
	defer rc.Close()

	stdout := newCappedBuffer(s.maxOutputBytes)
	stderr := newCappedBuffer(s.maxOutputBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil {
		s.logger.WithField("container_id", shortID(containerID)).WithError(err).Debug("Container log stream ended early")
	}
	return stdout.String(), stderr.String()
}

func (s *DockerSpawner) kill(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.client.ContainerKill(ctx, containerID, "KILL"); err != nil && !client.IsErrNotFound(err) {
		if !strings.Contains(err.Error(), "is not running") {
			s.logger.WithField("container_id", shortID(containerID)).WithError(err).Warn("Failed to kill container")
		}
	}
}

func (s *DockerSpawner) remove(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	removeOptions := types.ContainerRemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	}
	if err := s.client.ContainerRemove(ctx, containerID, removeOptions); err != nil && !client.IsErrNotFound(err) {
		s.logger.WithField("container_id", shortID(containerID)).WithError(err).Warn("Failed to force remove container")
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
