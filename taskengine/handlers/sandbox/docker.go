// Package sandbox provides a reference taskengine.Handler that executes a
// task by running a command inside a throwaway Docker container,
// adapted from the teacher's DockerExecutor test-sandbox runner.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/pitabwire/util"

	"github.com/antinvestor/taskengine"
)

// Config bounds every DockerHandler invocation.
type Config struct {
	// DefaultImage is used when a task's data carries no "image" key.
	DefaultImage string

	// MemoryLimitMB caps container memory.
	MemoryLimitMB int64

	// CPULimit caps container CPU, as a fraction of one core (1.0 = 100%).
	CPULimit float64

	// Timeout bounds how long a single container may run.
	Timeout time.Duration

	// NetworkEnabled controls whether the container gets network access.
	NetworkEnabled bool
}

// DefaultConfig returns conservative sandbox limits.
func DefaultConfig() Config {
	return Config{
		DefaultImage:   "golang:1.25-alpine",
		MemoryLimitMB:  512,
		CPULimit:       1.0,
		Timeout:        5 * time.Minute,
		NetworkEnabled: false,
	}
}

// DockerHandler runs command-execution tasks in Docker containers. It
// registers under taskType, and expects Task.Data to carry:
//
//	"command":   []string  (required)
//	"image":     string    (optional, overrides Config.DefaultImage)
//	"workdir":   string    (optional, default "/workspace")
//	"env":       []string  (optional)
//	"workspace": string    (optional host path bind-mounted at workdir)
type DockerHandler struct {
	taskType string
	cfg      Config
	client   *client.Client
}

// New creates a DockerHandler bound to a fresh Docker client negotiated
// against the daemon found via the environment (DOCKER_HOST et al).
func New(taskType string, cfg Config) (*DockerHandler, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerHandler{taskType: taskType, cfg: cfg, client: cli}, nil
}

// Type implements taskengine.Handler.
func (h *DockerHandler) Type() string { return h.taskType }

// Close releases the underlying Docker client.
func (h *DockerHandler) Close() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// Execute implements taskengine.Handler.
func (h *DockerHandler) Execute(ctx context.Context, task *taskengine.Task) (taskengine.TaskResult, error) {
	log := util.Log(ctx)

	command, err := stringSlice(task.Data, "command")
	if err != nil {
		return taskengine.TaskResult{}, taskengine.NewHandlerError(err)
	}

	image := h.cfg.DefaultImage
	if v, ok := task.Data["image"].(string); ok && v != "" {
		image = v
	}
	workdir := "/workspace"
	if v, ok := task.Data["workdir"].(string); ok && v != "" {
		workdir = v
	}
	env, _ := stringSlice(task.Data, "env")
	workspace, _ := task.Data["workspace"].(string)

	containerID, err := h.createContainer(ctx, task, image, workdir, command, env, workspace)
	if err != nil {
		// Docker daemon connectivity problems are transient by nature.
		return taskengine.TaskResult{}, taskengine.NewRetryableError(fmt.Errorf("create container: %w", err))
	}
	defer h.cleanup(ctx, containerID)

	if err := h.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return taskengine.TaskResult{}, taskengine.NewRetryableError(fmt.Errorf("start container: %w", err))
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	statusCh, errCh := h.client.ContainerWait(timeoutCtx, containerID, container.WaitConditionNotRunning)

	var exitCode int64
	select {
	case waitErr := <-errCh:
		if waitErr != nil {
			log.WithError(waitErr).Warn("container wait error, killing container", "task_id", task.TaskID.String())
			_ = h.client.ContainerKill(ctx, containerID, "KILL")
			return taskengine.NewFailure(task.TaskID, taskengine.NewHandlerError(fmt.Errorf("container wait: %w", waitErr)), false), nil
		}
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-timeoutCtx.Done():
		log.Warn("container execution timeout, killing container", "task_id", task.TaskID.String())
		_ = h.client.ContainerKill(ctx, containerID, "KILL")
		return taskengine.NewFailure(task.TaskID, taskengine.NewHandlerError(fmt.Errorf("container execution timed out after %s", h.cfg.Timeout)), true), nil
	}

	output, err := h.containerLogs(ctx, containerID)
	if err != nil {
		log.WithError(err).Warn("failed to retrieve container logs", "task_id", task.TaskID.String())
	}

	if exitCode != 0 {
		return taskengine.NewFailure(task.TaskID,
			taskengine.NewHandlerError(fmt.Errorf("command exited with status %d: %s", exitCode, output)), false), nil
	}

	return taskengine.NewSuccess(task.TaskID, map[string]any{
		"exit_code": exitCode,
		"output":    output,
	}), nil
}

func (h *DockerHandler) createContainer(ctx context.Context, task *taskengine.Task, image, workdir string, command, env []string, workspace string) (string, error) {
	cfg := &container.Config{
		Image:      image,
		Cmd:        command,
		WorkingDir: workdir,
		Env:        env,
		Tty:        false,
		Labels: map[string]string{
			"taskengine.task.id":   task.TaskID.String(),
			"taskengine.task.type": task.Type,
		},
	}

	hostCfg := &container.HostConfig{
		Resources: container.Resources{
			Memory:   h.cfg.MemoryLimitMB * 1024 * 1024,
			CPUQuota: int64(h.cfg.CPULimit * 100000),
		},
		AutoRemove: false,
	}
	if workspace != "" {
		hostCfg.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: workspace, Target: workdir}}
	}

	var networkCfg *network.NetworkingConfig
	if !h.cfg.NetworkEnabled {
		hostCfg.NetworkMode = "none"
	}

	name := fmt.Sprintf("taskengine-%s", task.TaskID.String())
	resp, err := h.client.ContainerCreate(ctx, cfg, hostCfg, networkCfg, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (h *DockerHandler) containerLogs(ctx context.Context, containerID string) (string, error) {
	reader, err := h.client.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       "all",
	})
	if err != nil {
		return "", err
	}
	defer reader.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return "", err
	}
	return stripDockerLogHeaders(buf.Bytes()), nil
}

// stripDockerLogHeaders removes the 8-byte multiplexed-stream header Docker
// prefixes to each log frame when Tty is false.
func stripDockerLogHeaders(data []byte) string {
	var result bytes.Buffer
	for len(data) >= 8 {
		frameSize := int(data[4])<<24 | int(data[5])<<16 | int(data[6])<<8 | int(data[7])
		data = data[8:]
		if frameSize > len(data) {
			frameSize = len(data)
		}
		result.Write(data[:frameSize])
		data = data[frameSize:]
	}
	if len(data) > 0 {
		result.Write(data)
	}
	return result.String()
}

func (h *DockerHandler) cleanup(ctx context.Context, containerID string) {
	stopTimeout := 5
	_ = h.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	if err := h.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil {
		util.Log(ctx).WithError(err).Warn("failed to remove sandbox container", "container_id", containerID)
	}
}

func stringSlice(data map[string]any, key string) ([]string, error) {
	raw, ok := data[key]
	if !ok {
		if key == "command" {
			return nil, fmt.Errorf("task data missing required %q field", key)
		}
		return nil, nil
	}
	if strs, ok := raw.([]string); ok {
		return strs, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("task data field %q must be a list of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("task data field %q must contain only strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}
