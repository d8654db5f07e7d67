// Package docker drives the docker daemon on the cache's behalf: it
// pulls images the cache admits, removes images the cache evicts, and
// runs container workloads. The cache itself never touches docker; it
// only tells callers what action is needed.
package docker

import (
	"context"
	"fmt"

	docker "github.com/fsouza/go-dockerclient"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/imgcached/internal/metrics"
)

// Config holds agent settings.
type Config struct {
	// InspectCacheSize bounds the LRU of image-inspect results.
	InspectCacheSize int
}

// Agent wraps a docker client as the cache's provisioning agent and
// workload executor.
type Agent struct {
	client     *docker.Client
	inspectLRU *lru.Cache[string, int64]
	logger     zerolog.Logger
}

// NewAgent connects to the docker daemon using the standard DOCKER_*
// environment variables.
func NewAgent(cfg Config, logger zerolog.Logger) (*Agent, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping docker daemon: %w", err)
	}

	size := cfg.InspectCacheSize
	if size <= 0 {
		size = 256
	}
	inspectLRU, err := lru.New[string, int64](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create inspect cache: %w", err)
	}

	return &Agent{
		client:     client,
		inspectLRU: inspectLRU,
		logger:     logger.With().Str("component", "docker").Logger(),
	}, nil
}

// Pull fetches an image from its registry.
func (a *Agent) Pull(ctx context.Context, image string) error {
	repo, tag := docker.ParseRepositoryTag(image)
	if tag == "" {
		tag = "latest"
	}

	a.logger.Info().Str("image", image).Msg("Pulling image")

	opts := docker.PullImageOptions{
		Repository: repo,
		Tag:        tag,
		Context:    ctx,
	}
	if err := a.client.PullImage(opts, docker.AuthConfiguration{}); err != nil {
		metrics.ImagePullsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}

	metrics.ImagePullsTotal.WithLabelValues("ok").Inc()
	return nil
}

// Remove deletes an evicted image's artifact from the daemon.
func (a *Agent) Remove(ctx context.Context, image string) error {
	a.logger.Info().Str("image", image).Msg("Removing image")

	opts := docker.RemoveImageOptions{Context: ctx}
	if err := a.client.RemoveImageExtended(image, opts); err != nil {
		metrics.ImageRemovalsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to remove image %s: %w", image, err)
	}

	a.inspectLRU.Remove(image)
	metrics.ImageRemovalsTotal.WithLabelValues("ok").Inc()
	return nil
}

// ImageSize returns the on-disk size of an image, caching inspect
// results so repeated snapshot reporting does not hammer the daemon.
func (a *Agent) ImageSize(image string) (int64, error) {
	if size, ok := a.inspectLRU.Get(image); ok {
		return size, nil
	}

	info, err := a.client.InspectImage(image)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect image %s: %w", image, err)
	}

	a.inspectLRU.Add(image, info.Size)
	return info.Size, nil
}

// Run executes a workload: create a container from the image, start
// it, wait for it to exit and remove it. The caller reports the
// completion to the cache via Release.
func (a *Agent) Run(ctx context.Context, image, name string, cmd []string) error {
	container, err := a.client.CreateContainer(docker.CreateContainerOptions{
		Name: name,
		Config: &docker.Config{
			Image: image,
			Cmd:   cmd,
		},
		Context: ctx,
	})
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}

	// best effort cleanup on any exit path below
	defer func() {
		rmopts := docker.RemoveContainerOptions{ID: container.ID, Force: true}
		if err := a.client.RemoveContainer(rmopts); err != nil {
			a.logger.Warn().Err(err).Str("container", name).Msg("Failed to remove container")
		}
	}()

	if err := a.client.StartContainerWithContext(container.ID, nil, ctx); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}

	a.logger.Info().
		Str("image", image).
		Str("container", name).
		Msg("Container started")

	status, err := a.client.WaitContainerWithContext(container.ID, ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for container %s: %w", name, err)
	}
	if status != 0 {
		return fmt.Errorf("container %s exited with status %d", name, status)
	}

	a.logger.Info().Str("container", name).Msg("Container finished")
	return nil
}
