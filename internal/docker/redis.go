package docker

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// Port range for run-local Redis containers (allows 100 concurrent runs)
	startPort = 6379
	endPort   = 6478

	redisImage = "redis:7-alpine"
)

// FindNextAvailablePort finds the next available port for Redis, starting from 6379.
// Returns the port number or error if all ports in range (6379-6478) are exhausted.
// Checks both Docker container labels and actual port bindability on the host.
func FindNextAvailablePort(ctx context.Context, cli *client.Client) (int, error) {
	// Query Docker for existing bandscan.redis.port labels
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=true", LabelProject))
	filter.Add("label", fmt.Sprintf("%s=redis", LabelComponent))

	containers, err := cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filter,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to query Docker containers: %w", err)
	}

	// Build set of used ports from Docker labels
	usedPorts := make(map[int]bool)
	for _, c := range containers {
		if portStr, ok := c.Labels[LabelRedisPort]; ok {
			if port, err := strconv.Atoi(portStr); err == nil {
				usedPorts[port] = true
			}
		}
	}

	// Find first available port
	for port := startPort; port <= endPort; port++ {
		if usedPorts[port] {
			continue
		}

		if isPortBindable(port) {
			return port, nil
		}
	}

	return 0, fmt.Errorf("no available Redis ports (range %d-%d exhausted)", startPort, endPort)
}

// isPortBindable checks whether the port can actually be bound on localhost.
func isPortBindable(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// StartLocalRedis starts a Redis container for a run's ledger and returns its
// host address. The container is labelled with the run identity so `bandscan
// status` and cleanup can find it later. If a labelled container for this run
// already exists, its recorded port is reused.
func StartLocalRedis(ctx context.Context, cli *client.Client, runName, runID string) (string, error) {
	// Reuse an existing container for this run if one is up
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=%s", LabelRunName, runName))
	filter.Add("label", fmt.Sprintf("%s=redis", LabelComponent))

	existing, err := cli.ContainerList(ctx, types.ContainerListOptions{Filters: filter})
	if err != nil {
		return "", fmt.Errorf("failed to query Docker containers: %w", err)
	}
	if len(existing) > 0 {
		if portStr, ok := existing[0].Labels[LabelRedisPort]; ok {
			return fmt.Sprintf("127.0.0.1:%s", portStr), nil
		}
	}

	port, err := FindNextAvailablePort(ctx, cli)
	if err != nil {
		return "", fmt.Errorf("failed to allocate Redis port: %w", err)
	}

	labels := BuildLabels(runName, runID, "redis")
	labels[LabelRedisPort] = fmt.Sprintf("%d", port)

	resp, err := cli.ContainerCreate(ctx, &container.Config{
		Image:  redisImage,
		Labels: labels,
		ExposedPorts: nat.PortSet{
			"6379/tcp": struct{}{},
		},
	}, &container.HostConfig{
		PortBindings: nat.PortMap{
			"6379/tcp": []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: fmt.Sprintf("%d", port),
				},
			},
		},
	}, nil, nil, RedisContainerName(runName))
	if err != nil {
		return "", fmt.Errorf("failed to create Redis container: %w", err)
	}

	if err := cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start Redis container: %w", err)
	}

	return fmt.Sprintf("127.0.0.1:%d", port), nil
}

// FindRunRedisAddr locates a running run-local Redis container by its labels
// and returns its host address.
func FindRunRedisAddr(ctx context.Context, cli *client.Client, runName string) (string, error) {
	filter := filters.NewArgs()
	filter.Add("label", fmt.Sprintf("%s=%s", LabelRunName, runName))
	filter.Add("label", fmt.Sprintf("%s=redis", LabelComponent))

	containers, err := cli.ContainerList(ctx, types.ContainerListOptions{Filters: filter})
	if err != nil {
		return "", fmt.Errorf("failed to query Docker containers: %w", err)
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("no Redis container found for run '%s'", runName)
	}

	portStr, ok := containers[0].Labels[LabelRedisPort]
	if !ok {
		return "", fmt.Errorf("redis container for run '%s' is missing its port label", runName)
	}
	return fmt.Sprintf("127.0.0.1:%s", portStr), nil
}
