// Package discovery implements the periodic upstream-discovery loop (spec
// section 4.6): it lists running containers, skips its own container, joins
// the remaining ones to the gateway's overlay network, enumerates their
// exposed TCP ports, and swaps the forwarder's target pool to match.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// ContainerRuntime is the thin seam over the container engine. The Docker
// implementation below talks to the daemon's unix socket directly with
// net/http rather than importing the full Docker SDK, since none of the
// example repos in the retrieval pack carry that dependency.
type ContainerRuntime interface {
	// ListContainers returns every container the runtime knows about,
	// running or not; the loop filters and joins them (spec section 4.6
	// steps 1-2).
	ListContainers(ctx context.Context) ([]ContainerInfo, error)
	// JoinNetwork attaches containerID to network. Idempotent: a container
	// already on the network is success, not an error (spec section 4.6
	// step 3).
	JoinNetwork(ctx context.Context, network, containerID string) error
}

// ContainerInfo is the subset of container metadata the discovery loop
// needs to build one forwarder.Target per exposed port.
type ContainerInfo struct {
	ID      string
	Name    string
	IP      string
	Ports   []int
	Running bool
}

// DockerRuntime talks to the Docker Engine API over its unix socket.
type DockerRuntime struct {
	client *http.Client
}

// NewDockerRuntime constructs a runtime pointed at the standard Docker
// socket.
func NewDockerRuntime() *DockerRuntime {
	return &DockerRuntime{
		client: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", "/var/run/docker.sock")
				},
			},
			Timeout: 5 * time.Second,
		},
	}
}

type dockerContainer struct {
	Id    string
	Names []string
	State string
	Ports []struct {
		PrivatePort int
		Type        string
	}
	NetworkSettings struct {
		Networks map[string]struct {
			IPAddress string
		}
	}
}

// ListContainers returns every container the daemon reports, regardless of
// network membership — the network-join step (JoinNetwork) is what puts a
// container onto the gateway's overlay network, not this call.
func (d *DockerRuntime) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix/containers/json?all=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docker list containers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("docker list containers: status %d", resp.StatusCode)
	}

	var raw []dockerContainer
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("docker list containers decode: %w", err)
	}

	out := make([]ContainerInfo, 0, len(raw))
	for _, c := range raw {
		name := strings.TrimPrefix(firstOr(c.Names, c.Id), "/")

		var ip string
		for _, n := range c.NetworkSettings.Networks {
			if n.IPAddress != "" {
				ip = n.IPAddress
				break
			}
		}

		ports := make([]int, 0, len(c.Ports))
		seen := make(map[int]struct{}, len(c.Ports))
		for _, p := range c.Ports {
			if p.PrivatePort == 0 || !strings.EqualFold(p.Type, "tcp") {
				continue
			}
			if _, dup := seen[p.PrivatePort]; dup {
				continue
			}
			seen[p.PrivatePort] = struct{}{}
			ports = append(ports, p.PrivatePort)
		}

		out = append(out, ContainerInfo{
			ID:      c.Id,
			Name:    name,
			IP:      ip,
			Ports:   ports,
			Running: strings.EqualFold(c.State, "running"),
		})
	}
	return out, nil
}

// JoinNetwork issues a network-connect call for containerID. Docker reports
// an already-joined container as 304 or 409, both treated as success (spec
// section 4.6 step 3).
func (d *DockerRuntime) JoinNetwork(ctx context.Context, network, containerID string) error {
	body, err := json.Marshal(map[string]string{"Container": containerID})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("http://unix/networks/%s/connect", network)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("docker join network: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusNotModified, http.StatusConflict:
		return nil
	default:
		return fmt.Errorf("docker join network: status %d", resp.StatusCode)
	}
}

func firstOr(names []string, fallback string) string {
	if len(names) > 0 {
		return names[0]
	}
	return fallback
}
