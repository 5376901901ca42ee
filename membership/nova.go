package membership

import (
	"context"
	"regexp"

	"github.com/flaviostutz/sharedfs/filesystem"
	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
	"github.com/gophercloud/gophercloud/openstack/identity/v3/projects"
	"github.com/gophercloud/gophercloud/pagination"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var deadStatuses = map[string]bool{
	"DELETED":      true,
	"SOFT_DELETED": true,
}

// Authenticate builds a provider client from the OS_* environment variables
func Authenticate() (*gophercloud.ProviderClient, error) {
	opts, err := openstack.AuthOptionsFromEnv()
	if err != nil {
		return nil, err
	}
	opts.AllowReauth = true
	return openstack.AuthenticatedClient(opts)
}

// NovaDirectory reads instances from the compute API with admin (all_tenants) listing
type NovaDirectory struct {
	compute *gophercloud.ServiceClient
}

var _ Directory = &NovaDirectory{}

// NewNovaDirectory locates the compute endpoint in the provider catalog
func NewNovaDirectory(provider *gophercloud.ProviderClient) (*NovaDirectory, error) {
	client, err := openstack.NewComputeV2(provider,
		gophercloud.EndpointOpts{Availability: gophercloud.AvailabilityPublic},
	)
	if err != nil {
		return nil, err
	}
	return &NovaDirectory{compute: client}, nil
}

func (n *NovaDirectory) ListInstances(ctx context.Context) ([]filesystem.Instance, error) {
	list, err := n.listServers(ctx, servers.ListOpts{AllTenants: true})
	if err != nil {
		return nil, err
	}
	return toInstances(list), nil
}

func (n *NovaDirectory) ListProjectInstances(ctx context.Context, project string) ([]filesystem.Instance, error) {
	list, err := n.listServers(ctx, servers.ListOpts{AllTenants: true, TenantID: project})
	if err != nil {
		return nil, err
	}
	return toInstances(list), nil
}

func (n *NovaDirectory) GetInstance(ctx context.Context, id string) (*filesystem.Instance, error) {
	server, err := n.getServer(ctx, id)
	if err != nil {
		return nil, err
	}
	instance := toInstance(*server)
	return &instance, nil
}

// Addresses returns the fixed addresses of the instance, the ones a
// filesystem allow-list must carry
func (n *NovaDirectory) Addresses(ctx context.Context, id string) ([]string, error) {
	server, err := n.getServer(ctx, id)
	if err != nil {
		return nil, err
	}
	return fixedAddresses(*server), nil
}

func (n *NovaDirectory) FindByAddress(ctx context.Context, address string) (*filesystem.Instance, error) {
	opts := servers.ListOpts{AllTenants: true, IP: "^" + regexp.QuoteMeta(address) + "$"}
	list, err := n.listServers(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, server := range list {
		for _, a := range fixedAddresses(server) {
			if a == address {
				instance := toInstance(server)
				return &instance, nil
			}
		}
	}
	return nil, errors.Wrapf(filesystem.ErrNotFound, "no instance with address %s", address)
}

func (n *NovaDirectory) getServer(ctx context.Context, id string) (*servers.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	server, err := servers.Get(n.compute, id).Extract()
	if err != nil {
		return nil, novaError(err, "instance "+id)
	}
	if deadStatuses[server.Status] {
		return nil, errors.Wrapf(filesystem.ErrNotFound, "instance %s is %s", id, server.Status)
	}
	return server, nil
}

func (n *NovaDirectory) listServers(ctx context.Context, opts servers.ListOpts) ([]servers.Server, error) {
	var result []servers.Server
	err := servers.List(n.compute, opts).EachPage(func(page pagination.Page) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		instances, err := servers.ExtractServers(page)
		if err != nil {
			return false, err
		}
		for _, instance := range instances {
			if deadStatuses[instance.Status] {
				continue
			}
			result = append(result, instance)
		}
		return true, nil
	})
	if err != nil {
		return nil, novaError(err, "instance listing")
	}
	return result, nil
}

func toInstance(server servers.Server) filesystem.Instance {
	return filesystem.Instance{ID: server.ID, Name: server.Name, Project: server.TenantID}
}

func toInstances(list []servers.Server) []filesystem.Instance {
	result := make([]filesystem.Instance, 0, len(list))
	for _, server := range list {
		result = append(result, toInstance(server))
	}
	return result
}

// fixedAddresses walks the addresses map, {"<network>": [{"addr": ..., "OS-EXT-IPS:type": "fixed"}]}
func fixedAddresses(server servers.Server) []string {
	var result []string
	for network, raw := range server.Addresses {
		entries, ok := raw.([]interface{})
		if !ok {
			logrus.Debugf("unexpected address format for instance %s network %s", server.ID, network)
			continue
		}
		for _, e := range entries {
			entry, ok := e.(map[string]interface{})
			if !ok {
				continue
			}
			if ipType, ok := entry["OS-EXT-IPS:type"].(string); ok && ipType != "fixed" {
				continue
			}
			if addr, ok := entry["addr"].(string); ok && addr != "" {
				result = append(result, addr)
			}
		}
	}
	return result
}

func novaError(err error, what string) error {
	var notFound gophercloud.ErrDefault404
	if errors.As(err, &notFound) {
		return errors.Wrapf(filesystem.ErrNotFound, "%s", what)
	}
	var forbidden gophercloud.ErrDefault403
	if errors.As(err, &forbidden) {
		return errors.Wrapf(filesystem.ErrUnauthorized, "%s", what)
	}
	return errors.Wrapf(filesystem.ErrBackendUnavailable, "%s: %s", what, err)
}

// NovaProjects resolves project names through the identity v3 API
type NovaProjects struct {
	identity *gophercloud.ServiceClient
}

// NewNovaProjects locates the identity endpoint in the provider catalog
func NewNovaProjects(provider *gophercloud.ProviderClient) (*NovaProjects, error) {
	client, err := openstack.NewIdentityV3(provider, gophercloud.EndpointOpts{})
	if err != nil {
		return nil, err
	}
	return &NovaProjects{identity: client}, nil
}

func (p *NovaProjects) ProjectName(ctx context.Context, id string) (string, error) {
	project, err := projects.Get(p.identity, id).Extract()
	if err != nil {
		return "", novaError(err, "project "+id)
	}
	return project.Name, nil
}
