package discovery

import (
	"context"
	"net"
	"strconv"

	"github.com/libp2p/zeroconf/v2"

	ncerr "hublink/internal/errors"
	"hublink/util"
)

// AnnounceOptions describes a service instance to advertise.
type AnnounceOptions struct {
	Instance    string
	ServiceType string
	Domain      string
	Port        int
	Text        []string
	Ifaces      []net.Interface // nil advertises on all multicast interfaces
	Logger      *util.Logger
}

// Validate checks the announcement before anything touches the network.
func (o AnnounceOptions) Validate() error {
	if o.Instance == "" || o.Instance == NoSelection {
		return &ncerr.ConfigError{
			Field:   "announce",
			Value:   o.Instance,
			Message: "instance name is required",
			Hint:    "pick the name clients will pass to --service",
		}
	}
	if o.ServiceType == "" {
		return &ncerr.ConfigError{Field: "service-type", Message: "required to announce"}
	}
	if !util.ValidPort(o.Port) {
		return ncerr.PortError("port", o.Port)
	}
	return nil
}

// Announce registers the instance over mDNS and keeps it advertised
// until ctx is done, then withdraws it.
func Announce(ctx context.Context, opts AnnounceOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Domain == "" {
		opts.Domain = DefaultDomain
	}
	log := util.OrDiscard(opts.Logger)

	server, err := zeroconf.Register(opts.Instance, opts.ServiceType, opts.Domain,
		opts.Port, opts.Text, opts.Ifaces)
	if err != nil {
		return ncerr.Wrap("announce", opts.Instance+"."+serviceDomain(opts.ServiceType, opts.Domain), err)
	}
	defer server.Shutdown()

	log.Info("announcing %q as %s on port %s", opts.Instance,
		serviceDomain(opts.ServiceType, opts.Domain), strconv.Itoa(opts.Port))
	<-ctx.Done()
	log.Verbose("withdrawing %q", opts.Instance)
	return nil
}
