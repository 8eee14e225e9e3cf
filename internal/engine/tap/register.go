package tap

import (
	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/engine/table"
	"NetSpectraTables/internal/factory"
)

// --- Factory Registration ---

var registered = map[string]Kind{
	"eth":  Ethernet,
	"ipv4": IPv4,
	"ipv6": IPv6,
	"tcp":  TCP,
	"udp":  UDP,
}

func init() {
	for name, kind := range registered {
		factory.RegisterTable(name, newTableFactory(kind))
	}
}

func newTableFactory(kind Kind) factory.TableFactory {
	return func(cfg *config.Config, opts table.Options) (*factory.TableSet, error) {
		opts.Protocol = kind.ShortName()
		opts.HasPorts = kind.HasPorts()
		opts.Debug = opts.Debug || cfg.Debug
		return &factory.TableSet{
			Tap:           New(kind, opts.Logger),
			Conversations: table.NewConversationTable(opts),
			Endpoints:     table.NewEndpointTable(opts),
		}, nil
	}
}
