package factory

import (
	"fmt"
	"sort"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/engine/table"
	"NetSpectraTables/internal/model"

	"go.uber.org/zap"
)

// Tap is the backend that feeds a table pair.
type Tap interface {
	Name() string
	ProcessPacket(p *model.PacketInfo) bool
	Drain() (model.ConversationBatch, model.EndpointBatch)
	Reset()
}

// TableSet is the conversation and endpoint table of one protocol together
// with the tap that feeds them.
type TableSet struct {
	Name          string
	Tap           Tap
	Conversations *table.ConversationTable
	Endpoints     *table.EndpointTable
}

// TableFactory creates the table set of one protocol. opts carries the
// settings shared by every table; factories fill in the protocol fields.
type TableFactory func(cfg *config.Config, opts table.Options) (*TableSet, error)

// registry holds the mapping of table types to their factory functions.
var registry = make(map[string]TableFactory)

// RegisterTable registers a new table type with its factory function.
func RegisterTable(name string, factory TableFactory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("table type '%s' already registered", name))
	}
	registry[name] = factory
}

// Registered returns the registered table types in sorted order.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create creates the table sets named in cfg.Tables.Types, in that order.
func Create(cfg *config.Config, opts table.Options) ([]*TableSet, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	sets := make([]*TableSet, 0, len(cfg.Tables.Types))
	seen := make(map[string]bool, len(cfg.Tables.Types))

	for _, name := range cfg.Tables.Types {
		if seen[name] {
			return nil, fmt.Errorf("table type '%s' listed twice", name)
		}
		seen[name] = true

		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown table type: '%s' (registered: %v)", name, Registered())
		}

		set, err := factory(cfg, opts)
		if err != nil {
			return nil, fmt.Errorf("error creating table type '%s': %w", name, err)
		}
		set.Name = name
		logger.Infow("created table set", "type", name, "protocol", set.Conversations.Protocol())
		sets = append(sets, set)
	}

	return sets, nil
}
