package tool

import (
	"context"
	"time"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/logging"
)

// Catalog is the collaborator that knows which tools an agent may use.
// The Registry satisfies it for single-tenant setups.
type Catalog interface {
	ListTools(ctx context.Context, agentID, userID string) ([]core.ToolDefinition, error)
}

// Discoverer caches tool discovery per (agent, conversation). An entry is
// reused until either its TTL passes or the conversation advances by more
// than MaxMessageAge messages, whichever comes first.
type Discoverer struct {
	catalog       Catalog
	cache         *core.TTLCache[string, discoveryEntry]
	maxMessageAge int
	logger        logging.Logger
}

type discoveryEntry struct {
	defs         []core.ToolDefinition
	messageCount int
}

// DiscovererOptions configure a Discoverer.
type DiscovererOptions struct {
	// TTL bounds entry staleness by wall clock. Default 5 minutes.
	TTL time.Duration
	// MaxMessageAge bounds entry staleness by conversation progress.
	// Default 10 messages.
	MaxMessageAge int
	// CacheSize bounds the number of (agent, conversation) entries.
	CacheSize int
	Logger    logging.Logger
}

// NewDiscoverer creates a Discoverer over the given catalog.
func NewDiscoverer(catalog Catalog, optFns ...func(o *DiscovererOptions)) *Discoverer {
	opts := DiscovererOptions{
		TTL:           5 * time.Minute,
		MaxMessageAge: 10,
		CacheSize:     512,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Discoverer{
		catalog:       catalog,
		cache:         core.NewTTLCache[string, discoveryEntry](opts.CacheSize, opts.TTL),
		maxMessageAge: opts.MaxMessageAge,
		logger:        logging.OrNoOp(opts.Logger),
	}
}

// Discover returns the agent's tool definitions, served from cache when the
// entry is still fresh. messageCount is the conversation's current length,
// used for the message-age bound.
func (d *Discoverer) Discover(ctx context.Context, agentID, userID, conversationID string, messageCount int) ([]core.ToolDefinition, error) {
	key := agentID + "/" + conversationID
	if entry, ok := d.cache.Get(key); ok {
		if messageCount-entry.messageCount <= d.maxMessageAge {
			d.logger.Debug("tools.discovery.cache_hit", "agent_id", agentID, "tools", len(entry.defs))
			return entry.defs, nil
		}
	}

	defs, err := d.catalog.ListTools(ctx, agentID, userID)
	if err != nil {
		return nil, core.NewPipelineError("tool_discovery", core.KindToolExecution, err)
	}
	d.cache.Put(key, discoveryEntry{defs: defs, messageCount: messageCount})
	d.logger.Debug("tools.discovered", "agent_id", agentID, "tools", len(defs))
	return defs, nil
}

// Invalidate drops the cache entry for one (agent, conversation) pair.
func (d *Discoverer) Invalidate(agentID, conversationID string) {
	d.cache.Invalidate(agentID + "/" + conversationID)
}
