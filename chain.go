package skillchain

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// TransitionType identifies the next action taken after a link attempt
// reaches a terminal outcome.
type TransitionType string

const (
	TransitionComplete TransitionType = "complete"
	TransitionNextLink TransitionType = "next_link"
	TransitionGoToLink TransitionType = "goto_link"
	TransitionRetry    TransitionType = "retry"
	TransitionEscalate TransitionType = "escalate"
)

// Valid reports whether t is one of the known transition types.
func (t TransitionType) Valid() bool {
	switch t {
	case TransitionComplete, TransitionNextLink, TransitionGoToLink,
		TransitionRetry, TransitionEscalate:
		return true
	}
	return false
}

// Link is one immutable step of a chain. Positions are 0-based, unique, and
// contiguous within a chain; "next link" navigation relies on that ordering.
type Link struct {
	ID              string         `json:"id" yaml:"id"`
	Name            string         `json:"name" yaml:"name"`
	Position        int            `json:"position" yaml:"position"`
	MaxRetries      int            `json:"max_retries" yaml:"max_retries"`
	OnSuccess       TransitionType `json:"on_success" yaml:"on_success"`
	OnSuccessTarget string         `json:"on_success_target,omitempty" yaml:"on_success_target,omitempty"`
	OnFailure       TransitionType `json:"on_failure" yaml:"on_failure"`
	OnFailureTarget string         `json:"on_failure_target,omitempty" yaml:"on_failure_target,omitempty"`
}

// ChainOptions are used to configure a chain.
type ChainOptions struct {
	ID               string  `json:"id" yaml:"id"`
	Name             string  `json:"name" yaml:"name"`
	Description      string  `json:"description,omitempty" yaml:"description,omitempty"`
	Published        bool    `json:"published" yaml:"published"`
	MaxTotalFailures int     `json:"max_total_failures" yaml:"max_total_failures"`
	Links            []*Link `json:"links" yaml:"links"`
}

// Chain is an ordered, immutable workflow definition composed of links.
// The execution engine only reads chains; authoring and publishing live in a
// separate subsystem.
type Chain struct {
	id               string
	name             string
	description      string
	published        bool
	maxTotalFailures int
	links            []*Link
	linksByID        map[string]*Link
}

// NewChain returns a new Chain configured with the given options.
func NewChain(opts ChainOptions) (*Chain, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("chain name required")
	}
	if len(opts.Links) == 0 {
		return nil, fmt.Errorf("chain must have at least one link")
	}
	if opts.MaxTotalFailures <= 0 {
		return nil, fmt.Errorf("max total failures must be positive")
	}
	if opts.ID == "" {
		opts.ID = NewChainID()
	}

	links := make([]*Link, len(opts.Links))
	copy(links, opts.Links)
	sort.Slice(links, func(i, j int) bool {
		return links[i].Position < links[j].Position
	})

	linksByID := make(map[string]*Link, len(links))
	for i, link := range links {
		if link.ID == "" {
			return nil, fmt.Errorf("link %q id required", link.Name)
		}
		if link.Name == "" {
			return nil, fmt.Errorf("link %q name required", link.ID)
		}
		if link.Position != i {
			return nil, fmt.Errorf("link positions must be unique and contiguous from 0 (got %d at index %d)", link.Position, i)
		}
		if link.MaxRetries < 0 {
			return nil, fmt.Errorf("link %q max retries must be non-negative", link.Name)
		}
		if _, exists := linksByID[link.ID]; exists {
			return nil, fmt.Errorf("duplicate link id %q", link.ID)
		}
		linksByID[link.ID] = link
	}

	// Apply default transitions before validating targets
	for _, link := range links {
		if link.OnSuccess == "" {
			link.OnSuccess = TransitionNextLink
		}
		if link.OnFailure == "" {
			link.OnFailure = TransitionEscalate
		}
	}
	if err := validateChainLinks(linksByID); err != nil {
		return nil, fmt.Errorf("chain validation failed: %w", err)
	}

	return &Chain{
		id:               opts.ID,
		name:             opts.Name,
		description:      opts.Description,
		published:        opts.Published,
		maxTotalFailures: opts.MaxTotalFailures,
		links:            links,
		linksByID:        linksByID,
	}, nil
}

// validateChainLinks validates link transitions and their targets
func validateChainLinks(linksByID map[string]*Link) error {
	for _, link := range linksByID {
		if !link.OnSuccess.Valid() {
			return fmt.Errorf("link %q has unknown success transition %q", link.Name, link.OnSuccess)
		}
		if !link.OnFailure.Valid() {
			return fmt.Errorf("link %q has unknown failure transition %q", link.Name, link.OnFailure)
		}
		if link.OnSuccess == TransitionGoToLink {
			if _, ok := linksByID[link.OnSuccessTarget]; !ok {
				return fmt.Errorf("link %q success target %q not found", link.Name, link.OnSuccessTarget)
			}
		}
		if link.OnFailure == TransitionGoToLink {
			if _, ok := linksByID[link.OnFailureTarget]; !ok {
				return fmt.Errorf("link %q failure target %q not found", link.Name, link.OnFailureTarget)
			}
		}
	}
	return nil
}

// ID returns the chain ID
func (c *Chain) ID() string {
	return c.id
}

// Name returns the chain name
func (c *Chain) Name() string {
	return c.name
}

// Description returns the chain description
func (c *Chain) Description() string {
	return c.description
}

// Published reports whether the chain is published and therefore executable.
func (c *Chain) Published() bool {
	return c.published
}

// MaxTotalFailures bounds cumulative failures across an execution before
// mandatory escalation.
func (c *Chain) MaxTotalFailures() int {
	return c.maxTotalFailures
}

// Links returns the chain links ordered by position.
func (c *Chain) Links() []*Link {
	return c.links
}

// FirstLink returns the link at position 0.
func (c *Chain) FirstLink() *Link {
	return c.links[0]
}

// GetLink returns a link by id
func (c *Chain) GetLink(id string) (*Link, bool) {
	link, ok := c.linksByID[id]
	return link, ok
}

// NextAfter returns the link with the smallest position strictly greater
// than the given position, if one exists.
func (c *Chain) NextAfter(position int) (*Link, bool) {
	for _, link := range c.links {
		if link.Position > position {
			return link, true
		}
	}
	return nil, false
}

// LoadChainFile loads a chain definition from a YAML file
func LoadChainFile(path string) (*Chain, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain file: %w", err)
	}
	var opts ChainOptions
	if err := yaml.Unmarshal(yamlData, &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain file: %w", err)
	}
	return NewChain(opts)
}

// LoadChainString loads a chain definition from a YAML string
func LoadChainString(data string) (*Chain, error) {
	var opts ChainOptions
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chain definition: %w", err)
	}
	return NewChain(opts)
}

// ChainProvider supplies published chain definitions to the engine. The
// chain-authoring subsystem owns the definitions; the engine treats them as
// read-only input.
type ChainProvider interface {
	GetChain(ctx context.Context, chainID string) (*Chain, error)
}

// ChainRegistry is an in-memory ChainProvider.
type ChainRegistry struct {
	mutex  sync.RWMutex
	chains map[string]*Chain
}

// NewChainRegistry creates an empty chain registry.
func NewChainRegistry(chains ...*Chain) *ChainRegistry {
	r := &ChainRegistry{chains: map[string]*Chain{}}
	for _, chain := range chains {
		r.chains[chain.ID()] = chain
	}
	return r
}

// Register adds or replaces a chain in the registry.
func (r *ChainRegistry) Register(chain *Chain) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.chains[chain.ID()] = chain
}

// GetChain returns a chain by id.
func (r *ChainRegistry) GetChain(ctx context.Context, chainID string) (*Chain, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	chain, ok := r.chains[chainID]
	if !ok {
		return nil, NewNotFoundError("chain %q not found", chainID)
	}
	return chain, nil
}
