package subagent

import "time"

const DefaultReceiveTimeout = time.Second

// Config holds the configuration for a SubAgent
type Config struct {
	// AgentID is the mailbox the agent reads from and the sender of its replies
	AgentID string

	// Name is the human-readable name of the agent
	Name string

	// Description is a brief description of what the agent does
	Description string

	// Version is the agent version (optional, defaults to "1.0.0")
	Version string

	// ReceiveTimeout bounds each wait on the mailbox (optional, defaults to 1s).
	// It only sets how often the loop wakes up; Run stops on ctx.
	ReceiveTimeout time.Duration
}

// WithDefaults returns a new Config with default values applied for optional fields
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.Version == "" {
		config.Version = "1.0.0"
	}

	if config.ReceiveTimeout <= 0 {
		config.ReceiveTimeout = DefaultReceiveTimeout
	}

	return &config
}

// Validate checks if the required configuration fields are set
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return ErrMissingAgentID
	}

	if c.Name == "" {
		return ErrMissingName
	}

	if c.Description == "" {
		return ErrMissingDescription
	}

	return nil
}
