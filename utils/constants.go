package utils

import (
	"time"
)

// Acquisition defaults
const (
	// DefaultPageBudget is the number of upstream sub-pages pulled per controller iteration
	DefaultPageBudget = 4

	// DefaultGraphPageSize is the number of records asked for in one upstream sub-page
	DefaultGraphPageSize = 50

	// DefaultChunkDelay is the pause between successful pages
	DefaultChunkDelay = 1500 * time.Millisecond

	// DefaultTurboChunkDelay is the pause between successful pages in turbo mode
	DefaultTurboChunkDelay = 300 * time.Millisecond

	// DefaultRateLimitCooldown is the pause after the upstream reports a rate limit
	DefaultRateLimitCooldown = 60 * time.Second

	// DefaultUpstreamCallTimeout bounds every single page or send call
	DefaultUpstreamCallTimeout = 30 * time.Second
)

// Dispatch defaults
const (
	// DefaultDispatchDelay is the pause between two consecutive sends
	DefaultDispatchDelay = 3 * time.Second

	// MinDispatchDelay is the smallest pause an operator may configure
	MinDispatchDelay = 500 * time.Millisecond

	// DefaultFallbackName replaces {name} when a recipient has no display name
	DefaultFallbackName = "there"

	// NamePlaceholder is the personalization token inside message templates
	NamePlaceholder = "{name}"

	// DefaultPreviewLength is the max rune length stored as conversation preview
	DefaultPreviewLength = 120
)

// Lock and cache constants
const (
	// AccountLockTTL bounds how long a crashed instance can hold an account lock
	AccountLockTTL = 6 * time.Hour

	// AccountLockPrefix namespaces account run locks in redis
	AccountLockPrefix = "creator-console:lock:account:"

	// RunRetention is how long a finished run stays in the in-memory run registry
	RunRetention = time.Hour
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)
