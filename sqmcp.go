package sqmcp

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rickchristie/sqlite-mcp/internal/errprompt"
	"github.com/rickchristie/sqlite-mcp/internal/hooks"
	"github.com/rickchristie/sqlite-mcp/internal/pathauth"
	"github.com/rickchristie/sqlite-mcp/internal/sanitize"
	"github.com/rickchristie/sqlite-mcp/internal/timeout"
)

// SqliteMcp is the core engine that provides ReadQuery, ListTables, and
// DescribeTable tools over operator-allowed SQLite database files.
// All exported methods are safe for concurrent use from multiple goroutines.
type SqliteMcp struct {
	config        Config
	authorizer    *pathauth.Authorizer
	semaphore     chan struct{}
	cmdHooks      *hooks.Runner          // command-based hooks (CLI mode)
	goBeforeHooks []BeforeQueryHookEntry // Go function hooks (library mode)
	goAfterHooks  []AfterQueryHookEntry  // Go function hooks (library mode)
	sanitizer     *sanitize.Sanitizer
	errPrompts    *errprompt.Matcher
	timeoutMgr    *timeout.Manager
	logger        zerolog.Logger
}

// Option is a functional option for New().
type Option func(*options)

type options struct {
	serverHooks *ServerHooksConfig
}

// WithServerHooks passes command-based hook configuration to SqliteMcp.
// Mutually exclusive with Config.BeforeQueryHooks/AfterQueryHooks (Go hooks).
func WithServerHooks(h ServerHooksConfig) Option {
	return func(o *options) {
		o.serverHooks = &h
	}
}

// New creates a new SqliteMcp instance.
// Config.AllowedPaths is the allow-list of absolute database files and
// directories; every entry must exist, otherwise New returns an error and
// the process must not start serving.
// Panics on invalid config shape. Returns error only for runtime failures
// (e.g. an allow-list entry that does not exist).
func New(config Config, logger zerolog.Logger, opts ...Option) (*SqliteMcp, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	// --- Config validation (panics on invalid config) ---

	if config.Query.MaxConcurrent <= 0 {
		panic("sqmcp: query.max_concurrent must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds <= 0 {
		panic("sqmcp: query.default_timeout_seconds must be > 0")
	}
	if config.Query.ListTablesTimeoutSeconds <= 0 {
		panic("sqmcp: query.list_tables_timeout_seconds must be > 0")
	}
	if config.Query.DescribeTableTimeoutSeconds <= 0 {
		panic("sqmcp: query.describe_table_timeout_seconds must be > 0")
	}

	// Apply defaults for zero values
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = 100000
	}
	if config.Query.MaxResultLength == 0 {
		config.Query.MaxResultLength = 100000
	}
	if config.Query.DefaultRowLimit == 0 {
		config.Query.DefaultRowLimit = 1000
	}
	if config.Query.MaxSQLLength < 0 {
		panic("sqmcp: query.max_sql_length must be > 0")
	}
	if config.Query.MaxResultLength < 0 {
		panic("sqmcp: query.max_result_length must be > 0")
	}
	if config.Query.DefaultRowLimit < 0 {
		panic("sqmcp: query.default_row_limit must be > 0")
	}

	// Validate hook configuration: Go hooks and command hooks are mutually exclusive
	hasGoHooks := len(config.BeforeQueryHooks) > 0 || len(config.AfterQueryHooks) > 0
	hasCmdHooks := o.serverHooks != nil && (len(o.serverHooks.BeforeQuery) > 0 || len(o.serverHooks.AfterQuery) > 0)
	if hasGoHooks && hasCmdHooks {
		panic("sqmcp: Go hooks (Config.BeforeQueryHooks/AfterQueryHooks) and command hooks (WithServerHooks) are mutually exclusive")
	}

	if hasGoHooks && config.DefaultHookTimeoutSeconds <= 0 {
		panic("sqmcp: default_hook_timeout_seconds must be > 0 when Go hooks are configured")
	}
	for _, entry := range config.BeforeQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("sqmcp: before_query hook %q has negative timeout", entry.Name))
		}
	}
	for _, entry := range config.AfterQueryHooks {
		if entry.Timeout < 0 {
			panic(fmt.Sprintf("sqmcp: after_query hook %q has negative timeout", entry.Name))
		}
	}

	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("sqmcp: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}

	// --- Build the allow-list ---
	// Entries are resolved and verified eagerly; a missing path is a
	// startup failure, never deferred to invocation time.

	authorizer, err := pathauth.NewAuthorizer(config.AllowedPaths)
	if err != nil {
		return nil, fmt.Errorf("failed to build allowed path set: %w", err)
	}

	// --- Initialize internal components ---

	san := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	matcher := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})

	var cmdHooks *hooks.Runner
	if hasCmdHooks {
		hookEntries := func(entries []HookEntry) []hooks.HookEntry {
			result := make([]hooks.HookEntry, len(entries))
			for i, e := range entries {
				result[i] = hooks.HookEntry{
					Pattern: e.Pattern,
					Command: e.Command,
					Args:    e.Args,
					Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
				}
			}
			return result
		}
		cmdHooks = hooks.NewRunner(hooks.Config{
			DefaultTimeout: time.Duration(config.DefaultHookTimeoutSeconds) * time.Second,
			BeforeQuery:    hookEntries(o.serverHooks.BeforeQuery),
			AfterQuery:     hookEntries(o.serverHooks.AfterQuery),
		}, logger)
	}

	return &SqliteMcp{
		config:        config,
		authorizer:    authorizer,
		semaphore:     make(chan struct{}, config.Query.MaxConcurrent),
		cmdHooks:      cmdHooks,
		goBeforeHooks: config.BeforeQueryHooks,
		goAfterHooks:  config.AfterQueryHooks,
		sanitizer:     san,
		errPrompts:    matcher,
		timeoutMgr:    tmgr,
		logger:        logger,
	}, nil
}

// mapSanitizationRules converts sqmcp SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts sqmcp ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}
