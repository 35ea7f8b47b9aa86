package errors

import "sort"

// Template defines a registered error type.
type Template struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// Configuration (E100-E119)

	"E100": {
		Category:   CategoryConfig,
		Message:    "Config file not found",
		Detail:     "The configuration file given on the command line does not exist.",
		Suggestion: "Run 'observe serve' without --config to use defaults",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Invalid config file",
		Detail:   "The configuration file is not valid JSON or has fields of the wrong type.",
	},
	"E102": {
		Category:   CategoryConfig,
		Message:    "Invalid listen address",
		Suggestion: `Use host:port, for example ":8080" or "127.0.0.1:9000"`,
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid duration",
		Detail:   "Durations use Go syntax such as \"30s\" or \"1m30s\" and must be positive.",
	},
	"E104": {
		Category: CategoryConfig,
		Message:  "Invalid limit",
		Detail:   "Limits must be zero (unlimited) or positive.",
	},
	"E105": {
		Category: CategoryConfig,
		Message:  "Invalid log level",
		Detail:   "The log level must be one of debug, info, warn or error.",
	},
	"E106": {
		Category:   CategoryConfig,
		Message:    "Invalid environment override",
		Suggestion: "Check the OBSERVE_* variables in your environment",
	},

	// Storage (E120-E139)

	"E120": {
		Category: CategoryStorage,
		Message:  "Unknown storage driver",
		Detail:   "The storage driver must be one of memory, sqlite, pgx or s3.",
	},
	"E121": {
		Category:   CategoryStorage,
		Message:    "Missing storage DSN",
		Suggestion: `Set storage.dsn, for example "file:observe.db" for sqlite`,
	},
	"E122": {
		Category: CategoryStorage,
		Message:  "Missing S3 bucket",
		Detail:   "The s3 storage driver needs a bucket name.",
	},
	"E123": {
		Category: CategoryStorage,
		Message:  "Storage unavailable",
		Detail:   "The storage backend could not be opened or reached.",
	},

	// Transport (E140-E159)

	"E140": {
		Category: CategoryTransport,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error.",
	},
	"E141": {
		Category:   CategoryTransport,
		Message:    "Address in use",
		Suggestion: "Stop the other process or pick another address with --addr",
	},

	// CLI (E160-E179)

	"E160": {
		Category:   CategoryCLI,
		Message:    "Unknown demo",
		Suggestion: "Run 'observe demo --help' to list the demos",
	},
}

// Codes returns all registered error codes in order.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
