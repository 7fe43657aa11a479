package config

import "time"

// Policy file schema field names and globals
const (
	luaGlobalSandbox        = "sandbox"
	luaFieldMeta            = "meta"
	luaFieldName            = "name"
	luaFieldDesc            = "description"
	luaFieldRules           = "rules"
	luaFieldPresets         = "presets"
	luaFieldMaxExecTime     = "max_exec_time"
	luaFieldMaxCallbackPool = "max_callback_pool_size"
)

// Limits applied while reading policy files.
const (
	// MaxPolicySize is the largest policy file accepted, in bytes.
	MaxPolicySize = 10 * 1024 * 1024

	// MaxRuleCount is the largest number of rules one file may declare.
	MaxRuleCount = 10000

	// DefaultParseTimeout bounds Lua policy evaluation when ctx has no deadline.
	DefaultParseTimeout = 5 * time.Second

	luaCallStackSize = 256
	luaRegistrySize  = 8 * 1024
)
