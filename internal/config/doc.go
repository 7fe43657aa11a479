// Package config reads, validates, generates and lints sandbox policy files.
//
// # Overview
//
// A policy file declares the rules a script sandbox is built from. The same
// schema can be written in three syntaxes:
//   - Lua (.lua): evaluated in a restricted VM and read from the global
//     "sandbox" table. Lua files may use the read-only "platform" table.
//   - YAML (.yaml, .yml): decoded with unknown keys rejected.
//   - JSON (.json, .jsonc): comments and trailing commas are accepted.
//
// # Architecture
//
// The package is organized into four components:
//
//  1. Parser (parser.go): Format detection, Lua evaluation and YAML/JSON
//     decoding into a PolicyFile.
//  2. Types (types.go): PolicyFile, validation and conversion to a
//     policy.Builder.
//  3. Generator (generator.go): Lua and YAML output, used by "policy init".
//  4. Lint (lint.go): Reports rules that grant more than intended.
//
// # Security Model
//
// Lua policy files run with os, io, debug, package loading and load/loadstring
// removed. Evaluation is bounded by the caller's context deadline, or by
// DefaultParseTimeout when there is none. Files larger than MaxPolicySize are
// rejected before they are read.
//
// # Usage
//
//	parser := config.NewParser(platform.NewDetector())
//	pf, err := parser.ParseFile(ctx, "policy.lua")
//	if err != nil {
//	    return err
//	}
//	p, err := pf.Builder().Build()
//
// # Policy Schema
//
//	sandbox = {
//	  meta = { name = "reports", description = "report scripts" },
//	  presets = { "standard_system_properties", "default_classes" },
//	  rules = {
//	    "class:luaguard.Math:*",
//	    "file.read:/srv/reports/**",
//	    platform.is_linux and "system.env:XDG_RUNTIME_DIR" or nil,
//	  },
//	  max_exec_time = 5,           -- seconds, 0 removes the limit
//	  max_callback_pool_size = 4,
//	}
//
// The equivalent YAML:
//
//	sandbox:
//	  presets: [standard_system_properties, default_classes]
//	  rules:
//	    - "class:luaguard.Math:*"
//	  max_exec_time: 5
//
// # Thread Safety
//
// Parser and Generator values are safe for concurrent use. Every Lua parse
// runs in its own VM.
package config
