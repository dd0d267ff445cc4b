// Package atrium is a multi-agent conversational backend: rooms of
// configured agents hold sessions, and each user turn runs through a context
// planner, a mode strategy (manual tagging, roundtable, or manager-driven
// orchestration), usage metering and credit accounting, all persisted
// atomically.
//
// # Quick Start
//
// Install the server:
//
//	go install github.com/atriumhq/atrium/cmd/atrium@latest
//
// Create a configuration file:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//	models:
//	  - alias: "fast-1"
//	    provider_model: "gpt-4o-mini"
//	    context_limit: 128000
//
// Start the server:
//
//	atrium serve --config atrium.yaml
//
// # Using as Go Library
//
// The pipeline is a library first; the HTTP layer is a thin shell. Import
// the pieces you need:
//
//	import (
//	    "github.com/atriumhq/atrium/pkg/turn"
//	    "github.com/atriumhq/atrium/pkg/store"
//	    "github.com/atriumhq/atrium/pkg/llm"
//	)
//
// The entry point is turn.Coordinator: give it a store, a model gateway and
// the supporting components, then call Execute per user turn.
package atrium
