// Package cluster defines the JSON documents exchanged between the
// coordinator's admin surface and its clients, and the small HTTP helpers
// used to fetch them.
//
// # Overview
//
// A running coordinator exposes its state over HTTP so operators and tools
// such as `mapsync-coordinator status` can see which agents are connected
// and how far each pair of agents is from being aligned:
//
//	┌──────────────────┐   GET /health    ┌──────────────────┐
//	│  status command  │ ───────────────▶ │   Coordinator    │
//	│                  │   GET /clients   │                  │
//	│  (GetJSON,       │   GET /scenes    │  - Server        │
//	│   PostJSON)      │   GET /pairs     │  - Registry      │
//	│                  │ POST /scheduler/ │  - Scheduler     │
//	│                  │      reset       │                  │
//	└──────────────────┘                  └──────────────────┘
//
// # Documents
//
// Health: Overall summary
//   - Number of connected clients and live scenes
//   - Samples held by the sample store
//   - Scheduler counters (SchedulerStatus)
//
// ClientStatus: One agent connection
//   - Identifier assigned at accept time and the scene it feeds
//   - Lifecycle state and health flag
//   - Error that closed the connection, if any
//
// SceneStatus: One live scene and its latest frame index
//
// PairStatus: One ordered scene pair
//   - Sample and cluster counts
//   - Largest cluster size and whether it meets the solved threshold
//   - Failure penalty of the unordered pair
//
// # HTTP Helpers
//
// GetJSON and PostJSON share one http.Client with a 5 second timeout and
// treat any status of 300 or above as an error. Both honour the caller's
// context for cancellation.
package cluster
