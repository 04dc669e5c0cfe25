// Package coordinator assembles a mapsync coordinator: the process agents
// stream their frames to, and which works out how the agents' maps relate.
//
// # Overview
//
// The coordinator is the only stateful process in a mapsync deployment.
// Agents connect, calibrate, and stream frames; in the background the
// coordinator keeps trying to relocalise each agent's latest frame inside
// the other agents' models until every pair is aligned.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                 COORDINATOR                  │
//	├──────────────────────────────────────────────┤
//	│                                              │
//	│  ┌────────────────────┐  ┌────────────────┐  │
//	│  │  server.Server     │  │ server.Monitor │  │
//	│  │  - one worker per  │◀─│ - reaps closed │  │
//	│  │    agent           │  │   handles      │  │
//	│  │  - mapping.Handler │  └────────────────┘  │
//	│  └─────────┬──────────┘                      │
//	│            │ AddScene / Update / RemoveScene │
//	│            ▼                                 │
//	│  ┌────────────────────┐  ┌────────────────┐  │
//	│  │  scene.Registry    │◀─│ collab.        │  │
//	│  │  - live scenes     │  │ Scheduler      │  │
//	│  │  - pose clusters   │  │ - every N ticks│  │
//	│  └─────────┬──────────┘  └────────────────┘  │
//	│            │ Append / Load                   │
//	│            ▼                                 │
//	│  ┌────────────────────┐  ┌────────────────┐  │
//	│  │ storage.SampleStore│  │  Admin HTTP    │  │
//	│  │ memory or Redis    │  │  /health ...   │  │
//	│  └────────────────────┘  └────────────────┘  │
//	│                                              │
//	└──────────────────────────────────────────────┘
//
// # Core Components
//
// Agent server: accepts agent connections on config.Listen
//   - One goroutine per agent runs the mapping protocol
//   - Shutdown interrupts blocked reads immediately
//   - Closed handles are reaped by the monitor every ReapInterval
//
// Scene registry: the shared state
//   - Written by mapping handlers (frames) and the scheduler (samples)
//   - Samples are persisted to the configured store
//   - Restored from the store on Start
//
// Scheduler: driven by its own ticker every Scheduler.TickPeriod
//   - Attempts one relocalisation every Interval ticks
//   - Goes idle once every pair is solved
//
// Admin API: read-mostly HTTP on config.Admin
//   - GET /health, /clients, /scenes, /pairs
//   - POST /scheduler/reset clears the penalty table
//
// # Relocalisers
//
// Relocalisation models belong to the reconstruction engine, which lives
// outside this module. Callers plug one in through Options.Relocalisers;
// without it every attempt fails and only the penalty table changes.
//
// # Shutdown
//
// Stop cancels the shared context, which:
//  1. Stops the scheduler between ticks
//  2. Closes the agent listener and unblocks every agent worker
//  3. Lets each handler remove its scene
//  4. Shuts the admin server down gracefully
//
// and then closes the Redis connection, if one was opened.
package coordinator
