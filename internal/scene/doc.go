// Package scene holds the coordinator's view of every live mapping session
// and the evidence gathered about how their coordinate frames relate.
//
// # Overview
//
// Each connected agent maps into its own world frame. The registry keeps,
// per scene, the state fed by the agent's frame stream and a relocaliser
// that can place foreign frames inside that scene's model. Per ordered
// scene pair it keeps clusters of relative-transform samples:
//
//	┌──────────────────────────────────────────┐
//	│                 Registry                 │
//	├──────────────────────────────────────────┤
//	│  scenes:   id → (SLAMState, Relocaliser) │
//	│  clusters: (i, j) → []Cluster            │
//	└──────────────────────────────────────────┘
//	        ▲ Update            ▲ AddRelativeTransformSample
//	        │                   │
//	  mapping.Handler      collab.Scheduler
//
// # Clustering
//
// A sample for (i, j) is the transform from i's world frame to j's. It
// joins the first existing cluster whose founding sample lies within the
// rotation and translation thresholds, otherwise it founds a new cluster.
// The inverse is recorded for (j, i) at the same time, so the two
// directions always hold the same number of samples.
//
// The size of the largest cluster is the confidence signal: once it
// reaches the scheduler's solved threshold the pair is considered aligned.
//
// # Lifecycle
//
// RemoveScene drops the live state of a disconnected agent but keeps its
// clusters. Samples can also be persisted through a storage.SampleStore
// and replayed with Restore after a coordinator restart.
//
// # Thread Safety
//
// Registry and TrackedState are safe for concurrent use. Relocaliser
// implementations are called from the scheduler goroutine only.
package scene
