// Package collab implements the collaborative relocalisation scheduler: the
// background activity that works out how the agents' coordinate frames
// relate to one another.
//
// # Algorithm
//
// Every Interval ticks (100 by default) the scheduler makes exactly one
// attempt:
//
//  1. For every ordered pair (i, j) of distinct scenes, read the size of
//     the largest pose cluster (0 if none).
//  2. Group pairs by that size and take the smallest group. If its size
//     already meets SolvedThreshold, every pair is aligned and the cycle is
//     skipped.
//  3. Pick one pair of the group at random.
//  4. Relocalise the current frame of scene j against scene i's model.
//  5. On a good result, compose it with j's tracked pose to obtain the
//     transform from i's world to j's, and add it to the registry.
//  6. Otherwise, add PenaltyStep to the penalty of the unordered pair.
//
// Choosing from the least-clustered group stops an easy pair from taking
// every attempt while a hard pair never gathers evidence. The random choice
// within the group avoids cycling through tied pairs in a fixed order.
//
// # Penalties
//
// The penalty table never decreases except through ResetPenalties. By
// default it is informational. Two options let it steer selection:
//
//	WeightByPenalty  choose within the group with weight 1/(1+penalty)
//	MaxPenalty       drop a pair from consideration once its penalty
//	                 reaches this value
//
// # Concurrency
//
// Tick may be called from a frame-processing loop or driven by Run on its
// own ticker, but never runs two attempts at once. Accessors are safe to
// call from other goroutines, such as the coordinator's admin handlers.
//
// The random source is seeded from Config.Seed so tests can replay a
// schedule exactly.
package collab
