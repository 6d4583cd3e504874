// Package assign distributes auto-assignable chores across household members
// so that load stays balanced.
//
// Everything here is a pure batch computation: members, tasks, and the load
// ledger are passed in, results are returned, and nothing shared is mutated.
// It is safe to call from any number of concurrent requests; the caller is
// responsible for serializing the resulting writes per household.
package assign
