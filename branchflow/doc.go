// Package branchflow manages branches: directed, stateful links between
// canvas nodes that decide how a marketing flow splits.
//
// A Manager stores branches, validates them with a named validator chain,
// moves them through the inactive, active, processing, error and suspended
// states, and pushes pending changes to a Syncer on demand or on a periodic
// schedule. Branch conditions come in several forms: a Go function, a
// literal bool, an expr-lang expression string such as
//
//	score > 50 && channel == "sms"
//
// or an audience rule set from the rules subpackage. A condition that
// errors or panics moves its branch to the error state instead of failing
// the caller.
//
// Every change is announced on the events.Manager passed in Options, using
// the branchCreated, branchUpdated, branchDeleted, branchActivated,
// branchDeactivated, branchStateChanged, syncCompleted and syncError names.
// Events are emitted after the manager releases its lock, so listeners may
// call back into it.
//
// FlowTracker records which nodes are currently sending or receiving flow.
package branchflow
