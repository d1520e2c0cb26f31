// Package validator checks the structure of a finished flow before it is
// published: start and end nodes, reachability between them, dangling
// connections, isolated nodes and split-node branch completeness.
//
// Findings are returned as data. Errors block publishing, warnings do not.
// Every traversal keeps a visited set, so cyclic flows are handled.
package validator
