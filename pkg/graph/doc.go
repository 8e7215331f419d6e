// Package graph defines the dataflow graph of geometry operations: nodes,
// typed edges, the edit operations that keep the graph acyclic and well
// typed, structural validation, content fingerprints and the YAML document
// form graphs are saved in.
//
// A Graph is not safe for concurrent use. The executor serialises edits
// and hands snapshots of node parameters to its workers.
package graph
