// Package cmd implements the command-line interface for polystore. It
// provides a hierarchical command structure for operating one of the bundled
// storage backends directly.
//
// The package is organized into several subpackages:
//
//   - kv: Commands for record operations (create, get, find, update, delete,
//     watch) and a benchmark tool (perf)
//   - util: Shared utilities for command-line processing, configuration and
//     adapter construction (internal use)
//
// See polystore -help for a list of all commands.
package cmd
