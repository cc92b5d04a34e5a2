// Package cmd implements the command-line interface of dFrag. It wires the
// configuration file to the codec and the fragment store and exposes the
// codec operations as commands.
//
// The package is organized into several subpackages:
//
//   - encode: Encodes a JSON message into fragments
//   - decode: Feeds fragments into the reassembly store and prints the message
//   - sweep: Removes expired fragments from the durable store
//   - perf: Benchmarks the configured codec
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as an environment variable with the DFRAG_
// prefix (e.g. DFRAG_CONFIG), .env and .env.local files are loaded on start.
//
// See dfrag -help for a list of all commands.
package cmd
