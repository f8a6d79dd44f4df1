// Package runner executes zest roots and aggregates their records.
//
// The main components are:
//   - SingleRunner: Runs every root in the current process, one after another
//   - MultiRunner: Distributes roots to a pool of worker processes
//   - Pool: Launches and reuses workers, relaying their messages to one queue
//   - Coordinator: Drains the queue, binds worker pids to display slots and detects completion
//   - ResultCollector: Aggregates stop records, warnings and faults into a RunnerResult
//
// Workers are re-executions of the current binary. A worker reads WorkOrders
// from stdin and writes JSON-line Messages to file descriptor 3, leaving its
// stdout and stderr free for the zests themselves.
package runner
