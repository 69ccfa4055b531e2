// Package main provides the stillsuit CLI.
//
// The CLI supports:
//   - validate: check a model file
//   - explain: print the query tree after each pipeline phase
//   - run: resolve a request file against a backend
//   - migrate: create backend storage schema
//   - load: bulk-load a data file into a backend
//   - doctor: run health checks on model and backend
//
// Commands that touch storage (run, migrate, load, doctor) select the
// backend from configuration or flags; validate and explain work with
// files alone.
package main

func main() {
	Execute()
}
