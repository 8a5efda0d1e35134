// Package main — cmd/lighthouse-cli — the operator-facing Adapter
// Contract (C8) surface, built with github.com/spf13/cobra per
// SPEC_FULL.md's domain stack.
//
// lighthouse-cli is thin by construction: every subcommand either (a)
// dials the admin Unix socket and forwards a JSON request/response
// exactly as adminsock.Server defines it, or (b) opens the data
// directory directly (read path only) and calls straight into
// internal/eventstore and internal/projectaggregate's exported Go API.
// No subcommand re-implements authorization, storage, or chain
// verification of its own — all of that still runs inside the core
// packages, matching §4.8: "Adapters validate only their wire format."
package main

func main() {
	Execute()
}
