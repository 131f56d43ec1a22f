// Package harness runs conversational ordering scenarios described in
// YAML against a real in-memory stack: storage, session engine, and
// checkout transactor wired together exactly as in production.
//
// Scenarios execute with sequence-numbered checkout and order tokens,
// so two runs of the same scenario produce byte-identical traces.
// Golden files under testdata/golden capture the expected trace; to
// regenerate them after an intentional behavior change, run:
//
//	go test ./internal/harness -update
package harness
