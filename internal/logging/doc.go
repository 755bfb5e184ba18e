// Package logging provides structured JSON logging with file rotation for
// the retrieval engine. Logs go to stderr by default; file logging with
// rotation is enabled through Config for long-running deployments.
package logging
