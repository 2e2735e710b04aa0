// Package logging provides file-based structured logging with rotation.
// Ingestion runs write JSON logs to ~/.pubvec/logs/ so that progress
// rendering owns the terminal while every pipeline event stays on disk.
// The --debug flag lowers the level to debug and mirrors lines to stderr.
package logging
