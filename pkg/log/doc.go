// Package log provides the process-wide zerolog logger used by every
// pipeline stage. Call Init once at process startup; until then, the
// package falls back to a plain stdout logger so library code and tests
// can log without crashing.
package log
