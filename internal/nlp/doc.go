// Package nlp holds the text primitives the orchestrator relies on: a
// case-insensitive keyword matcher over per-category lists and a
// VADER sentiment scorer. Everything here is deterministic and
// free of I/O.
package nlp
