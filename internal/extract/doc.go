// Package extract turns a free-text request into a task candidate.
//
// A Coordinator asks an optional Primary (an LLM) first and falls back to
// the rule-based Extractor when the primary is absent, fails or returns an
// unusable payload. Candidates at or below the confidence threshold are
// rejected with ErrNotUnderstood.
package extract
