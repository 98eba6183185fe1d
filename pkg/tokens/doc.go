// Package tokens estimates token counts for context-window management and
// usage reporting.
//
// GPT-family models count with the cl100k_base BPE encoding; everything else
// uses a characters-per-token ratio, with an empirical correction for
// Claude-family models whose tokenizer runs denser than the ratio suggests.
// Counts are estimates: the upstream never reveals its real tokenizer, and
// overflow decisions only need to be conservative, not exact.
package tokens
