// Package internaldefs holds the exported metric names, help strings and
// latency bucket bounds, so every exposition of the engine counters uses the
// same vocabulary.
package internaldefs
