// Package progress carries unit-boundary events of a crawl run (run, sub-range
// and entity milestones) from the engine to pluggable sinks such as structured
// logs or Prometheus collectors. Delivery is synchronous so sinks observe
// events in the order the engine produced them.
package progress
