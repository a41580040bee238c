// Package resources keeps each session's cached view of upstream resources
// fresh. The Refresher rebuilds the cached report/case identifiers and the
// trace index on demand; the Reconciler polls the upstream notification feed
// on a fixed interval and triggers refreshes only when the feed proves the
// cache stale. No push channel is trusted: staleness decisions are made
// purely by comparing feed timestamps against the per-session low-water
// marks.
package resources
