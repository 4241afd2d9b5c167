// Package realtime turns server-side change feeds into cache invalidation.
//
// A Bridge subscribes to one table on a ChangeFeed and clears the configured
// cache patterns for every event, which wakes the queries bound to the
// affected keys. Invalidation rounds can be throttled so event floods
// coalesce; the events themselves are rebroadcast unthrottled to OnChange
// observers.
//
// The bridge treats the feed as unreliable: when the stream ends, Status
// reports it and nothing else changes. Cached data stays served under the
// usual staleness rules, so the system degrades to polling and focus
// revalidation instead of failing.
package realtime
