// Component for caching arbitrary data (as JSON strings) with a fixed TTL and purging.
//
// Includes an interface and implementations using redis and in-process memory.
//
// The moderation engine uses this to cache per-community configuration, so that every chat message does not require a database read.
package cachestore
