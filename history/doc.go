// Package history houses concrete conversation history backends. The
// contracts live where they are consumed (contextengine.HistoryStore,
// pipeline.Persistence); keeping only implementations here lets higher
// level packages stay independent of concrete storage.
//
// Add additional backends (Redis, Postgres, etc.) in sub-packages without
// changing any calling code; only the wiring layer decides which
// implementation to instantiate.
package history
