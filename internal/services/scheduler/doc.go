// Package scheduler runs registered jobs on cron or interval schedules.
//
// Schedules are registered by name and upserted, so re-registration after a
// config reload replaces rather than duplicates. Triggered jobs go through a
// small worker pool; a job whose previous run is still in flight is skipped.
package scheduler
