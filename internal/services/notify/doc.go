// Package notify provides a lightweight notification pipeline.
//
// Notifications are small, high-signal messages for household members
// (assignment changes, completion updates). Delivery is asynchronous:
// a bounded queue feeds a worker pool with rate limiting, retry with
// exponential backoff, and a dedup window that suppresses repeats of the
// same message. Delivery targets are pluggable through the Sink interface.
package notify
