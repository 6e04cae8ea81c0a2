// Package notifier delivers outbound chat messages asynchronously.
//
// Producers (reminder jobs, the daily summary, default-schedule nudges) call
// Notify, which only enqueues. A small worker pool drains the queue under a
// shared token-bucket rate limit and hands each part of a Delivery to the
// transport. Text and image parts are sent independently: a failed image
// does not suppress the text and vice versa.
//
// # Dedup
//
// A Delivery carrying a DedupKey is dropped if the same key was accepted
// within the dedup window. Recurring jobs use it so a re-triggered run does
// not message a user twice.
//
// # History
//
// The service keeps a short in-memory history of sent deliveries for
// debugging.
package notifier
