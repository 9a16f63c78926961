// Package eventbus broadcasts command lifecycle events to subscribers.
//
// Publish never blocks the dispatch path: each subscriber owns a buffered
// channel and an event that does not fit is dropped for that subscriber
// and counted. Slow consumers therefore lose events rather than stall
// command processing.
package eventbus
