// Package app provides the application service layer.
//
// Orchestrates use cases: posting a message (store, then fan out), channel
// history, per-user history and live channel subscriptions. Sits between the
// HTTP handlers and the domain interfaces; it never references concrete adapters.
package app
