// Package domain defines the chat message entity and the contracts around it.
//
// Concept-oriented files (message.go, errors.go, feed.go) hold shared types and
// consumer-side interfaces. No infrastructure code lives here.
package domain
