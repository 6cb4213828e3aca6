// Package events provides lifecycle events for tasks.
//
// The queue emits a TaskEvent after every accepted mutation. Handlers are
// registered on an emitter and run synchronously; the notification buses
// use them to publish "task available" wakeups to idle workers.
//
// The primary components are:
// - TaskEvent: what happened to which task, at which version
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
