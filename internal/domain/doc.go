// Package domain defines the task model shared by the queue, its storage
// adapters, and the executor: tasks, their lifecycle graph, snapshots, and
// results. It has no knowledge of how tasks are stored or executed.
package domain
