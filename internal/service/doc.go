// Package service sequences one discovery-and-delivery pass: destination
// preflight, source authentication, work-set resolution, bounded host and
// task fan-out, and per-deliverable fetch+import. A failure of one project,
// host or task only removes that unit from the next stage; the batch itself
// aborts only on fatal preconditions.
package service
