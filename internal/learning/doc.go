// Package learning stores and looks up "learnings" captured from retried
// task failures, following the WHEN-DO-RESULT (condition-action-outcome)
// pattern: when a failure matching Condition recurs, Action is what
// previously resolved it, and Outcome/TriggerCount record how well that has
// held up. The Retry Coordinator consults it for guidance before falling
// back to a blind backoff, and records a new learning once a retried task
// eventually succeeds.
package learning
