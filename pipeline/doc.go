// Package pipeline sequences GPG engine calls into the Import, Generate,
// Encrypt and Decrypt workflows.
//
// Each workflow is linear and stops at the first failure. Scoped resources,
// like an ephemeral home directory or a key parameter file, are released on
// every exit path, and the original failure is returned to the caller.
//
// Runs with ephemeral home directories share no state and may execute
// concurrently. Runs that share a persistent home directory are not
// serialized.
package pipeline
