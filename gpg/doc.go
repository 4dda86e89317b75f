// Package gpg drives an external GnuPG engine for key-management workflows.
//
// This package supports:
//   - Resolving ephemeral or persistent keyring home directories
//   - Rendering unattended key generation parameter files
//   - Invoking the engine for import, generate, encrypt, decrypt and export
//   - Parsing the engine status stream to chain operations by fingerprint
//   - Inspecting exported OpenPGP key files
//
// Passphrases are fed to the engine on stdin in loopback pinentry mode and
// never appear in process arguments, parameter files or logs.
package gpg
