// Package credstore provides durable storage for the authenticated session:
// the access token, refresh token, expiry timestamp and the principal they
// belong to, persisted as a single JSON document.
//
// Supports four storage backends with different security and deployment tradeoffs:
//   - File: Local filesystem storage with atomic writes and secure permissions
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Redis: Shared storage for headless multi-process deployments
//   - Memory: Non-persistent storage for tests and throwaway sessions
//
// Backends move opaque bytes; Store owns encoding, device binding and the
// session-document invariants. The session is written only by a successful
// refresh, a fresh login, or an explicit logout.
//
// # Device binding
//
// A Store may be bound to a device identity (a stable UUID minted on first
// run). Save stamps the identity into the document; Load and
// ValidateDeviceBinding reject documents stamped by another device, which
// keeps a copied session file from resurrecting a session elsewhere.
package credstore
