// Package auth is the client-side authentication SDK for Chabad Universe
// applications: one Manager owns the unified AuthState, mediates every login
// variant against a pluggable TransportAdapter, persists credentials through
// a TokenStore, and emits state snapshots to subscribers.
//
// Dual-source reconciliation:
//   - The primary source is the token-based path (bearer, credentials,
//     Google OAuth, Chabad.org SSO, CDSSO) established through Manager login
//     calls.
//   - The secondary source is the embedding platform frame, which becomes
//     available asynchronously. Reconciler probes it on a bounded retry
//     schedule and layers display identity into the shared state through
//     Manager.MergeSecondaryIdentity without ever touching the token the
//     primary source established. The two axes are independent: primary
//     logout keeps the secondary identity and vice versa.
//
// Concurrency:
//   - Mutating Manager calls may overlap; the most recent call wins. Each
//     call takes a sequence number at entry and a completion only writes
//     state while its number is still current, so an older login finishing
//     late can never clobber a newer one. Callers that need strict ordering
//     await each call before issuing the next.
//
// Token stores:
//   - tokenstore.Memory is volatile, tokenstore.Bun is durable (SQLite via
//     Bun). Both honor the same contract: absent values read as empty, all
//     operations are safe before any value was written.
package auth
