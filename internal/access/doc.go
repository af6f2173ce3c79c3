// Package access defines the admission domain shared by every component:
// hardware addresses, grants and their lifecycle, the global forwarding
// policy, preflight results, and the typed error taxonomy.
//
// # Grant lifecycle
//
//	Pending ──MarkActive──▶ Active ──MarkExpired──▶ Expired
//	   │                      │
//	   └──────MarkRevoked─────┴──────────────────▶ Revoked
//
// Expired and Revoked are terminal. A MAC holding a Pending or Active
// grant cannot receive another one.
package access
