// Package firewall turns the set of admitted devices into firewall state.
//
// # Drivers
//
// A [Driver] knows how to add, remove, and probe one kind of rule on one
// backend:
//
//   - [NFTablesDriver]: native netlink, an ether_addr set of admitted MACs
//     plus a tagged LAN-accept rule for the global policy (Linux only)
//   - [IPTablesDriver]: shells out to iptables with -m mac rules
//   - [MemoryDriver]: in-process, used in tests and dry runs
//
// Rules are addressed by [Target]: either one MAC (per-device mode) or the
// global policy switch.
//
// # Synchronizer
//
// The [Synchronizer] is the only writer of firewall state. Each Reconcile
// pass diffs the desired targets against what it has applied, re-runs the
// preflight check, then issues the minimal adds and removes. A pass either
// completes or is rolled back, and passes never overlap.
//
// # Chain layout (nftables)
//
//	table inet turnstile {
//	  set allowed_macs { type ether_addr; }
//	  chain forward {
//	    type filter hook forward priority filter; policy accept;
//	    iifname "wlan0" accept                       # global policy (when open)
//	    iifname "wlan0" ether saddr @allowed_macs accept
//	    iifname "wlan0" drop
//	  }
//	}
package firewall
