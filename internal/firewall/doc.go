// Package firewall implements the per-packet decision pipeline.
//
// # Overview
//
// A [Firewall] owns a rule [Engine], a dynamic blocklist and a coarse geo
// layer, and combines them into one [Decision] per traffic record:
//
//	record → geo (remote side) → blocklist (either endpoint) → rules → default action
//
// Geo and blocklist verdicts short-circuit the pipeline. Every Block decision
// reached through the rules or the default action counts as an attempt
// against the source address, so repeat offenders are escalated into
// blocklist entries.
//
// # Concurrency
//
// Three contexts touch shared state: the capture loop calling [Firewall.Evaluate],
// the scheduler sweeping expired blocks, and management calls from the API.
// The blocklist and the geo layer each have their own mutex. The rule set is
// an immutable snapshot behind an atomic pointer, so [Engine.Replace] never
// blocks or partially exposes an in-flight evaluation.
//
// # Example
//
//	fw, err := firewall.New(cfg, firewall.WithSource(src), firewall.WithStore(store))
//	if err != nil {
//		return err
//	}
//	if err := fw.Start(); err != nil {
//		return err
//	}
//	defer fw.Stop()
package firewall
