// Package config loads and validates the firewall configuration.
//
// The primary format is HCL. JSON and YAML files with the same field names
// are accepted too; the format is chosen by file extension.
//
// # Example
//
//	schema_version = "1.0"
//
//	general {
//	  interface      = "eth0"
//	  default_action = "block"
//	}
//
//	rule "allow_https" {
//	  action    = "allow"
//	  direction = "outbound"
//	  protocol  = "tcp"
//	  dst_port  = 443
//	}
//
//	blocklist {
//	  enabled        = true
//	  threshold      = 5
//	  block_duration = "1h"
//	  whitelist      = ["127.0.0.1"]
//	}
//
//	geo {
//	  enabled           = true
//	  blocked_countries = ["CN", "RU"]
//	}
//
//	api {
//	  enabled    = true
//	  listen     = "127.0.0.1:8787"
//	  token_hash = env.WARDEN_TOKEN_HASH
//	}
//
// # Expressions
//
// HCL attribute values may reference two variables: env, an object of the
// process environment, and brand, an object with name, config_dir and
// state_dir.
//
// # Rules
//
// Rules are evaluated in file order and the first enabled match wins. An
// empty src/dst or a zero port is a wildcard. src and dst accept a single
// address or a CIDR network. A rule whose address does not parse is kept
// but never matches; Validate reports it as a warning.
package config
