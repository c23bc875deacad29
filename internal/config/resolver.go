package config

import "slices"

// Resolve returns a sorted list of module IDs from the configuration.
// The deterministic order ensures consistent module loading.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Roles returns the dispatch role assignments as role -> module ID,
// skipping unassigned roles.
func Roles(cfg *Config) map[string]string {
	roles := map[string]string{
		"lease":    cfg.Dispatch.Lease,
		"ledger":   cfg.Dispatch.Ledger,
		"sessions": cfg.Dispatch.Sessions,
		"source":   cfg.Dispatch.Source,
	}
	for role, id := range roles {
		if id == "" {
			delete(roles, role)
		}
	}
	return roles
}
