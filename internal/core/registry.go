package core

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
)

var (
	modules   = make(map[string]ModuleInfo)
	modulesMu sync.RWMutex
)

// RegisterModule registers a module by reading its ModuleInfo. It panics if
// the ID is not of the form "<namespace>.<name>", if it is already taken,
// if New is missing or if Provides names an unknown role. Intended to be
// called from init() functions.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID.Namespace() == "" || info.ID.Name() == "" {
		panic(fmt.Sprintf("module ID %q must be of the form <namespace>.<name>", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}
	for _, role := range info.Provides {
		if !slices.Contains(Roles, role) {
			panic(fmt.Sprintf("module %s: unknown role %q", info.ID, role))
		}
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	id := string(info.ID)
	if _, exists := modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	modules[id] = info
}

// GetModule returns the ModuleInfo for the given ID, or false if not found.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[id]
	return info, ok
}

// GetModules returns all registered modules sorted by ID.
func GetModules() []ModuleInfo {
	return filterModules(func(ModuleInfo) bool { return true })
}

// GetModulesForRole returns the registered modules able to serve role,
// sorted by ID. Used to suggest alternatives when a role is misassigned.
func GetModulesForRole(role string) []ModuleInfo {
	return filterModules(func(info ModuleInfo) bool { return info.Serves(role) })
}

func filterModules(keep func(ModuleInfo) bool) []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	var result []ModuleInfo
	for _, info := range modules {
		if keep(info) {
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]ModuleInfo)
}
