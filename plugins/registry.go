package plugins

import (
	"fmt"
	"sort"
	"sync"

	"www.velocidex.com/golang/memtriage/utils"
)

var (
	mu       sync.Mutex
	registry = make(map[string]Plugin)
)

// Plugins register themselves from init(). Definitions loaded at
// runtime replace an existing plugin of the same name.
func Register(plugin Plugin) {
	mu.Lock()
	defer mu.Unlock()

	registry[plugin.Name()] = plugin
}

func Unregister(name string) {
	mu.Lock()
	defer mu.Unlock()

	delete(registry, name)
}

func Get(name string) (Plugin, error) {
	mu.Lock()
	defer mu.Unlock()

	plugin, pres := registry[name]
	if !pres {
		return nil, fmt.Errorf("%w: plugin %v", utils.NotFoundError, name)
	}
	return plugin, nil
}

// All registered plugins sorted by name.
func List() []Plugin {
	mu.Lock()
	defer mu.Unlock()

	result := make([]Plugin, 0, len(registry))
	for _, p := range registry {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}
