// Package route registers operational endpoints such as health, readiness and
// metrics. They are served by the management listener when one is configured,
// otherwise by the main router. Chat routes take their dependencies explicitly
// and are mounted by the serve command.
package route

import (
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a plugin's routes.
type RouterLoader func(r *gin.Engine) error

// Plugin is a set of management routes. Paths lists the paths it serves so
// access logging can leave probe and scrape traffic out.
type Plugin struct {
	Name   string
	Order  int
	Paths  []string
	Loader RouterLoader
}

var (
	mu      sync.Mutex
	plugins []Plugin
)

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	mu.Lock()
	defer mu.Unlock()
	plugins = append(plugins, p)
	sort.SliceStable(plugins, func(i, j int) bool { return plugins[i].Order < plugins[j].Order })
}

// Loaders returns the registered loaders in mount order.
func Loaders() []RouterLoader {
	mu.Lock()
	defer mu.Unlock()
	loaders := make([]RouterLoader, len(plugins))
	for i, p := range plugins {
		loaders[i] = p.Loader
	}
	return loaders
}

// Paths returns every path served by the registered plugins.
func Paths() []string {
	mu.Lock()
	defer mu.Unlock()
	var paths []string
	for _, p := range plugins {
		paths = append(paths, p.Paths...)
	}
	return paths
}

// Mount runs every loader against r.
func Mount(r *gin.Engine) error {
	for _, load := range Loaders() {
		if err := load(r); err != nil {
			return err
		}
	}
	return nil
}
