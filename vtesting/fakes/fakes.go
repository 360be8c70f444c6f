// Test doubles for the services used by the orchestration engine.
package fakes

import (
	"context"
	"sync"

	"www.velocidex.com/golang/memtriage/models"
	"www.velocidex.com/golang/memtriage/plugins"
	"www.velocidex.com/golang/memtriage/services"
)

// A plugin whose behavior is set by the test.
type Plugin struct {
	PluginName  string
	PluginOS    string
	PluginFlags plugins.Flags
	Requires    []plugins.Requirement
	RunFunc     func(ctx context.Context, exec *plugins.ExecutionContext) (*plugins.TreeGrid, error)

	mu    sync.Mutex
	calls []*plugins.ExecutionContext
}

func (self *Plugin) Name() string         { return self.PluginName }
func (self *Plugin) Description() string  { return "Test plugin " + self.PluginName }
func (self *Plugin) Flags() plugins.Flags { return self.PluginFlags }

func (self *Plugin) OS() string {
	if self.PluginOS == "" {
		return "Other"
	}
	return self.PluginOS
}

func (self *Plugin) Requirements() []plugins.Requirement {
	return self.Requires
}

func (self *Plugin) Run(ctx context.Context,
	exec *plugins.ExecutionContext) (*plugins.TreeGrid, error) {
	self.mu.Lock()
	self.calls = append(self.calls, exec)
	self.mu.Unlock()

	if self.RunFunc == nil {
		return plugins.NewTreeGrid(), nil
	}
	return self.RunFunc(ctx, exec)
}

// The execution contexts of all the runs so far.
func (self *Plugin) Calls() []*plugins.ExecutionContext {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]*plugins.ExecutionContext{}, self.calls...)
}

// Returns a plugin producing a single row.
func NewPlugin(name string) *Plugin {
	return &Plugin{
		PluginName: name,
		RunFunc: func(ctx context.Context,
			exec *plugins.ExecutionContext) (*plugins.TreeGrid, error) {
			grid := plugins.NewTreeGrid(
				plugins.Column{Name: "PID", Type: plugins.ColumnInt},
				plugins.Column{Name: "Name", Type: plugins.ColumnString})
			grid.AddRow(nil, 4, "System")
			return grid, nil
		},
	}
}

type Notification struct {
	DumpIndex  string
	PluginName string
	Status     models.ResultStatus
}

// Records notifications instead of delivering them.
type Notifier struct {
	mu     sync.Mutex
	events []Notification
}

func (self *Notifier) Notify(ctx context.Context,
	dump_index, plugin_name string, status models.ResultStatus) error {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.events = append(self.events, Notification{
		DumpIndex:  dump_index,
		PluginName: plugin_name,
		Status:     status,
	})
	return nil
}

func (self *Notifier) Listen(principal string) (<-chan *services.Event, func()) {
	output := make(chan *services.Event)
	return output, func() {}
}

func (self *Notifier) Events() []Notification {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]Notification{}, self.events...)
}
