package models

import (
	"time"

	"github.com/Velocidex/ordereddict"
)

// Dump is an uploaded memory image.
type Dump struct {
	Index        string     `json:"index"`
	Name         string     `json:"name"`
	Path         string     `json:"path"`
	OS           string     `json:"operating_system"`
	Family       string     `json:"family,omitempty"`
	Architecture string     `json:"architecture,omitempty"`
	Kernel       string     `json:"kernel,omitempty"`
	Status       DumpStatus `json:"status"`
	Description  string     `json:"description,omitempty"`
	Author       string     `json:"author"`
	Created      time.Time  `json:"created"`
}

func (self *Dump) Copy() *Dump {
	result := *self
	return &result
}

// Plugin is the stored configuration of a registered plugin. The
// feature flags may be changed by an administrator between runs.
type Plugin struct {
	Name        string `json:"name"`
	OS          string `json:"operating_system"`
	Description string `json:"description,omitempty"`

	// Captures files written by the plugin.
	LocalDump bool `json:"local_dump"`

	// Enrichment applied to captured files.
	ClamavCheck bool `json:"clamav_check"`
	VtCheck     bool `json:"vt_check"`
	RegipyCheck bool `json:"regipy_check"`

	Disabled bool `json:"disabled"`
}

func (self *Plugin) Copy() *Plugin {
	result := *self
	return &result
}

// UserPlugin records whether a principal wants a plugin to run
// automatically on new dumps.
type UserPlugin struct {
	Principal string `json:"principal"`
	Plugin    string `json:"plugin"`
	Automatic bool   `json:"automatic"`
}

// Result is the execution record of one (dump, plugin) pair.
type Result struct {
	Dump        string            `json:"dump"`
	Plugin      string            `json:"plugin"`
	Status      ResultStatus      `json:"result"`
	Description string            `json:"description,omitempty"`
	Parameter   *ordereddict.Dict `json:"parameter,omitempty"`
	Updated     time.Time         `json:"updated"`
}

func (self *Result) Copy() *Result {
	result := *self
	if self.Parameter != nil {
		result.Parameter = copyDict(self.Parameter)
	}
	return &result
}

// ExtractedFile is a file captured during a plugin run.
type ExtractedFile struct {
	ID     string `json:"id"`
	Dump   string `json:"dump"`
	Plugin string `json:"plugin"`
	Path   string `json:"path"`
	Sha256 string `json:"sha256"`
	Tlsh   string `json:"tlsh,omitempty"`

	// Antivirus verdict, empty when clean or not scanned.
	ClamAV string `json:"clamav,omitempty"`

	// Reputation report. nil when unavailable.
	VT *ordereddict.Dict `json:"vt_report,omitempty"`

	// Decoded registry hive.
	Reg *ordereddict.Dict `json:"reg_array,omitempty"`
}

func (self *ExtractedFile) Copy() *ExtractedFile {
	result := *self
	if self.VT != nil {
		result.VT = copyDict(self.VT)
	}
	if self.Reg != nil {
		result.Reg = copyDict(self.Reg)
	}
	return &result
}

// ServiceCredential configures an external enrichment service.
type ServiceCredential struct {
	Service int               `json:"service"`
	Key     string            `json:"key"`
	Proxy   *ordereddict.Dict `json:"proxy,omitempty"`
}

func copyDict(in *ordereddict.Dict) *ordereddict.Dict {
	result := ordereddict.NewDict()
	for _, k := range in.Keys() {
		v, _ := in.Get(k)
		result.Set(k, v)
	}
	return result
}
