package models

import (
	"fmt"

	"www.velocidex.com/golang/memtriage/utils"
)

// ResultStatus is the lifecycle state of one plugin run against one
// dump.
type ResultStatus int

const (
	StatusPending       ResultStatus = 0
	StatusEmpty         ResultStatus = 1
	StatusSuccess       ResultStatus = 2
	StatusUnsatisfied   ResultStatus = 3
	StatusError         ResultStatus = 4
	StatusNotApplicable ResultStatus = 5
)

var status_names = map[ResultStatus]string{
	StatusPending:       "Running",
	StatusEmpty:         "Empty",
	StatusSuccess:       "Success",
	StatusUnsatisfied:   "Unsatisfied",
	StatusError:         "Error",
	StatusNotApplicable: "Disabled",
}

var status_colors = map[ResultStatus]string{
	StatusEmpty:       "green",
	StatusSuccess:     "green",
	StatusUnsatisfied: "orange",
	StatusError:       "red",
}

func (self ResultStatus) String() string {
	name, pres := status_names[self]
	if !pres {
		return fmt.Sprintf("Unknown(%d)", int(self))
	}
	return name
}

// Color used when notifying about a finished run.
func (self ResultStatus) Color() string {
	return status_colors[self]
}

// A terminal status is the outcome of a completed run.
func (self ResultStatus) IsTerminal() bool {
	switch self {
	case StatusEmpty, StatusSuccess, StatusUnsatisfied, StatusError:
		return true
	}
	return false
}

func (self ResultStatus) IsValid() bool {
	_, pres := status_names[self]
	return pres
}

// CanTransition reports whether a result may move from one status
// to another. A run moves pending to one terminal status. Explicit
// re-submission moves any status back to pending.
func CanTransition(from, to ResultStatus) bool {
	switch to {
	case StatusPending:
		return from.IsValid()

	case StatusEmpty, StatusSuccess, StatusUnsatisfied, StatusError:
		return from == StatusPending
	}

	// not_applicable is only ever set when the result is created.
	return false
}

func CheckTransition(from, to ResultStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %v -> %v",
			utils.InvalidTransitionErr, from, to)
	}
	return nil
}

// DumpStatus is the lifecycle state of the whole dump.
type DumpStatus int

const (
	DumpUploaded   DumpStatus = 1
	DumpComplete   DumpStatus = 2
	DumpProcessing DumpStatus = 3
	DumpInvalid    DumpStatus = 4
)

func (self DumpStatus) String() string {
	switch self {
	case DumpUploaded:
		return "Uploaded"
	case DumpComplete:
		return "Completed"
	case DumpProcessing:
		return "Processing"
	case DumpInvalid:
		return "Invalid"
	}
	return fmt.Sprintf("Unknown(%d)", int(self))
}
