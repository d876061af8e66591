package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"rectipano/internal/rectify"
)

// NewID returns "<prefix>-<utc timestamp>-<8 hex>".
func NewID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%s", prefix, ts, uuid.NewString()[:8])
}

// NewJob builds a job from a type name as given on the CLI, over HTTP or
// gRPC. "bend" is a rectify job in dual-bend mode.
func NewJob(kind, input, output string, options map[string]any) (Job, error) {
	if options == nil {
		options = map[string]any{}
	}
	if kind == "bend" {
		kind = string(JobRectify)
		options["mode"] = string(rectify.ModeDualBend)
	}
	jt, err := ParseJobType(kind)
	if err != nil {
		return Job{}, err
	}
	if input == "" {
		return Job{}, fmt.Errorf("%s job needs an input path", jt)
	}
	return Job{
		ID:        NewID(string(jt)),
		Type:      jt,
		InputPath: input,
		Output:    output,
		Options:   options,
	}, nil
}

// Event is the wire form of a Result.
type Event struct {
	ID     string         `json:"id"`
	Type   JobType        `json:"type"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// Event converts r for JSON streams.
func (r Result) Event() Event {
	return Event{
		ID:     r.Job.ID,
		Type:   r.Job.Type,
		Status: r.Status(),
		Error:  errString(r.Error),
		Meta:   r.Meta,
	}
}
