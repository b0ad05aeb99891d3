// Package tracker defines the boundary with the spatial tracking module: the
// pose/event stream it emits, the area-description storage primitives it
// exposes, and the listener contract for receiving its callbacks.
package tracker

import (
	"github.com/meridian-robotics/areatrack/internal/geom"
)

// FramePair identifies an ordered (base frame, target frame) relationship for
// which the module reports poses.
type FramePair int

const (
	// StartToDevice is the device pose relative to where the service started.
	StartToDevice FramePair = iota
	// AreaToDevice is the device pose relative to the loaded area description.
	// A valid pose here means the device has relocalized.
	AreaToDevice
	// AreaToStart relates the area description frame to the service start
	// frame; it becomes valid once a drift correction has been computed.
	AreaToStart
	framePairCount
)

// FramePairs returns the three tracked relationships in stream order.
func FramePairs() []FramePair {
	return []FramePair{StartToDevice, AreaToDevice, AreaToStart}
}

func (p FramePair) String() string {
	switch p {
	case StartToDevice:
		return "start_to_device"
	case AreaToDevice:
		return "area_to_device"
	case AreaToStart:
		return "area_to_start"
	default:
		return "unknown_pair"
	}
}

// Known reports whether p is one of the three tracked relationships.
func (p FramePair) Known() bool {
	return p >= StartToDevice && p < framePairCount
}

// PoseStatus is the module's validity assessment of a pose sample.
type PoseStatus int

const (
	PoseUnknown PoseStatus = iota
	PoseValid
	PoseInvalid
)

func (s PoseStatus) String() string {
	switch s {
	case PoseValid:
		return "valid"
	case PoseInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Pose is one timestamped rigid-transform sample for a frame relationship.
// Timestamp is in seconds on the module's clock.
type Pose struct {
	Pair      FramePair
	Timestamp float64
	Transform geom.Transform
	Status    PoseStatus
}

// EventType classifies a module status event.
type EventType int

const (
	EventUnknown EventType = iota
	EventAreaLearning
	EventService
	EventFeature
)

func (t EventType) String() string {
	switch t {
	case EventAreaLearning:
		return "area_learning"
	case EventService:
		return "service"
	case EventFeature:
		return "feature"
	default:
		return "unknown"
	}
}

// EventKeySaveProgress is the area-learning event key carrying the fractional
// completion of an in-progress area description save. Its value is a decimal
// ratio in [0, 1].
const EventKeySaveProgress = "save-progress"

// Event is a (type, key, value) status notification from the module.
// Timestamp is in seconds on the module's clock.
type Event struct {
	Type      EventType
	Key       string
	Value     string
	Timestamp float64
}

// IsSaveProgress reports whether the event carries save-progress ratio data.
func (e Event) IsSaveProgress() bool {
	return e.Type == EventAreaLearning && e.Key == EventKeySaveProgress
}
