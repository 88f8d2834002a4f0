package tracking

// Event is a decoded driver event. The set of implementations is closed:
// sources decode their native payloads into one of the types below before
// handing them to the dispatch loop, and must not retain references into
// driver memory inside them.
type Event interface {
	eventType() EventType
}

// EventType tags each event kind.
type EventType int

const (
	EventNone EventType = iota
	EventConnection
	EventConnectionLost
	EventDevice
	EventDeviceLost
	EventDeviceFailure
	EventTracking
	EventImageRequest
	EventImageComplete
	EventTrackedQuad
	EventLog
	EventPolicy
	EventConfigChange
	EventConfigResponse
	EventUnknown
)

var eventTypeNames = map[EventType]string{
	EventNone:           "none",
	EventConnection:     "connection",
	EventConnectionLost: "connection_lost",
	EventDevice:         "device",
	EventDeviceLost:     "device_lost",
	EventDeviceFailure:  "device_failure",
	EventTracking:       "tracking",
	EventImageRequest:   "image_request",
	EventImageComplete:  "image_complete",
	EventTrackedQuad:    "tracked_quad",
	EventLog:            "log",
	EventPolicy:         "policy",
	EventConfigChange:   "config_change",
	EventConfigResponse: "config_response",
	EventUnknown:        "unknown",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "invalid"
}

// TypeOf returns the tag of ev, or EventNone for a nil event.
func TypeOf(ev Event) EventType {
	if ev == nil {
		return EventNone
	}
	return ev.eventType()
}

// ConnectionEvent reports that the tracking service accepted the connection.
type ConnectionEvent struct {
	Flags uint32
}

// ConnectionLostEvent reports that the tracking service went away.
type ConnectionLostEvent struct {
	Flags uint32
}

// DeviceEvent reports a device plugged in or becoming available.
type DeviceEvent struct {
	Device DeviceInfo
}

// DeviceLostEvent reports a device removed.
type DeviceLostEvent struct {
	Device DeviceInfo
}

// DeviceFailureEvent reports a device that is present but not working.
type DeviceFailureEvent struct {
	Status uint32
	Path   string
}

// TrackingEvent carries one tracking cycle.
type TrackingEvent struct {
	FrameID   int64
	Timestamp int64
	Hands     []Hand
	Fingers   []Finger
	Tools     []Tool
}

// ImageRequestEvent announces an image the driver is about to deliver. The
// loop answers with a pool buffer via Source.FillImage.
type ImageRequestEvent struct {
	FrameID       int64
	Type          ImageType
	Format        ImageFormat
	Width         int
	Height        int
	BytesPerPixel int
}

// ImageCompleteEvent reports that the buffer handed over under Handle has
// been filled.
type ImageCompleteEvent struct {
	Handle            int // pool index passed to FillImage
	FrameID           int64
	SequenceID        int64
	Side              int32
	Perspective       Perspective
	RayOffsetX        float32
	RayOffsetY        float32
	RayScaleX         float32
	RayScaleY         float32
	DistortionVersion uint64
	DistortionMatrix  []float32 // 2 floats per grid point, copied by the cache
}

// TrackedQuadEvent carries a tracked planar surface for a frame.
type TrackedQuadEvent struct {
	FrameID    int64
	Timestamp  int64
	Width      float32
	Height     float32
	Resolution uint32
	Visible    bool
	Position   Vector
	Rotation   [9]float32
}

// Severity classifies log messages.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityCritical
	SeverityWarning
	SeverityInformation
)

func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	case SeverityWarning:
		return "warning"
	case SeverityInformation:
		return "info"
	default:
		return "unknown"
	}
}

// LogEvent is a log line, either from the driver or raised by the loop.
type LogEvent struct {
	Severity  Severity
	Timestamp int64
	Message   string
}

// PolicyEvent reports the policy flags the driver currently applies.
type PolicyEvent struct {
	Flags Policy
}

// ConfigChangeEvent acknowledges a configuration write.
type ConfigChangeEvent struct {
	RequestID uint32
	Status    bool
}

// ConfigResponseEvent answers a configuration read.
type ConfigResponseEvent struct {
	RequestID uint32
	Key       string
	Value     any
}

// UnknownEvent wraps a native tag that has no decoder.
type UnknownEvent struct {
	Tag uint32
}

func (ConnectionEvent) eventType() EventType     { return EventConnection }
func (ConnectionLostEvent) eventType() EventType { return EventConnectionLost }
func (DeviceEvent) eventType() EventType         { return EventDevice }
func (DeviceLostEvent) eventType() EventType     { return EventDeviceLost }
func (DeviceFailureEvent) eventType() EventType  { return EventDeviceFailure }
func (TrackingEvent) eventType() EventType       { return EventTracking }
func (ImageRequestEvent) eventType() EventType   { return EventImageRequest }
func (ImageCompleteEvent) eventType() EventType  { return EventImageComplete }
func (TrackedQuadEvent) eventType() EventType    { return EventTrackedQuad }
func (LogEvent) eventType() EventType            { return EventLog }
func (PolicyEvent) eventType() EventType         { return EventPolicy }
func (ConfigChangeEvent) eventType() EventType   { return EventConfigChange }
func (ConfigResponseEvent) eventType() EventType { return EventConfigResponse }
func (UnknownEvent) eventType() EventType        { return EventUnknown }
