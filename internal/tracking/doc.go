// Package tracking assembles the asynchronous event stream of a hand
// tracking driver into coherent frames.
//
// Responsibilities: the dispatch loop that polls a Source, the pending-frame
// queue that joins tracking, stereo image and tracked-quad events by frame
// id, the frame/image/quad histories, and the snapshot accessors used by
// application goroutines.
// Key types: Connection, Frame, Image, TrackedQuad, Source, Listener.
//
// Ownership rule: only the dispatch goroutine writes pipeline state. Other
// goroutines read through Connection's snapshot methods and request policy
// changes, which the loop pushes to the driver on its next iteration.
package tracking
