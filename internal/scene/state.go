package scene

import (
	"sync"

	"github.com/dreamware/mapsync/internal/geometry"
	"github.com/dreamware/mapsync/internal/wire"
)

// View is the most recent RGB-D frame of a scene, uncompressed, together
// with the pose the agent tracked for that frame. Depth holds 2 bytes per
// pixel and RGB 4 bytes per pixel.
type View struct {
	RGB        []byte
	Depth      []byte
	Calib      wire.Calibration
	Pose       geometry.Pose
	FrameIndex int32
}

// SLAMState is the reconstruction engine's live state for one scene.
// Implementations must be safe for concurrent use.
type SLAMState interface {
	// Pose returns the locally tracked world-to-camera pose.
	Pose() geometry.Pose
	// View returns the latest frame, or false if none has arrived yet.
	// View.Pose must be the pose tracked for that same frame, so callers
	// combining the two need only one call.
	View() (View, bool)
}

// TrackedState is a SLAMState fed by a remote agent's frame stream.
type TrackedState struct {
	view    View
	mu      sync.RWMutex
	hasView bool
}

// NewTrackedState creates a state with the given calibration and an
// identity pose.
func NewTrackedState(calib wire.Calibration) *TrackedState {
	return &TrackedState{
		view: View{Calib: calib, Pose: geometry.Identity()},
	}
}

// Update replaces the pose and frame together. The slices are retained, so
// callers must not modify them afterwards.
func (s *TrackedState) Update(frameIndex int32, pose geometry.Pose, rgb, depth []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Pose = pose
	s.view.FrameIndex = frameIndex
	s.view.RGB = rgb
	s.view.Depth = depth
	s.hasView = true
}

// Pose returns the pose of the latest frame, or the identity before the
// first one.
func (s *TrackedState) Pose() geometry.Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Pose
}

// View returns a consistent snapshot of the latest frame and its pose.
// The byte slices are shared and must not be modified.
func (s *TrackedState) View() (View, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view, s.hasView
}

// Quality grades a relocalisation result.
type Quality int

const (
	QualityFailed Quality = iota
	QualityPoor
	QualityGood
)

// String returns the quality's lowercase name.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityPoor:
		return "poor"
	default:
		return "failed"
	}
}

// Result is the outcome of one relocalisation: the estimated pose of the
// queried frame's camera in the model's world (cTw), its quality, and an
// optional relocaliser-specific score.
type Result struct {
	Pose    geometry.Pose
	Quality Quality
	Score   float64
}

// Relocaliser estimates where a frame was taken within a scene's model.
// It is a one-shot blocking call; implementations own their concurrency.
type Relocaliser interface {
	// Relocalise returns false when no estimate could be produced at all.
	Relocalise(rgb, depth []byte, intrinsics [4]float32) (Result, bool)
}

// RelocaliserFunc adapts a function to the Relocaliser interface.
type RelocaliserFunc func(rgb, depth []byte, intrinsics [4]float32) (Result, bool)

// Relocalise calls f.
func (f RelocaliserFunc) Relocalise(rgb, depth []byte, intrinsics [4]float32) (Result, bool) {
	return f(rgb, depth, intrinsics)
}

// NullRelocaliser never produces an estimate. It stands in for scenes
// whose model cannot be queried.
type NullRelocaliser struct{}

// Relocalise always reports that no estimate was produced.
func (NullRelocaliser) Relocalise([]byte, []byte, [4]float32) (Result, bool) {
	return Result{}, false
}
