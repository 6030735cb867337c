package proof

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrNoPendingPhoto is returned by Submit when no photo has been captured.
	ErrNoPendingPhoto = errors.New("no pending proof photo")
	// ErrNotRequired is returned by Capture and Submit outside capture mode.
	ErrNotRequired = errors.New("proof capture not active")
	// ErrCaptureFailed wraps camera failures.
	ErrCaptureFailed = errors.New("proof capture failed")
	// ErrUploadRejected is returned when the backend refused the photo.
	ErrUploadRejected = errors.New("proof upload rejected")
	// ErrSessionGone is returned when the upload was accepted for a session that has
	// since been closed or replaced.
	ErrSessionGone = errors.New("proof accepted for a closed session")
)

// Photo is a locally stored proof image.
type Photo struct {
	Path        string
	ContentType string
	TakenAt     time.Time
}

// Camera captures one proof photo.
type Camera interface {
	TakePhoto(ctx context.Context) (Photo, error)
}

// Uploader sends a photo to the backend. A nil error means the backend accepted it;
// message is the backend's human-readable answer either way.
type Uploader interface {
	UploadProof(ctx context.Context, sessionToken string, photo Photo) (message string, err error)
}

// Unlocker is the session side of a successful upload. session.Manager implements it.
type Unlocker interface {
	UnlockProofFor(token string) bool
}

// Gate tracks capture mode and the pending photo. It is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	active  bool
	pending *Photo

	camera   Camera
	uploader Uploader
	unlocker Unlocker
	log      logrus.FieldLogger
}

// NewGate creates an idle [Gate].
func NewGate(camera Camera, uploader Uploader, unlocker Unlocker, logger logrus.FieldLogger) *Gate {
	if logger == nil {
		logger = logrus.StandardLogger().WithField("pkg", "proof")
	}
	return &Gate{
		camera:   camera,
		uploader: uploader,
		unlocker: unlocker,
		log:      logger,
	}
}

// Require enters capture mode. Calling it while already active keeps the pending photo.
func (g *Gate) Require() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = true
}

// Active reports whether capture mode is on.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// Pending returns the captured photo waiting for upload.
func (g *Gate) Pending() (Photo, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return Photo{}, false
	}
	return *g.pending, true
}

// Capture takes one photo and stores it as pending, replacing any earlier one.
func (g *Gate) Capture(ctx context.Context) (Photo, error) {
	if !g.Active() {
		return Photo{}, ErrNotRequired
	}

	photo, err := g.camera.TakePhoto(ctx)
	if err != nil {
		return Photo{}, fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	// Cancelled while the camera was open.
	if !g.active {
		return Photo{}, ErrNotRequired
	}
	g.pending = &photo
	return photo, nil
}

// Submit uploads the pending photo for sessionToken. On acceptance the session is
// unlocked and the gate returns to idle, unless the uploaded photo was replaced in the
// meantime. On any failure the pending photo is kept so the user can retry.
func (g *Gate) Submit(ctx context.Context, sessionToken string) (string, error) {
	g.mu.Lock()
	if !g.active {
		g.mu.Unlock()
		return "", ErrNotRequired
	}
	if g.pending == nil {
		g.mu.Unlock()
		return "", ErrNoPendingPhoto
	}
	sent := g.pending
	photo := *sent
	g.mu.Unlock()

	message, err := g.uploader.UploadProof(ctx, sessionToken, photo)
	if err != nil {
		g.log.WithError(err).Warn("proof upload failed")
		return message, err
	}

	g.mu.Lock()
	// A cancel and re-capture during the upload left a newer photo in place.
	if g.pending == sent {
		g.active = false
		g.pending = nil
	}
	g.mu.Unlock()

	if !g.unlocker.UnlockProofFor(sessionToken) {
		return message, ErrSessionGone
	}
	g.log.Info("proof accepted")
	return message, nil
}

// Cancel leaves capture mode and drops the pending photo without unlocking.
func (g *Gate) Cancel() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = false
	g.pending = nil
}
