package goRecycle

import (
	"errors"

	"github.com/MrEthical07/goRecycle/api"
	"github.com/MrEthical07/goRecycle/auth"
	"github.com/MrEthical07/goRecycle/location"
	"github.com/MrEthical07/goRecycle/proof"
	"github.com/MrEthical07/goRecycle/session"
)

// Errors are comparable with errors.Is. Most are aliases of the component sentinels so
// callers only need this package.
var (
	// ErrNoInternet is returned when the device has no connectivity.
	ErrNoInternet = errors.New("no internet connection")
	// ErrServiceUnavailable is returned when the backend is unreachable or answered 5xx.
	ErrServiceUnavailable = api.ErrServiceUnavailable
	// ErrTransport wraps requests that got no HTTP response.
	ErrTransport = api.ErrTransport
	// ErrAuthExpired is returned after the backend answered 401 or the held credential
	// passed its expiry.
	ErrAuthExpired = api.ErrAuthExpired
	// ErrNotAuthenticated is returned when no valid credential is held.
	ErrNotAuthenticated = auth.ErrNotAuthenticated

	ErrGpsAccuracyLow           = location.ErrAccuracyTooLow
	ErrGpsUnavailable           = location.ErrGpsUnavailable
	ErrLocationServicesDisabled = location.ErrLocationServicesDisabled

	// ErrProofRequired is returned by HandleScan when a duplicate needs photo proof,
	// whether decided locally or by the backend.
	ErrProofRequired = api.ErrProofRequired
	// ErrRejected matches every structured 4xx answer.
	ErrRejected = api.ErrRejected
	// ErrValidation matches rejections that carry field errors.
	ErrValidation = api.ErrValidation

	ErrSessionExpiredLocally = session.ErrSessionExpired
	ErrSessionActive         = session.ErrSessionActive
	ErrNoSession             = session.ErrNoSession
	// ErrSessionClosed is returned when a response arrives for a session that has been
	// closed in the meantime. The response is discarded.
	ErrSessionClosed = errors.New("session closed before response arrived")

	// ErrSubmissionInFlight is returned while another scan submission or proof upload
	// is outstanding.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrProofCaptureActive is returned by HandleScan while proof capture is active.
	ErrProofCaptureActive = errors.New("proof capture active")
	ErrNoPendingPhoto     = proof.ErrNoPendingPhoto
	// ErrProofNotActive is returned by CaptureProof and SubmitProof outside proof capture.
	ErrProofNotActive      = proof.ErrNotRequired
	ErrProofCaptureFailed  = proof.ErrCaptureFailed
	ErrProofUploadRejected = proof.ErrUploadRejected

	// ErrPersistenceUnavailable wraps Redis failures of the snapshot store.
	ErrPersistenceUnavailable = session.ErrRedisUnavailable
	// ErrClientClosed is returned by operations after Close.
	ErrClientClosed = errors.New("client closed")
)
