// Package control arbitrates PTZ moves between concurrent callers.
//
// Every camera owns one lock.Manager and one ptz.Controller for the process
// lifetime. A move is validated first, then the lease is taken or renewed,
// and only a caller holding the lease reaches the camera.
package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"rcp-ptz/internal/lock"
	"rcp-ptz/internal/ptz"
)

// Reply messages
const (
	MsgMoveApplied = "PTZ move applied"
	MsgMoveStopped = "PTZ move stop, lock released"
	MsgLocked      = "PTZ is locked"
	MsgFree        = "PTZ is free"
)

// Reply is the JSON body returned for a move
type Reply struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	LockToken string `json:"lock_token,omitempty"`
}

// LockStatus is the JSON body returned for a lock query
type LockStatus struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Locked  bool   `json:"locked"`
}

// Camera pairs a camera id with the controller driving it
type Camera struct {
	ID         string
	Controller ptz.Controller
}

// Config for the Service
type Config struct {
	AutoReleaseDelay time.Duration // Defaults to lock.DefaultDelay
}

type camera struct {
	id   string
	lock *lock.Manager
	ctrl ptz.Controller
	log  *log.Entry
}

// Service routes moves to per-camera locks and controllers.
// The camera set is fixed at construction.
type Service struct {
	cameras map[string]*camera
	ids     []string

	watchMu  sync.Mutex
	watchers []func(cameraID string)
}

// NewService builds one lock per camera, all in the released state
func NewService(cfg Config, cams []Camera) (*Service, error) {
	s := &Service{cameras: make(map[string]*camera, len(cams))}

	for _, c := range cams {
		if c.ID == "" {
			return nil, fmt.Errorf("camera id is required")
		}
		if c.Controller == nil {
			return nil, fmt.Errorf("camera %s: controller is required", c.ID)
		}
		if _, dup := s.cameras[c.ID]; dup {
			return nil, fmt.Errorf("duplicate camera id: %s", c.ID)
		}
		s.cameras[c.ID] = &camera{
			id:   c.ID,
			lock: lock.New(lock.Config{
				Camera:   c.ID,
				Delay:    cfg.AutoReleaseDelay,
				OnExpire: s.expired,
			}),
			ctrl: c.Controller,
			log:  log.WithField("camera", c.ID),
		}
		s.ids = append(s.ids, c.ID)
	}
	sort.Strings(s.ids)

	return s, nil
}

// Cameras returns the configured camera ids, sorted
func (s *Service) Cameras() []string {
	return append([]string(nil), s.ids...)
}

// Watch registers fn to be called after a camera lease was dropped for
// inactivity. fn runs on the timer goroutine and must not block.
func (s *Service) Watch(fn func(cameraID string)) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Service) expired(cameraID string) {
	s.watchMu.Lock()
	watchers := append(([]func(string))(nil), s.watchers...)
	s.watchMu.Unlock()

	for _, fn := range watchers {
		fn(cameraID)
	}
}

// Move parses a move request from raw query values and applies it.
// get returns "" for absent parameters.
func (s *Service) Move(ctx context.Context, cameraID string, get func(string) string) (Reply, error) {
	cam, ok := s.cameras[cameraID]
	if !ok {
		return Reply{}, ptz.UnknownCamera(cameraID)
	}

	cmd, err := ptz.ParseCommand(get)
	if err != nil {
		return Reply{}, err
	}
	return s.move(ctx, cam, cmd, get(ptz.ParamLockToken))
}

// MoveCommand applies an already parsed command
func (s *Service) MoveCommand(ctx context.Context, cameraID string, cmd ptz.Command, token string) (Reply, error) {
	cam, ok := s.cameras[cameraID]
	if !ok {
		return Reply{}, ptz.UnknownCamera(cameraID)
	}
	return s.move(ctx, cam, cmd, token)
}

// move takes or renews the lease, then calls the camera.
//
// The lease transition is final before the network call: a device failure
// leaves the lease in place, and the returned Reply still carries the token
// so the holder can retry.
func (s *Service) move(ctx context.Context, cam *camera, cmd ptz.Command, presented string) (Reply, error) {
	if err := cmd.Validate(); err != nil {
		return Reply{}, err
	}

	token, err := cam.lock.TryAcquireOrRenew(presented)
	if errors.Is(err, lock.ErrBusy) {
		cam.log.Debug("PTZ move refused, lock held by another session")
		return Reply{}, ptz.Busy()
	}
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Status: http.StatusOK}
	if cmd.Stop {
		cam.lock.Release(token)
		reply.Message = MsgMoveStopped
	} else {
		reply.Message = MsgMoveApplied
		reply.LockToken = token
	}

	if err := cam.ctrl.Move(ctx, cmd); err != nil {
		cam.log.Warnf("PTZ move failed: %v", err)
		return Reply{LockToken: reply.LockToken}, err
	}
	return reply, nil
}

// Release frees the camera lease held under token.
// It reports whether a lease was released.
func (s *Service) Release(cameraID, token string) bool {
	cam, ok := s.cameras[cameraID]
	if !ok {
		return false
	}
	return cam.lock.Release(token)
}

// Lock reports whether the camera is currently leased
func (s *Service) Lock(cameraID string) (LockStatus, error) {
	cam, ok := s.cameras[cameraID]
	if !ok {
		return LockStatus{}, ptz.UnknownCamera(cameraID)
	}
	held := cam.lock.Held()
	status := LockStatus{Status: http.StatusOK, Message: MsgFree, Locked: held}
	if held {
		status.Message = MsgLocked
	}
	return status, nil
}

// Close drops all leases and closes every controller
func (s *Service) Close() error {
	var errs []error
	for _, id := range s.ids {
		cam := s.cameras[id]
		cam.lock.Close()
		if err := cam.ctrl.Close(); err != nil {
			errs = append(errs, fmt.Errorf("camera %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
