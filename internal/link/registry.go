package link

import (
	"errors"
	"sync"
)

// ErrNotInitialized is returned by Default before Init was called.
var ErrNotInitialized = errors.New("link: default service not initialized")

var (
	defaultMu  sync.Mutex
	defaultSvc *Service
)

// Init creates the process-wide default service, stopping the one it
// replaces. Most programs construct a Service with New and pass it around
// instead.
func Init(cfg Config, dialer Dialer, opts ...Option) (*Service, error) {
	svc, err := New(cfg, dialer, opts...)
	if err != nil {
		return nil, err
	}
	SetDefault(svc)
	return svc, nil
}

// SetDefault installs svc as the default service. The previous default, if
// any and different, is stopped.
func SetDefault(svc *Service) {
	defaultMu.Lock()
	prev := defaultSvc
	defaultSvc = svc
	defaultMu.Unlock()

	if prev != nil && prev != svc {
		prev.Stop()
	}
}

// Default returns the service installed by Init or SetDefault.
func Default() (*Service, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultSvc == nil {
		return nil, ErrNotInitialized
	}
	return defaultSvc, nil
}
