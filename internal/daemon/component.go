package daemon

import (
	"context"
	"errors"
)

// HealthStatus is the lifecycle phase of the whole daemon.
type HealthStatus string

const (
	StatusStarting HealthStatus = "starting"
	StatusRunning  HealthStatus = "running"
	StatusStopping HealthStatus = "stopping"
	StatusStopped  HealthStatus = "stopped"
)

// ComponentHealth is one component's answer to a health probe. Details are
// reported as-is on the health endpoint.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Error   error
	Details map[string]string
}

func Healthy(name string, details map[string]string) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: true, Details: details}
}

func Unhealthy(name string, err error) *ComponentHealth {
	return &ComponentHealth{Name: name, Healthy: false, Error: err}
}

// NotReady reports a component that has not reached a usable lifecycle phase.
func NotReady(name, phase string) *ComponentHealth {
	return Unhealthy(name, errors.New(phase))
}

// Component is one piece of the running service. Init runs in dependency
// order, Start in the same order, Stop in reverse.
type Component interface {
	Name() string
	Dependencies() []string
	Init(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (*ComponentHealth, error)
}
