// Package system provides the lifecycle management primitives for the
// orchestrator's long-running components.
package system

import "context"

// Service is a lifecycle-managed component. The cleaner and the push
// dispatcher implement it so the manager can start and stop them
// deterministically.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
