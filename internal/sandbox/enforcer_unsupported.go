//go:build !linux && !darwin

package sandbox

import "fmt"

func newPlatformEnforcer(workspace string, cfg Config) (Enforcer, error) {
	return nil, fmt.Errorf("no OS-level sandbox enforcer for this platform")
}
