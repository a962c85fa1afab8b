package customize

import (
	"fmt"
	"path"
	"path/filepath"
)

// ServiceState is the administrative state of a service inside the image.
type ServiceState string

const (
	// Enabled services are linked into the default runsvdir and start at boot.
	Enabled ServiceState = "enabled"
	// Disabled services are marked down and unlinked but left intact.
	Disabled ServiceState = "disabled"
	// Masked services are disabled and have their script replaced with a no-op.
	Masked ServiceState = "masked"
)

// ServiceKind distinguishes runit supervised services from stage 1 core-service scripts.
type ServiceKind int

const (
	Supervised ServiceKind = iota
	CoreService
)

// Service names one unit inside the image.
type Service struct {
	Name string
	Kind ServiceKind
}

// MaskMarker replaces the body of a masked core-service script. Core services
// are sourced by runit stage 1, so the marker must stay a plain comment.
const MaskMarker = "# masked\n"

// maskedRunScript replaces the run script of a masked supervised service.
const maskedRunScript = "#!/bin/sh\n" + MaskMarker + "exit 0\n"

// ApplyServiceState moves svc to state inside target. Applying the state a
// service is already in changes nothing.
func ApplyServiceState(target Target, svc Service, state ServiceState) error {
	if svc.Name == "" || path.Base(svc.Name) != svc.Name {
		return fmt.Errorf("invalid service name %q", svc.Name)
	}

	switch svc.Kind {
	case Supervised:
		return applySupervised(target, svc.Name, state)
	case CoreService:
		if state != Masked {
			return fmt.Errorf("core service %s: only %s is supported, got %s", svc.Name, Masked, state)
		}
		script, err := target.Path(path.Join(target.Profile().CoreServiceDir, svc.Name))
		if err != nil {
			return err
		}
		return writeFile(script, []byte(MaskMarker), 0o644)
	default:
		return fmt.Errorf("service %s: unknown kind %d", svc.Name, svc.Kind)
	}
}

func applySupervised(target Target, name string, state ServiceState) error {
	profile := target.Profile()
	serviceDir := path.Join(profile.ServiceDir, name)

	dir, err := target.Path(serviceDir)
	if err != nil {
		return err
	}
	down := filepath.Join(dir, "down")
	link, err := target.LinkPath(path.Join(profile.RunsvDir, name))
	if err != nil {
		return err
	}

	switch state {
	case Enabled:
		if err := removeIfExists(down); err != nil {
			return err
		}
		return ensureSymlink(serviceDir, link)
	case Disabled, Masked:
		if err := writeFile(down, nil, 0o644); err != nil {
			return err
		}
		if err := removeIfExists(link); err != nil {
			return err
		}
		if state == Masked {
			return writeFile(filepath.Join(dir, "run"), []byte(maskedRunScript), 0o755)
		}
		return nil
	default:
		return fmt.Errorf("service %s: unknown state %q", name, state)
	}
}
