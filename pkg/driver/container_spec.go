package driver

import (
	"context"
	"fmt"
)

// ContainerSpec describes a one-off container to launch directly (not via
// a compose file) — used by the FTP sidecar manager, which owns no
// template tree of its own.
type ContainerSpec struct {
	Name      string
	Image     string
	Env       map[string]string
	Ports     map[uint16]uint16 // hostPort -> containerPort
	PortRange [2]uint16         // inclusive host port range, mapped 1:1
	Volumes   map[string]string // hostPath -> containerPath
}

// RunContainer launches spec with `docker run -d --name ... `.
func (d *Driver) RunContainer(ctx context.Context, spec ContainerSpec) Outcome {
	args := []string{"run", "-d", "--name", spec.Name, "--restart", "unless-stopped"}

	for host, container := range spec.Ports {
		args = append(args, "-p", fmt.Sprintf("%d:%d", host, container))
	}
	if spec.PortRange[0] != 0 && spec.PortRange[1] != 0 {
		args = append(args, "-p", fmt.Sprintf("%d-%d:%d-%d", spec.PortRange[0], spec.PortRange[1], spec.PortRange[0], spec.PortRange[1]))
	}
	for host, container := range spec.Volumes {
		args = append(args, "-v", fmt.Sprintf("%s:%s", host, container))
	}
	for key, value := range spec.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, value))
	}
	args = append(args, spec.Image)

	d.invalidate(spec.Name)
	out, err := d.run(ctx, "", args...)
	if err != nil {
		cat := Classify(out)
		if cat == CategoryUnknown {
			cat = CategoryExitCodeError
		}
		return conflictOrFatal(cat, out, err)
	}
	return okOutcome(out)
}

func conflictOrFatal(cat Category, out string, err error) Outcome {
	if cat == CategoryPortConflict {
		return conflictOutcome(cat, out)
	}
	return fatalOutcome(cat, out, err)
}
