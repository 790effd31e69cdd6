package instance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/orzlee/jdbot/internal/procstream"
)

// ShellManager drives the container scripts. Parameters are passed through
// the environment rather than spliced into the command line, so cookies
// never need shell quoting. The scripts speak a tiny line protocol on
// stdout:
//
//	create:  id:<ref>   on success
//	destroy: deleted    on success
//	         notfound   when the ref is already gone
type ShellManager struct {
	createCmd  string
	destroyCmd string
	namePrefix string
	timeout    time.Duration
	log        *slog.Logger
}

func NewShellManager(createCmd, destroyCmd, namePrefix string, timeout time.Duration, log *slog.Logger) *ShellManager {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &ShellManager{
		createCmd:  createCmd,
		destroyCmd: destroyCmd,
		namePrefix: namePrefix,
		timeout:    timeout,
		log:        log,
	}
}

func (m *ShellManager) Create(ctx context.Context, cookie, ownerID, name string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	s, err := procstream.Spawn(cctx, m.createCmd, []string{
		"JD_COOKIE=" + cookie,
		"TG_USER_ID=" + ownerID,
		"INSTANCE_NAME=" + m.namePrefix + name,
	})
	if err != nil {
		// nothing started, definitely no container
		return "", fmt.Errorf("create instance %s: %w", name, err)
	}
	defer s.Close()

	for line := range s.Lines() {
		if ref, ok := strings.CutPrefix(line, "id:"); ok {
			ref = strings.TrimSpace(ref)
			if ref != "" {
				return ref, nil
			}
		}
	}

	if cctx.Err() != nil {
		// the script was cut off mid-flight; it may have created the
		// container without getting to print the id
		m.log.Error("instance create timed out, outcome unknown", "name", name)
		return "", fmt.Errorf("create instance %s: %w", name, ErrAmbiguous)
	}
	if err := s.Close(); err != nil {
		return "", fmt.Errorf("create instance %s: %w", name, err)
	}
	return "", fmt.Errorf("create instance %s: script reported no id", name)
}

func (m *ShellManager) Destroy(ctx context.Context, ref string) error {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	s, err := procstream.Spawn(cctx, m.destroyCmd, []string{
		"INSTANCE_REF=" + ref,
	})
	if err != nil {
		return fmt.Errorf("destroy instance %s: %w", ref, err)
	}
	defer s.Close()

	for line := range s.Lines() {
		switch line {
		case "deleted":
			return nil
		case "notfound":
			return fmt.Errorf("destroy instance %s: %w", ref, ErrNotFound)
		}
	}

	if cctx.Err() != nil {
		m.log.Error("instance destroy timed out, outcome unknown", "ref", ref)
		return fmt.Errorf("destroy instance %s: %w", ref, ErrAmbiguous)
	}
	if err := s.Close(); err != nil {
		return fmt.Errorf("destroy instance %s: %w", ref, err)
	}
	return fmt.Errorf("destroy instance %s: script confirmed nothing", ref)
}
