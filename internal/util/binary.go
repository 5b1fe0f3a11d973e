// Package util holds helpers shared by the ffmpeg and yt-dlp integrations.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an executable. A non-empty override must be usable;
// otherwise the value of envVar, ./name and finally PATH are tried in turn.
func FindBinary(name, override, envVar string) (string, error) {
	if override != "" {
		if !isExecutable(override) {
			return "", fmt.Errorf("configured %s binary %q is not executable", name, override)
		}
		return override, nil
	}

	var candidates []string
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" {
			candidates = append(candidates, p)
		}
	}
	candidates = append(candidates, "./"+name)
	for _, c := range candidates {
		if isExecutable(c) {
			return c, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("binary %s not found: %w", name, err)
	}
	return path, nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Mode().Perm()&0o111 != 0
}
