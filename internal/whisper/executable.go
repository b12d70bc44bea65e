package whisper

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fmueller/voxserve/internal/platform"
)

// ResolveExecutable finds whisper-cli: an explicit override wins, then PATH,
// then the bundled layouts next to selfExecutable.
func ResolveExecutable(override, selfExecutable string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		if err := ensureExecutable(override); err != nil {
			return "", fmt.Errorf("whisper path %s is not executable: %w", override, err)
		}
		return override, nil
	}

	if found, err := exec.LookPath(engineBinaryName()); err == nil {
		return found, nil
	}

	if selfExecutable != "" {
		for _, candidate := range EnginePathCandidates(selfExecutable) {
			if err := ensureExecutable(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("whisper engine %s not found on PATH or under libexec/whisper; set VOXSERVE_WHISPER_PATH", engineBinaryName())
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", platform.HostTarget(), engineName),
		filepath.Join(binDir, engineName),
	}
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
