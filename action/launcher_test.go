package action

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zombieChildren counts exited but unreaped children of this process.
func zombieChildren() int {
	stats, _ := filepath.Glob("/proc/[0-9]*/stat")
	ppid := strconv.Itoa(os.Getpid())
	n := 0
	for _, path := range stats {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		// pid (comm) state ppid ...
		i := bytes.LastIndexByte(data, ')')
		if i < 0 {
			continue
		}
		fields := strings.Fields(string(data[i+1:]))
		if len(fields) >= 2 && fields[0] == "Z" && fields[1] == ppid {
			n++
		}
	}
	return n
}

func TestSystemLauncher_ReapsOpener(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("uses xdg-open and /proc")
	}

	bin := t.TempDir()
	marker := filepath.Join(t.TempDir(), "opened")
	script := "#!/bin/sh\necho \"$1\" >> " + marker + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(bin, "xdg-open"), []byte(script), 0o755))
	t.Setenv("PATH", bin+string(os.PathListSeparator)+os.Getenv("PATH"))

	tests := []struct {
		name string
		open func(SystemLauncher, string) error
	}{
		{name: "url", open: SystemLauncher.OpenURL},
		{name: "file", open: SystemLauncher.OpenFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(marker, nil, 0o600))
			for i := 0; i < 5; i++ {
				require.NoError(t, tt.open(SystemLauncher{}, "target-"+strconv.Itoa(i)))
			}

			assert.Eventually(t, func() bool {
				data, err := os.ReadFile(marker)
				return err == nil && strings.Count(string(data), "\n") == 5
			}, 5*time.Second, 20*time.Millisecond)
			assert.Eventually(t, func() bool {
				return zombieChildren() == 0
			}, 5*time.Second, 20*time.Millisecond)
		})
	}
}

func TestStartDetached_MissingBinary(t *testing.T) {
	err := startDetached(exec.Command(filepath.Join(t.TempDir(), "missing")))
	require.Error(t, err)
}
