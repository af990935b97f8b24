package action

import (
	"context"
	"os/exec"
	"runtime"
)

// Launcher hands links and files to the operating system.
type Launcher interface {
	OpenURL(url string) error
	OpenFile(path string) error
	// Execute runs path and waits for it to exit.
	Execute(ctx context.Context, path string) error
}

// SystemLauncher uses the platform's default opener. Opening does not wait
// for the started application.
type SystemLauncher struct{}

func (SystemLauncher) OpenURL(url string) error {
	return startDetached(opener(url))
}

func (SystemLauncher) OpenFile(path string) error {
	return startDetached(opener(path))
}

func (SystemLauncher) Execute(ctx context.Context, path string) error {
	return exec.CommandContext(ctx, path).Run()
}

// startDetached starts cmd and reaps it in the background once it exits.
func startDetached(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func opener(target string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		return exec.Command("xdg-open", target)
	}
}
