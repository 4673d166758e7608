package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/gleanerhq/gleaner/internal/logger"
)

// displayRange is a band of X display numbers with a selection weight.
// The bands deliberately exclude 0, 1 and 99: those are the numbers real
// desktops and stock Xvfb setups grab first, so a scraper sitting on one
// of them is both more collision-prone and more recognisable.
type displayRange struct {
	min, max int
	weight   int
}

var displayRanges = []displayRange{
	{min: 10, max: 49, weight: 50},
	{min: 50, max: 89, weight: 30},
	{min: 100, max: 199, weight: 20},
}

// pickDisplayNumber draws a display number from the weighted ranges.
func pickDisplayNumber(r *rand.Rand) int {
	total := 0
	for _, dr := range displayRanges {
		total += dr.weight
	}
	n := r.IntN(total)
	for _, dr := range displayRanges {
		if n < dr.weight {
			return dr.min + r.IntN(dr.max-dr.min+1)
		}
		n -= dr.weight
	}
	return displayRanges[0].min
}

// virtualDisplay is a running Xvfb instance owned by the manager.
type virtualDisplay struct {
	number int
	cmd    *exec.Cmd
}

func (d *virtualDisplay) env() string {
	return fmt.Sprintf("DISPLAY=:%d", d.number)
}

func displaySocketPath(number int) string {
	return fmt.Sprintf("/tmp/.X11-unix/X%d", number)
}

// startVirtualDisplay launches Xvfb on a free display number. It fails fast
// with a descriptive error when Xvfb is not installed, and verifies the
// display socket appears before returning.
func startVirtualDisplay(ctx context.Context, r *rand.Rand) (*virtualDisplay, error) {
	xvfbPath, err := exec.LookPath("Xvfb")
	if err != nil {
		return nil, fmt.Errorf("%w: headful mode requires Xvfb, which is not installed or not in PATH", ErrBrowserUnavailable)
	}

	var number int
	found := false
	for attempt := 0; attempt < 10; attempt++ {
		number = pickDisplayNumber(r)
		if _, err := os.Stat(displaySocketPath(number)); os.IsNotExist(err) {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: no free X display number after 10 attempts", ErrBrowserUnavailable)
	}

	cmd := exec.CommandContext(ctx, xvfbPath,
		fmt.Sprintf(":%d", number),
		"-screen", "0", "1920x1080x24",
		"-nolisten", "tcp")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting Xvfb on display :%d: %w", number, err)
	}

	// The socket appears once the server is accepting connections.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(displaySocketPath(number)); err == nil {
			logger.Debug("virtual display ready", "display", number)
			return &virtualDisplay{number: number, cmd: cmd}, nil
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	return nil, fmt.Errorf("%w: Xvfb on display :%d did not become accessible within 5s", ErrBrowserUnavailable, number)
}

func (d *virtualDisplay) stop() {
	if d == nil || d.cmd == nil || d.cmd.Process == nil {
		return
	}
	_ = d.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = d.cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		_ = d.cmd.Process.Kill()
		<-done
	}
	logger.Debug("virtual display stopped", "display", d.number)
}
