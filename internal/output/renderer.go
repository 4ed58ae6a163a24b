// Package output renders download progress to the terminal. It consumes
// the aggregator's event stream and is purely presentational: hiding it
// or swapping it out changes nothing about a run's behavior.
package output

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/rekku-dl/rekku/internal/utils"
)

type row struct {
	name   string
	status utils.Status
	bytes  int64
	total  int64
}

// Renderer implements progress.Sink. It keeps its own display state fed
// by events and redraws on a ticker: cursor up, wipe, and reprint the
// block.
type Renderer struct {
	mode  utils.ProgressMode
	clear bool

	mu        sync.RWMutex
	rows      []row
	numLines  int
	startTime time.Time
	lastBytes int64
	lastTime  time.Time
	speed     float64

	doneCh    chan struct{}
	displayWg sync.WaitGroup
}

func NewRenderer(n int, mode utils.ProgressMode, clearOnFinish bool) *Renderer {
	r := &Renderer{
		mode:   mode,
		clear:  clearOnFinish,
		rows:   make([]row, n),
		doneCh: make(chan struct{}),
	}
	for i := range r.rows {
		r.rows[i].total = -1
	}
	return r
}

func (r *Renderer) enabled() bool {
	return r.mode != utils.ProgressHidden && r.mode != ""
}

// Start launches the display loop. Call before the run begins.
func (r *Renderer) Start() {
	if !r.enabled() {
		return
	}
	r.startTime = time.Now()
	r.lastTime = r.startTime
	r.displayWg.Add(1)
	go func() {
		defer r.displayWg.Done()
		ticker := time.NewTicker(300 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.updateDisplay()
			case <-r.doneCh:
				return
			}
		}
	}()
}

func (r *Renderer) ItemStarted(id int, name string) {
	if !r.enabled() {
		return
	}
	r.mu.Lock()
	r.rows[id].name = name
	r.rows[id].status = utils.StatusProbing
	r.mu.Unlock()
}

func (r *Renderer) ItemProgress(id int, delta int64, total int64) {
	if !r.enabled() {
		return
	}
	r.mu.Lock()
	r.rows[id].bytes += delta
	r.rows[id].total = total
	r.rows[id].status = utils.StatusDownloading
	r.mu.Unlock()
}

func (r *Renderer) ItemFinished(id int, status utils.Status) {
	if !r.enabled() {
		return
	}
	r.mu.Lock()
	r.rows[id].status = status
	r.mu.Unlock()
}

// AllFinished stops the display loop, draws the final state, and clears
// the block when configured to.
func (r *Renderer) AllFinished() {
	if !r.enabled() {
		return
	}
	close(r.doneCh)
	r.displayWg.Wait()
	r.updateDisplay()
	if r.clear {
		r.mu.Lock()
		if r.numLines > 0 {
			fmt.Printf("\033[%dA\033[J", r.numLines)
			r.numLines = 0
		}
		r.mu.Unlock()
	}
}

func (r *Renderer) updateDisplay() {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, termHeight, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || termHeight <= 0 {
		termHeight = 24
	}
	availableLines := termHeight - 2

	if r.numLines > 0 {
		fmt.Printf("\033[%dA\033[J", r.numLines)
	}
	lineCount := 0

	if r.mode == utils.ProgressPerItem || r.mode == utils.ProgressBoth {
		for i := range r.rows {
			if lineCount >= availableLines-1 {
				break
			}
			info := &r.rows[i]
			if info.name == "" {
				continue
			}
			name := info.name
			if len(name) > 25 {
				name = "..." + name[len(name)-22:]
			}
			switch {
			case info.status == utils.StatusSuccess || info.status == utils.StatusAlreadyComplete:
				fmt.Printf("  %s %s %s\n", successStyle.Render(StyleSymbols["pass"]), name, debugStyle.Render(utils.FormatBytes(uint64(info.bytes))))
			case info.status == utils.StatusFail:
				fmt.Printf("  %s %s %s\n", errorStyle.Render(StyleSymbols["fail"]), name, errorStyle.Render("failed"))
			case info.status == utils.StatusCancelled:
				fmt.Printf("  %s %s %s\n", warningStyle.Render(StyleSymbols["warning"]), name, warningStyle.Render("cancelled"))
			case info.total > 0:
				percent := float64(info.bytes) / float64(info.total) * 100
				fmt.Printf("  %s %s %s %.1f%% %s/%s\n", pendingStyle.Render(StyleSymbols["pending"]), name,
					progressBar(info.bytes, info.total, 30), percent,
					utils.FormatBytes(uint64(info.bytes)), utils.FormatBytes(uint64(info.total)))
			default:
				fmt.Printf("  %s %s %s %s\n", pendingStyle.Render(StyleSymbols["pending"]), name,
					progressBar(info.bytes, info.total, 30), utils.FormatBytes(uint64(info.bytes)))
			}
			lineCount++
		}
	}

	if r.mode == utils.ProgressAggregate || r.mode == utils.ProgressBoth {
		var bytes, total int64
		known := true
		for i := range r.rows {
			bytes += r.rows[i].bytes
			if r.rows[i].total < 0 {
				known = false
			} else {
				total += r.rows[i].total
			}
		}
		now := time.Now()
		elapsed := now.Sub(r.lastTime).Seconds()
		if elapsed > 0 {
			r.speed = float64(bytes-r.lastBytes) / elapsed
			r.lastBytes = bytes
			r.lastTime = now
		}
		speedStr := utils.FormatSpeed(int64(r.speed), 1)
		if known {
			fmt.Printf("  %s Total: %s %s/%s %s\n", infoStyle.Render(StyleSymbols["bullet"]),
				progressBar(bytes, total, 30), utils.FormatBytes(uint64(bytes)), utils.FormatBytes(uint64(total)), debugStyle.Render(speedStr))
		} else {
			// at least one item's size is unknown, report bytes only
			fmt.Printf("  %s Total: %s %s\n", infoStyle.Render(StyleSymbols["bullet"]),
				utils.FormatBytes(uint64(bytes)), debugStyle.Render(speedStr))
		}
		lineCount++
	}
	r.numLines = lineCount
}

// ShowSummary prints the end-of-run tallies and failure details.
func (r *Renderer) ShowSummary(outcomes []utils.Outcome) {
	var success, failed int
	for _, out := range outcomes {
		switch out.Status {
		case utils.StatusSuccess, utils.StatusAlreadyComplete:
			success++
		case utils.StatusFail, utils.StatusCancelled:
			failed++
		}
	}
	fmt.Println()
	PrintSuccess(fmt.Sprintf("  Completed %d of %d", success, len(outcomes)))
	if failed > 0 {
		PrintError(fmt.Sprintf("  Failed %d of %d", failed, len(outcomes)))
		for i, out := range outcomes {
			if out.Err != "" {
				fmt.Printf("    %s %s\n", errorStyle.Render(fmt.Sprintf("%d.", i+1)), errorStyle.Render(out.Err))
			}
		}
	}
	fmt.Println()
}
