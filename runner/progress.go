package runner

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-zest/engine"
	"github.com/ethereum-optimism/infra/op-zest/types"
)

// ProgressIndicator receives every record of a run and reports progress
type ProgressIndicator interface {
	engine.Hooks
	Stop()
}

// noOpProgressIndicator provides a no-op implementation of ProgressIndicator
type noOpProgressIndicator struct{}

// NewNoOpProgressIndicator creates a progress indicator that does nothing
func NewNoOpProgressIndicator() ProgressIndicator {
	return &noOpProgressIndicator{}
}

func (n *noOpProgressIndicator) OnTestStart(*types.ResultRecord) {}
func (n *noOpProgressIndicator) OnTestStop(*types.ResultRecord)  {}
func (n *noOpProgressIndicator) Stop()                           {}

// consoleProgressIndicator logs a progress line on an interval
type consoleProgressIndicator struct {
	logger log.Logger
	ticker *time.Ticker
	stopCh chan struct{}
	once   sync.Once
	mu     sync.RWMutex

	startTime time.Time
	completed int
	failed    int
	skipped   int
	roots     int

	// zests that started and did not stop yet
	running map[string]time.Time
}

// NewConsoleProgressIndicator creates a progress indicator that logs updates
func NewConsoleProgressIndicator(logger log.Logger, updateInterval time.Duration) ProgressIndicator {
	if updateInterval == 0 {
		updateInterval = 30 * time.Second
	}

	indicator := &consoleProgressIndicator{
		logger:    logger,
		ticker:    time.NewTicker(updateInterval),
		stopCh:    make(chan struct{}),
		startTime: time.Now(),
		running:   make(map[string]time.Time),
	}
	go indicator.progressReporter()
	return indicator
}

func (c *consoleProgressIndicator) OnTestStart(rec *types.ResultRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.running[rec.FullName] = time.Now()
	c.logger.Debug("Zest started", "zest", rec.FullName, "running", len(c.running))
}

func (c *consoleProgressIndicator) OnTestStop(rec *types.ResultRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.running, rec.FullName)
	c.completed++
	switch rec.Status() {
	case types.TestStatusFail:
		c.failed++
	case types.TestStatusSkip:
		c.skipped++
	}
	if rec.Depth() == 0 {
		c.roots++
		c.logger.Info("Completed root", "root", rec.FullName, "status", rec.Status(), "duration", rec.Duration().Truncate(time.Millisecond))
	}
	c.logger.Debug("Zest completed", "zest", rec.FullName, "status", rec.Status(), "completed", c.completed)
}

func (c *consoleProgressIndicator) progressReporter() {
	for {
		select {
		case <-c.ticker.C:
			c.reportProgress()
		case <-c.stopCh:
			return
		}
	}
}

func (c *consoleProgressIndicator) reportProgress() {
	c.mu.RLock()
	defer c.mu.RUnlock()

	c.logger.Info("Progress update",
		"roots", c.roots,
		"completed", c.completed,
		"failed", c.failed,
		"skipped", c.skipped,
		"elapsed", time.Since(c.startTime).Truncate(time.Second),
		"numRunning", len(c.running),
		"longestRunning", formatRunningZests(c.running, 3),
	)
}

// Stop stops the periodic reports
func (c *consoleProgressIndicator) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.stopCh)
	})
}

// formatRunningZests lists the longest running zests first
func formatRunningZests(running map[string]time.Time, maxShow int) string {
	if len(running) == 0 {
		return ""
	}

	type runningZest struct {
		name     string
		duration time.Duration
	}

	var zests []runningZest
	now := time.Now()
	for name, startTime := range running {
		zests = append(zests, runningZest{name: name, duration: now.Sub(startTime)})
	}
	sort.Slice(zests, func(i, j int) bool {
		if zests[i].duration == zests[j].duration {
			return zests[i].name < zests[j].name
		}
		return zests[i].duration > zests[j].duration
	})

	var parts []string
	for i, z := range zests {
		if i >= maxShow {
			break
		}
		parts = append(parts, fmt.Sprintf("%s (%v)", z.name, z.duration.Truncate(time.Second)))
	}
	if len(zests) > maxShow {
		parts = append(parts, fmt.Sprintf("+%d more", len(zests)-maxShow))
	}
	return strings.Join(parts, ", ")
}
