package event

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/life-stream-dev/pitstopper/internal/logger"
)

type Callable interface {
	Invoke(ctx context.Context) error
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(ctx context.Context) error

func (f CallableFunc) Invoke(ctx context.Context) error {
	return f(ctx)
}

// Cleaner runs registered shutdown callbacks once, in registration order,
// either on SIGINT/SIGTERM or when Clean is called directly.
type Cleaner struct {
	cleaners       []Callable
	mu             sync.Mutex
	initOnce       sync.Once
	cleanOnce      sync.Once
	cleaning       bool
	loggerShutdown Callable
	timeout        time.Duration
	done           chan struct{}
	errs           []error
}

func NewCleaner(timeout time.Duration) *Cleaner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cleaner{timeout: timeout, done: make(chan struct{})}
}

func (c *Cleaner) Add(callable Callable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaning {
		logger.Debug("Cleaner is already shutting down, ignoring new cleaner")
		return
	}
	c.cleaners = append(c.cleaners, callable)
}

// Init starts watching for interrupt signals. loggerShutdown runs after
// every other cleaner so their log lines are flushed.
func (c *Cleaner) Init(ctx context.Context, loggerShutdown Callable) {
	c.initOnce.Do(func() {
		c.loggerShutdown = loggerShutdown
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

		go func() {
			<-sigCtx.Done()
			stop()
			logger.Info("Received interrupt signal, shutting down")
			c.Clean()
		}()
	})
}

// Clean invokes every cleaner once. Later calls wait for the first to finish.
func (c *Cleaner) Clean() []error {
	c.cleanOnce.Do(func() {
		defer close(c.done)

		c.mu.Lock()
		c.cleaning = true
		cleanersCopy := make([]Callable, len(c.cleaners))
		copy(cleanersCopy, c.cleaners)
		c.mu.Unlock()

		logger.DebugF("Starting cleanup of %d registered functions", len(cleanersCopy))

		for i, callable := range cleanersCopy {
			func(idx int, cl Callable) {
				logger.DebugF("Invoking cleaner #%d (%T)", idx+1, cl)
				timeoutCtx, cancelFunc := context.WithTimeout(context.Background(), c.timeout)
				defer cancelFunc()
				if err := cl.Invoke(timeoutCtx); err != nil {
					logger.ErrorF("Cleaner #%d (%T) failed: %v", idx+1, cl, err)
					c.errs = append(c.errs, err)
				}
			}(i, callable)
		}

		if len(c.errs) > 0 {
			logger.ErrorF("%d errors occurred during cleanup", len(c.errs))
		} else {
			logger.Debug("All cleaners executed successfully")
		}
		logger.Info("Cleanup finished, server offline")

		if c.loggerShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := c.loggerShutdown.Invoke(shutdownCtx); err != nil {
				_, _ = fmt.Fprintf(os.Stderr, "LOGGER SHUTDOWN ERROR: %v\n", err)
			}
		}
	})
	<-c.done
	return c.errs
}

// Done is closed once cleanup has finished.
func (c *Cleaner) Done() <-chan struct{} {
	return c.done
}
