package pkgfetcher

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/open-edge-platform/cookbook-sync/internal/utils/logger"
)

// Job is one unit of work for Run. Label names it on the progress bar.
type Job struct {
	Label string
	Do    func(ctx context.Context) error
}

// Options tunes Run.
type Options struct {
	Workers     int
	Description string
	// Progress receives the progress bar; nil means stderr, io.Discard hides it.
	Progress io.Writer
}

// Run executes jobs on a pool of workers and waits for all of them. It
// shows a single progress bar tracking jobs completed vs total. The returned
// slice holds each job's error at the job's index. Jobs not yet started when
// ctx is cancelled are skipped with ctx.Err().
func Run(ctx context.Context, jobs []Job, opts Options) []error {
	log := logger.Logger()

	total := len(jobs)
	errs := make([]error, total)
	if total == 0 {
		return errs
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}
	desc := opts.Description
	if desc == "" {
		desc = "downloading"
	}
	out := opts.Progress
	if out == nil {
		out = os.Stderr
	}

	// create a single progress bar for total jobs
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionFullWidth(),
		progressbar.OptionShowDescriptionAtLineEnd(),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100*time.Millisecond),
	)

	queue := make(chan int, total)
	var wg sync.WaitGroup
	var barMu sync.Mutex

	// start worker goroutines
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range queue {
				job := jobs[idx]

				if err := ctx.Err(); err != nil {
					errs[idx] = err
				} else {
					barMu.Lock()
					bar.Describe(fmt.Sprintf("%s %s", desc, job.Label))
					barMu.Unlock()

					errs[idx] = job.Do(ctx)
					if errs[idx] != nil {
						log.Debugf("%s %s failed: %v", desc, job.Label, errs[idx])
					}
				}

				barMu.Lock()
				_ = bar.Add(1)
				barMu.Unlock()
			}
		}()
	}

	// enqueue jobs
	for i := range jobs {
		queue <- i
	}
	close(queue)

	wg.Wait()
	_ = bar.Finish()
	if opts.Progress == nil {
		fmt.Fprintln(out)
	}
	return errs
}
