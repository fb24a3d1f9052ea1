package processor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// WorkerPool runs image analyses on a bounded set of goroutines. Uploads
// enqueue fire-and-forget jobs; the reanalyze endpoint waits for its result.
type WorkerPool struct {
	analyzer    *Analyzer
	jobs        chan analysisJob
	workerCount int
	activeJobs  int
	mu          sync.Mutex
	shutdown    chan struct{}
}

type analysisJob struct {
	ctx     context.Context
	cancel  context.CancelFunc
	imageID uint
}

// jobTimeout bounds a single background analysis, detection call included
const jobTimeout = 2 * time.Minute

// NewWorkerPool creates and starts a pool sized to the available CPUs
func NewWorkerPool(analyzer *Analyzer) *WorkerPool {
	workerCount := runtime.NumCPU() * 3 / 4
	if workerCount < 2 {
		workerCount = 2
	}

	log.Infof("Initializing analysis worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		analyzer:    analyzer,
		jobs:        make(chan analysisJob, workerCount*2),
		workerCount: workerCount,
		shutdown:    make(chan struct{}),
	}
	pool.startWorkers()
	return pool
}

func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		go func(workerID int) {
			for {
				select {
				case job, ok := <-p.jobs:
					if !ok {
						log.Debugf("Worker %d shutting down (job channel closed)", workerID)
						return
					}
					p.runJob(workerID, job)

				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *WorkerPool) runJob(workerID int, job analysisJob) {
	p.mu.Lock()
	p.activeJobs++
	p.mu.Unlock()

	defer job.cancel()
	defer func() {
		p.mu.Lock()
		p.activeJobs--
		p.mu.Unlock()
	}()

	started := time.Now()
	_, err := p.analyzer.Analyze(job.ctx, job.imageID)
	if err != nil && !errors.Is(err, ErrAlreadyProcessing) {
		log.Errorf("Worker %d: analysis of image %d failed: %v", workerID, job.imageID, err)
		return
	}
	log.Debugf("Worker %d finished image %d in %v", workerID, job.imageID, time.Since(started))
}

// Enqueue schedules a background analysis for an uploaded image. The job gets
// its own bounded context; the upload request that triggered it has long
// returned by the time a worker picks it up.
func (p *WorkerPool) Enqueue(imageID uint) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		select {
		case p.jobs <- analysisJob{ctx: ctx, cancel: cancel, imageID: imageID}:
		case <-p.shutdown:
			cancel()
		}
	}()
}

// ActiveJobCount returns the number of analyses currently running
func (p *WorkerPool) ActiveJobCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeJobs
}

// WorkerCount returns the number of workers in the pool
func (p *WorkerPool) WorkerCount() int {
	return p.workerCount
}

// QueueCapacity returns the capacity of the job queue
func (p *WorkerPool) QueueCapacity() int {
	return cap(p.jobs)
}

// Shutdown stops the pool. Queued jobs are dropped.
func (p *WorkerPool) Shutdown() {
	close(p.shutdown)
}
