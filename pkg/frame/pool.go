package frame

import (
	"runtime"
	"sync"
)

// Job is one unit of DSP work: analyze every channel plane of a decoded
// frame and report the resulting peaks back through Done.
type Job struct {
	Planes     [][]float32
	SampleRate uint32
	Window     Window
	Done       func(peaks []Peak)
}

// Pool is a bounded worker pool sized by hardware_concurrency * factor
// (spec.md §4.4), so DSP analysis never oversubscribes the host beyond
// the fraction the supervisor is configured to dedicate to it.
type Pool struct {
	jobs chan Job
	wg   sync.WaitGroup
}

// WorkerCount applies factor to the host's logical CPU count, always
// returning at least 1.
func WorkerCount(factor float64) int {
	n := int(float64(runtime.NumCPU()) * factor)
	if n < 1 {
		n = 1
	}
	return n
}

// NewPool starts workerCount goroutines pulling from a channel of
// queueDepth pending jobs.
func NewPool(workerCount, queueDepth int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	p := &Pool{jobs: make(chan Job, queueDepth)}
	p.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		peaks := make([]Peak, len(job.Planes))
		for ch, plane := range job.Planes {
			peak, ok := AnalyzeChannel(plane, job.SampleRate, job.Window)
			if ok {
				peaks[ch] = peak
			}
		}
		job.Done(peaks)
	}
}

// Submit enqueues a job, blocking if the pool's queue is full. Callers
// that need to avoid blocking the RTP receive loop should run Submit
// from a separate goroutine per frame.
func (p *Pool) Submit(job Job) { p.jobs <- job }

// Close stops accepting new jobs and waits for in-flight jobs to finish.
func (p *Pool) Close() {
	close(p.jobs)
	p.wg.Wait()
}
