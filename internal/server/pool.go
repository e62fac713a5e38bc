package server

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction processes one queued task; any error it returns is fatal to
// that worker goroutine.
type WorkerFunction = func(t *tomb.Tomb, task any) error

// WorkerPool is a fixed-size pool of goroutines draining a shared task
// queue, adapted from the teacher's internal/worker.go (itself referenced,
// but never defined with the AddTask it needs, by internal/net/server.go —
// this version adds it).
type WorkerPool struct {
	n     int
	tasks chan any
	work  WorkerFunction
}

func NewWorkerPool(size int) WorkerPool {
	return WorkerPool{
		tasks: make(chan any, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues a unit of work for the pool; it blocks if every worker is
// busy and the queue is full.
func (pool *WorkerPool) AddTask(task any) {
	pool.tasks <- task
}

// Setup starts n workers and blocks until t is dying. A worker that returns
// an error kills t, which stops the rest of the pool with it.
func (pool *WorkerPool) Setup(t *tomb.Tomb, work WorkerFunction) {
	log.Info().Int("workers", pool.n).Msg("server: starting worker pool")
	for i := 0; i < pool.n; i++ {
		t.Go(func() error { return pool.worker(t, work) })
	}
	<-t.Dying()
}

func (pool *WorkerPool) worker(t *tomb.Tomb, work WorkerFunction) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := work(t, task); err != nil {
				log.Error().Err(err).Msg("server: worker exiting on error")
				return err
			}
		}
	}
}
