package maintenance

import (
	"context"

	"github.com/nioca/ca/internal/cryptoutil"
)

// hashJob and verifyJob are submitted to PasswordWorker's single owning
// goroutine, so concurrent password-change requests never run Argon2
// concurrently with each other. Local login and init call cryptoutil
// directly and do not go through the worker.
type hashJob struct {
	password []byte
	pepper   []byte
	reply    chan hashResult
}

type hashResult struct {
	hash []byte
	err  error
}

type verifyJob struct {
	password []byte
	pepper   []byte
	stored   []byte
	reply    chan bool
}

// PasswordWorker is a single-goroutine owner of Argon2 password hashing, the
// same actor shape internal/oidcflow's TokenCache uses to own its cache
// state without a mutex. Serializing these calls caps the amount of
// memory-hard work in flight at once regardless of request concurrency.
type PasswordWorker struct {
	hash   chan hashJob
	verify chan verifyJob
	exit   chan chan struct{}
}

func NewPasswordWorker() *PasswordWorker {
	w := &PasswordWorker{
		hash:   make(chan hashJob),
		verify: make(chan verifyJob),
		exit:   make(chan chan struct{}),
	}
	go w.run()
	return w
}

func (w *PasswordWorker) run() {
	for {
		select {
		case job := <-w.hash:
			h, err := cryptoutil.HashPassword(job.password, job.pepper)
			job.reply <- hashResult{hash: h, err: err}
		case job := <-w.verify:
			job.reply <- cryptoutil.VerifyPassword(job.password, job.pepper, job.stored)
		case ack := <-w.exit:
			close(ack)
			return
		}
	}
}

// Hash submits a password to the worker and blocks for the result, or
// returns ctx.Err() if ctx is cancelled first.
func (w *PasswordWorker) Hash(ctx context.Context, password, pepper []byte) ([]byte, error) {
	reply := make(chan hashResult, 1)
	select {
	case w.hash <- hashJob{password: password, pepper: pepper, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.hash, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Verify submits a password/hash pair to the worker and blocks for the
// result, or returns false if ctx is cancelled first.
func (w *PasswordWorker) Verify(ctx context.Context, password, pepper, stored []byte) bool {
	reply := make(chan bool, 1)
	select {
	case w.verify <- verifyJob{password: password, pepper: pepper, stored: stored, reply: reply}:
	case <-ctx.Done():
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-ctx.Done():
		return false
	}
}

// Exit stops the owning goroutine and blocks until it has returned.
func (w *PasswordWorker) Exit() {
	ack := make(chan struct{})
	w.exit <- ack
	<-ack
}
