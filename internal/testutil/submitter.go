package testutil

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/roach88/quakerun/internal/batch"
)

// FirstJobID is the id the first accepted fake submission gets.
const FirstJobID = 1001

// Submitter is a fake batch.Submitter. It accepts every script and hands
// out sequential job ids, or rejects every script while Reject is set.
//
// Thread-safety: safe for concurrent use via internal mutex.
type Submitter struct {
	mu      sync.Mutex
	Reject  bool
	scripts []string
	next    int
}

// Submit records script and accepts or rejects it.
func (s *Submitter) Submit(ctx context.Context, script string) (batch.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts = append(s.scripts, script)
	if s.Reject {
		return batch.Submission{}, &batch.SubmissionError{
			Script:   script,
			ExitCode: 1,
			Stderr:   "sbatch: error: Batch job submission failed: Invalid partition name specified",
		}
	}
	id := strconv.Itoa(FirstJobID + s.next)
	s.next++
	return batch.Submission{JobID: id, Output: fmt.Sprintf("Submitted batch job %s", id)}, nil
}

// Scripts returns every submitted script path, in order.
func (s *Submitter) Scripts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.scripts))
	copy(out, s.scripts)
	return out
}
