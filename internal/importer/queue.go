package importer

// jobQueue holds pending jobs, newest first. It is not safe for concurrent
// use; the Worker guards it with its coordination mutex.
type jobQueue struct {
	jobs []*ImportJob
}

// push inserts job at the head.
func (q *jobQueue) push(job *ImportJob) {
	q.jobs = append(q.jobs, nil)
	copy(q.jobs[1:], q.jobs)
	q.jobs[0] = job
}

// peek returns the job to serve next without removing it.
func (q *jobQueue) peek() *ImportJob {
	if len(q.jobs) == 0 {
		return nil
	}
	return q.jobs[0]
}

// remove deletes exactly job, compared by identity. A job that is no
// longer queued is ignored.
func (q *jobQueue) remove(job *ImportJob) bool {
	for i, j := range q.jobs {
		if j == job {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return true
		}
	}
	return false
}

// removeIf deletes every job matching pred and returns them.
func (q *jobQueue) removeIf(pred func(*ImportJob) bool) []*ImportJob {
	var removed []*ImportJob
	kept := q.jobs[:0]
	for _, j := range q.jobs {
		if pred(j) {
			removed = append(removed, j)
			continue
		}
		kept = append(kept, j)
	}
	for i := len(kept); i < len(q.jobs); i++ {
		q.jobs[i] = nil
	}
	q.jobs = kept
	return removed
}

func (q *jobQueue) any(pred func(*ImportJob) bool) bool {
	for _, j := range q.jobs {
		if pred(j) {
			return true
		}
	}
	return false
}

func (q *jobQueue) clear() []*ImportJob {
	jobs := q.jobs
	q.jobs = nil
	return jobs
}

func (q *jobQueue) snapshot() []*ImportJob {
	return append([]*ImportJob(nil), q.jobs...)
}

func (q *jobQueue) len() int {
	return len(q.jobs)
}
