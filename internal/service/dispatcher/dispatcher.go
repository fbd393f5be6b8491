package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"k8s.io/klog/v2"
)

// -----------------------------
// Job 定义
// -----------------------------
type Job struct {
	ID         string
	SyllabusID uint
	Slug       string
	UserID     string
	Count      int
	EnqueuedAt time.Time
	Timeout    time.Duration
}

// NewBatchJob 创建批量生成任务
func NewBatchJob(syllabusID uint, slug, userID string, count int) *Job {
	return &Job{
		ID:         uuid.NewString(),
		SyllabusID: syllabusID,
		Slug:       slug,
		UserID:     userID,
		Count:      count,
		EnqueuedAt: time.Now(),
		Timeout:    30 * time.Minute,
	}
}

// -----------------------------
// BatchExecutor 接口
// -----------------------------
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, job *Job) error
}

var (
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
	ErrQueueFull         = errors.New("job queue is full")
	ErrSyllabusBusy      = errors.New("syllabus already has a batch queued or running")
)

// Dispatcher 在后台协程池中执行批量生成任务
// 同一大纲同一时间只允许一个任务排队或执行
type Dispatcher struct {
	jobQueue *jobQueue
	pool     *ants.Pool
	executor BatchExecutor

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	loopDone chan struct{}

	active      map[uint]string // syllabusID -> jobID
	activeMutex sync.Mutex
}

func New(maxWorkers, queueSize int, executor BatchExecutor) (*Dispatcher, error) {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool, err := ants.NewPool(maxWorkers,
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(5*time.Minute),
	)
	if err != nil {
		cancel()
		klog.Errorf("ants pool initialization failed: %v", err)
		return nil, err
	}

	return &Dispatcher{
		jobQueue: newJobQueue(queueSize),
		pool:     pool,
		executor: executor,
		ctx:      ctx,
		cancel:   cancel,
		loopDone: make(chan struct{}),
		active:   make(map[uint]string),
	}, nil
}

func (d *Dispatcher) Start() {
	go d.dispatchLoop()
}

// Stop 停止接收新任务，等待执行中的任务结束
// 执行中的批量任务在当前课时完成后退出，未分发的任务直接丢弃
func (d *Dispatcher) Stop(timeout time.Duration) {
	d.stopOnce.Do(func() {
		klog.V(6).Infof("Dispatcher stopping...")
		d.cancel()
		d.jobQueue.Close()
		<-d.loopDone

		if running := d.pool.Running(); running > 0 {
			klog.V(6).Infof("Waiting for %d running batches to complete (timeout: %v)", running, timeout)
		}
		if err := d.pool.ReleaseTimeout(timeout); err != nil {
			klog.Warningf("Timeout after %v: some running batches may be interrupted", timeout)
		}
		klog.V(6).Infof("Dispatcher stopped")
	})
}

// Enqueue 入队批量任务
func (d *Dispatcher) Enqueue(job *Job) error {
	select {
	case <-d.ctx.Done():
		return ErrDispatcherStopped
	default:
	}

	d.activeMutex.Lock()
	if _, busy := d.active[job.SyllabusID]; busy {
		d.activeMutex.Unlock()
		return ErrSyllabusBusy
	}
	d.active[job.SyllabusID] = job.ID
	d.activeMutex.Unlock()

	if err := d.jobQueue.Enqueue(job); err != nil {
		d.release(job)
		if errors.Is(err, ErrQueueFull) {
			klog.Warningf("Job queue full: syllabusID=%d", job.SyllabusID)
		}
		return err
	}
	klog.V(6).Infof("Batch enqueued: jobID=%s, syllabusID=%d, count=%d", job.ID, job.SyllabusID, job.Count)
	return nil
}

func (d *Dispatcher) release(job *Job) {
	d.activeMutex.Lock()
	defer d.activeMutex.Unlock()
	if d.active[job.SyllabusID] == job.ID {
		delete(d.active, job.SyllabusID)
	}
}

// IsActive 大纲是否有排队或执行中的任务
func (d *Dispatcher) IsActive(syllabusID uint) bool {
	d.activeMutex.Lock()
	defer d.activeMutex.Unlock()
	_, ok := d.active[syllabusID]
	return ok
}

// -----------------------------
// Dispatch Loop
// -----------------------------
func (d *Dispatcher) dispatchLoop() {
	defer close(d.loopDone)
	for {
		job, ok := d.jobQueue.Dequeue()
		if !ok {
			return
		}
		if d.ctx.Err() != nil {
			d.release(job)
			continue
		}
		if err := d.pool.Submit(func() {
			d.executeJob(job)
		}); err != nil {
			klog.Errorf("提交任务到协程池失败: jobID=%s, err=%v", job.ID, err)
			d.release(job)
		}
	}
}

func (d *Dispatcher) executeJob(job *Job) {
	defer d.release(job)
	defer func() {
		if r := recover(); r != nil {
			klog.Errorf("Batch panic recovered: jobID=%s, err=%v", job.ID, r)
		}
	}()

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(d.ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := d.executor.ExecuteBatch(ctx, job); err != nil {
		klog.Errorf("批量任务执行失败: jobID=%s, syllabusID=%d, err=%v", job.ID, job.SyllabusID, err)
		return
	}
	klog.V(6).Infof("批量任务完成: jobID=%s, syllabusID=%d, 耗时=%v", job.ID, job.SyllabusID, time.Since(start))
}

// -----------------------------
// Queue Status
// -----------------------------
type QueueStatus struct {
	QueueLength   int `json:"queue_length"`
	ActiveWorkers int `json:"active_workers"`
	ActiveSyllabi int `json:"active_syllabi"`
}

func (d *Dispatcher) GetQueueStatus() *QueueStatus {
	d.activeMutex.Lock()
	activeSyllabi := len(d.active)
	d.activeMutex.Unlock()
	return &QueueStatus{
		QueueLength:   d.jobQueue.Len(),
		ActiveWorkers: d.pool.Running(),
		ActiveSyllabi: activeSyllabi,
	}
}

// -----------------------------
// JobQueue + Reject New
// -----------------------------
type jobQueue struct {
	maxSize int
	items   []*Job
	mutex   sync.Mutex
	cond    *sync.Cond
	closed  bool
}

func newJobQueue(maxSize int) *jobQueue {
	q := &jobQueue{
		maxSize: maxSize,
		items:   make([]*Job, 0),
	}
	q.cond = sync.NewCond(&q.mutex)
	return q
}

func (q *jobQueue) Enqueue(job *Job) error {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return ErrDispatcherStopped
	}
	if q.maxSize > 0 && len(q.items) >= q.maxSize {
		return ErrQueueFull
	}
	q.items = append(q.items, job)
	q.cond.Signal()
	return nil
}

// Dequeue 阻塞直到有任务，队列关闭后返回剩余任务直到取空
func (q *jobQueue) Dequeue() (*Job, bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return job, true
}

func (q *jobQueue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

func (q *jobQueue) Close() {
	q.mutex.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mutex.Unlock()
}
