package audit

/*
Trail — асинхронный журнал аудита гейта.

- Неблокирующая запись: Log кладет событие в буферизованный канал и сразу возвращается,
  задержки хранилища не влияют на время обработки вебхука.
- Пакетная запись: события копятся в памяти и уходят в хранилище пачкой
  по таймеру или при достижении размера пачки.
- Drain при остановке: Stop закрывает канал и ждет, пока воркер вычитает остатки и сделает финальный flush.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются события.
type StorageInterface interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Auditor: единственная точка, через которую ядро пишет аудит.
type Auditor interface {
	Log(event Event)
}

// Nop отбрасывает события. Удобен там, где аудит не нужен.
type Nop struct{}

func (Nop) Log(Event) {}

// Recorder копит события в памяти. Используется в тестах и в режиме без БД.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Log(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events возвращает копию накопленных событий.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter возвращает события заданного вида.
func (r *Recorder) Filter(kind Kind) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type TrailOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

type Trail struct {
	ch       chan Event
	repo     StorageInterface
	logger   *zap.Logger
	opts     TrailOptions
	wg      sync.WaitGroup
	mu      sync.RWMutex // Log держит RLock на время отправки, Stop берет Lock перед close
	closed  bool
	dropped atomic.Int64
}

func NewTrail(repo StorageInterface, logger *zap.Logger, opts TrailOptions) *Trail {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 500 * time.Millisecond
	}
	return &Trail{
		ch:     make(chan Event, opts.BufferSize),
		repo:   repo,
		logger: logger.With(zap.String("mod", "audit")),
		opts:   opts,
	}
}

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully", zap.Int64("dropped", t.dropped.Load()))
}

// Len: текущая заполненность буфера (для метрики backpressure).
func (t *Trail) Len() int { return len(t.ch) }

// Dropped: сколько событий отброшено из-за переполнения.
func (t *Trail) Dropped() int64 { return t.dropped.Load() }

func (t *Trail) Log(event Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("audit event dropped: trail is stopping", zap.String("id", event.ID))
		t.dropped.Add(1)
		return
	}

	// Load shedding: при переполнении не блокируем hot path
	select {
	case t.ch <- event:
	default:
		t.dropped.Add(1)
		t.logger.Error("audit_buffer_overflow",
			zap.String("kind", string(event.Kind)),
			zap.String("run_id", event.RunID),
			zap.String("delivery_id", event.DeliveryID),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Event, 0, t.opts.BatchSize)
	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к этому моменту может быть уже закрыт
		if err := t.repo.WriteBatch(context.Background(), batch); err != nil {
			t.logger.Error("audit flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = make([]Event, 0, t.opts.BatchSize)
	}

	for {
		select {
		case event, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop: остатки уже вычитаны, финальный сброс
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, event)
			if len(batch) >= t.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
