package syncmsg

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

const (
	queueSize     = 1024
	batchSize     = 64
	flushInterval = 1 * time.Second
)

// Pending is one chat message waiting for its durable write.
type Pending struct {
	ChatID   string
	UserName string
	Message  string
}

// Persister moves chat messages into Postgres off the broadcast path. The
// websocket reader only touches the channel, so slow database writes never
// stall frame processing.
type Persister struct {
	db *sql.DB
	ch chan Pending
}

// Run starts the background writer and returns the enqueue handle.
func Run(ctx context.Context, db *sql.DB) *Persister {
	p := &Persister{db: db, ch: make(chan Pending, queueSize)}
	go p.loop(ctx)
	return p
}

// Enqueue hands a message to the writer. Persistence shares the callback's
// best-effort guarantee, so a full queue drops the message with a log line
// instead of blocking the caller.
func (p *Persister) Enqueue(m Pending) {
	select {
	case p.ch <- m:
	default:
		zap.L().Warn("syncmsg.queue_full", zap.String("chat_id", m.ChatID))
	}
}

func (p *Persister) loop(ctx context.Context) {
	tk := time.NewTicker(flushInterval)
	defer tk.Stop()

	batch := make([]Pending, 0, batchSize)
	for {
		select {
		case <-ctx.Done():
			// Drain whatever is still queued before the final flush.
			for {
				select {
				case m := <-p.ch:
					batch = append(batch, m)
				default:
					p.flush(batch)
					return
				}
			}
		case m := <-p.ch:
			batch = append(batch, m)
			if len(batch) >= batchSize {
				p.flush(batch)
				batch = batch[:0]
			}
		case <-tk.C:
			if len(batch) > 0 {
				p.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (p *Persister) flush(batch []Pending) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		zap.L().Error("syncmsg.tx_begin", zap.Error(err))
		return
	}
	defer tx.Rollback()

	const ins = `INSERT INTO messages (chat_id, user_name, message) VALUES ($1, $2, $3)`
	for _, m := range batch {
		if _, err := tx.ExecContext(ctx, ins, m.ChatID, m.UserName, m.Message); err != nil {
			zap.L().Error("syncmsg.insert", zap.String("chat_id", m.ChatID), zap.Error(err))
		}
	}

	if err := tx.Commit(); err != nil {
		zap.L().Error("syncmsg.commit", zap.Error(err))
	}
}
