package event

import (
	"context"
	"errors"
	"sync"
)

// MemoryQueue 使用 channel 模拟事件流，主要用于测试与单机运行。
type MemoryQueue struct {
	ch   chan []byte
	done chan struct{}

	mu         sync.Mutex
	publishers sync.WaitGroup
	closed     bool
}

// NewMemoryQueue 创建一个内存事件队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Publish 将事件投递到队列。
// 在途的投递通过 done 信号感知关闭，channel 本身只在无人投递后关闭。
func (q *MemoryQueue) Publish(ctx context.Context, e Event) error {
	payload, err := e.Encode()
	if err != nil {
		return err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errors.New("队列已关闭")
	}
	q.publishers.Add(1)
	q.mu.Unlock()
	defer q.publishers.Done()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return errors.New("队列已关闭")
	case q.ch <- payload:
		return nil
	}
}

// Consume 启动指定数量的工作协程消费队列中的事件。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-q.ch:
					if !ok {
						return
					}
					e, err := Decode(payload)
					if err != nil {
						continue
					}
					_ = handler(ctx, e)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭内存队列，等待在途投递退出后再关闭底层 channel。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.publishers.Wait()
	close(q.ch)
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
