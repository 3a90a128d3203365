package r2s3

import (
	"context"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of the mirror counters, exposed on /metrics.
type Stats struct {
	QueueDepth    int
	EnqueuedTotal uint64
	DroppedTotal  uint64
	UploadedTotal uint64
	FailedTotal   uint64
}

// Mirror uploads files from the data directory to the bucket, keyed by their
// path relative to the data directory. Enqueue never blocks the caller: when
// the queue is full the file is dropped and counted, not retried.
type Mirror struct {
	client  *Client
	dataDir string
	prefix  string
	logger  *log.Logger

	jobs chan string
	wg   sync.WaitGroup

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
}

func NewMirror(client *Client, dataDir, prefix string, logger *log.Logger) *Mirror {
	m := &Mirror{
		client:  client,
		dataDir: dataDir,
		prefix:  strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:  logger,
		jobs:    make(chan string, 256),
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for p := range m.jobs {
			m.upload(p)
		}
	}()
	return m
}

// Enqueue schedules a file for upload. Safe on a nil mirror, so call sites
// need no enabled-check.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
	default:
		n := m.dropped.Add(1)
		m.logger.Printf("mirror: queue full, dropped %s (total %d)", localPath, n)
	}
}

// Close drains the queue and stops the worker.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(m.jobs),
		EnqueuedTotal: m.enqueued.Load(),
		DroppedTotal:  m.dropped.Load(),
		UploadedTotal: m.uploaded.Load(),
		FailedTotal:   m.failed.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.objectKey(localPath)
	if err != nil {
		m.logger.Printf("mirror: skip %s: %v", localPath, err)
		return
	}

	const attempts = 4
	for i := 1; ; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		err = m.client.Put(ctx, key, localPath)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.logger.Printf("mirror: uploaded %s", key)
			return
		}
		if i == attempts {
			break
		}
		time.Sleep(time.Duration(i*i) * 200 * time.Millisecond)
	}
	m.failed.Add(1)
	m.logger.Printf("mirror: upload %s failed: %v", key, err)
}

func (m *Mirror) objectKey(localPath string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	absBase, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	absLocal, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(absBase, absLocal)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%s is outside the data dir", absLocal)
	}
	if m.prefix != "" {
		return path.Join(m.prefix, rel), nil
	}
	return rel, nil
}
