package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"gridhold.gg/internal/persistence/r2s3"
)

// buildMirror wires the offsite mirror from the environment. All four
// variables must be set; otherwise mirroring is disabled and nil is returned
// (a nil mirror is safe to use).
//
//	GRIDHOLD_R2_ENDPOINT, GRIDHOLD_R2_BUCKET,
//	GRIDHOLD_R2_ACCESS_KEY_ID, GRIDHOLD_R2_SECRET_ACCESS_KEY,
//	GRIDHOLD_R2_PREFIX (optional)
func buildMirror(dataDir string, logger *log.Logger) *r2s3.Mirror {
	endpoint := os.Getenv("GRIDHOLD_R2_ENDPOINT")
	bucket := os.Getenv("GRIDHOLD_R2_BUCKET")
	accessKeyID := os.Getenv("GRIDHOLD_R2_ACCESS_KEY_ID")
	secretAccessKey := os.Getenv("GRIDHOLD_R2_SECRET_ACCESS_KEY")
	if endpoint == "" && bucket == "" && accessKeyID == "" && secretAccessKey == "" {
		return nil
	}

	client, err := r2s3.NewClient(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		logger.Fatalf("mirror config: %v", err)
	}
	logger.Printf("offsite mirror enabled bucket=%s", bucket)
	return r2s3.NewMirror(client, dataDir, os.Getenv("GRIDHOLD_R2_PREFIX"), logger)
}

// mirrorScoreDB periodically enqueues the score database for upload, so an
// offsite copy is never older than the interval.
func mirrorScoreDB(ctx context.Context, mirror *r2s3.Mirror, dataDir string) {
	t := time.NewTicker(5 * time.Minute)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			mirror.Enqueue(filepath.Join(dataDir, "score.db"))
		case <-ctx.Done():
			return
		}
	}
}
