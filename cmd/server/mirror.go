package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"boiding.ai/internal/persistence/mirror"
)

// buildMirror returns nil unless BOIDING_MIRROR is on.
func buildMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("BOIDING_MIRROR", false) {
		return nil, nil
	}
	endpoint := strings.TrimSpace(os.Getenv("BOIDING_MIRROR_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("BOIDING_MIRROR_BUCKET"))
	accessKey := strings.TrimSpace(os.Getenv("BOIDING_MIRROR_ACCESS_KEY_ID"))
	secretKey := strings.TrimSpace(os.Getenv("BOIDING_MIRROR_SECRET_ACCESS_KEY"))
	if endpoint == "" || bucket == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("BOIDING_MIRROR=true but BOIDING_MIRROR_ENDPOINT/BUCKET/ACCESS_KEY_ID/SECRET_ACCESS_KEY are not fully set")
	}
	client, err := mirror.NewClient(endpoint, bucket, accessKey, secretKey)
	if err != nil {
		return nil, err
	}
	return mirror.New(client, mirror.Config{
		DataDir: dataDir,
		Prefix:  os.Getenv("BOIDING_MIRROR_PREFIX"),
		Workers: envInt("BOIDING_MIRROR_WORKERS", 2),
		Logger:  logger,
	}), nil
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
