// Command mapgen generates a game's resource schedule offline and writes the
// master data file consumed by the server.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"
	"strings"

	"gridhold.gg/internal/master"
)

func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		configPath = flag.String("config", "", "path to map_config.yaml (default: <configs>/map_config.yaml)")
		outPath    = flag.String("out", "", "output path (default: <configs>/master.json)")
		period     = flag.Int64("period", 600000, "game period, milliseconds")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[mapgen] ", log.LstdFlags)

	cp := strings.TrimSpace(*configPath)
	if cp == "" {
		cp = filepath.Join(*configDir, "map_config.yaml")
	}
	op := strings.TrimSpace(*outPath)
	if op == "" {
		op = filepath.Join(*configDir, "master.json")
	}

	cfg, err := master.LoadGenConfig(cp)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	md, err := master.Generate(*period, cfg)
	if err != nil {
		logger.Fatalf("generate: %v", err)
	}

	out, err := json.MarshalIndent(master.File{Resource: md.Resources, Period: md.Period}, "", "  ")
	if err != nil {
		logger.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(op, out, 0o644); err != nil {
		logger.Fatalf("write %s: %v", op, err)
	}
	logger.Printf("wrote %s: %d resources over %dms", op, len(md.Resources), md.Period)
}
