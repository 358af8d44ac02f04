package main

import (
	"context"
	"fetchrelay/cmd"
	"fetchrelay/config"
	"fetchrelay/resumable"
	"fetchrelay/storage"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
)

func main() {
	var (
		server     bool
		port       int
		configPath string
		memory     bool
		upload     string
		endpoint   string
		selfTest   bool
	)

	flag.BoolVar(&server, "server", false, "Start in web server mode")
	flag.IntVar(&port, "port", 0, "Port for web server mode (overrides config)")
	flag.StringVar(&configPath, "config", "fetchrelay.yaml", "Path to the YAML config file")
	flag.BoolVar(&memory, "memory", false, "Keep jobs in memory instead of SQLite")
	flag.StringVar(&upload, "upload", "", "Upload a local file to the remote endpoint and exit")
	flag.StringVar(&endpoint, "endpoint", "", "Remote upload endpoint (defaults to upload.default_endpoint)")
	flag.BoolVar(&selfTest, "selftest", false, "Run a remote upload self-test and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if endpoint == "" {
		endpoint = cfg.Upload.DefaultEndpoint
	}

	// Server mode takes precedence
	if server {
		var opts cmd.Options
		if memory {
			opts.Store = storage.NewMemoryStore()
		}
		if err := cmd.StartWebServer(cfg, opts); err != nil {
			log.Fatalf("Server error: %v", err)
		}
		return
	}

	if upload == "" && !selfTest {
		flag.Usage()
		return
	}
	if endpoint == "" {
		log.Fatalf("You must provide -endpoint or set upload.default_endpoint")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := resumable.NewClient(nil)
	client.ChunkSize = cfg.Upload.ChunkSize

	if selfTest {
		result, err := client.SelfTest(ctx, endpoint)
		if err != nil {
			log.Fatalf("Self-test failed: %v", err)
		}
		fmt.Printf("Self-test passed: %d bytes accepted at %s\n", result.Size, result.Location)
		return
	}

	if err := uploadFile(ctx, client, endpoint, upload); err != nil {
		log.Fatalf("Cannot upload %s: %v", upload, err)
	}
}

// uploadFile relays path to endpoint, drawing a progress bar on the terminal
func uploadFile(ctx context.Context, client *resumable.Client, endpoint, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	bar := progressbar.DefaultBytes(info.Size(), "uploading "+filepath.Base(path))
	result, err := client.Upload(ctx, endpoint, path, filepath.Base(path), func(p resumable.Progress) error {
		return bar.Set64(p.Offset)
	})
	if err != nil {
		return err
	}
	bar.Finish()

	fmt.Printf("\nUploaded %d bytes in %d chunks to %s\n", result.Size, result.Chunks, result.Location)
	return nil
}
