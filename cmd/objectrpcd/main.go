// Command objectrpcd runs either end of a demo objectrpc connection: a
// server exposing a Counter root object, or a client that dials in,
// fetches the root proxy, subscribes to its PropertyChanged event, and
// drives a few Increment calls.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wirebond/objectrpc/internal/config"
	"github.com/wirebond/objectrpc/internal/registry"
	"github.com/wirebond/objectrpc/public/rpc"
)

func main() {
	mode := flag.String("mode", "server", "\"server\" or \"client\"")
	addr := flag.String("addr", "localhost:9631", "address to listen on or dial")
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg := defaultConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			log.Fatalf("failed to load config from %s: %v", *configFile, err)
		}
		cfg = loaded
	}

	switch *mode {
	case "server":
		runServer(cfg, *addr)
	case "client":
		runClient(cfg, *addr)
	default:
		log.Fatalf("unknown -mode %q: want \"server\" or \"client\"", *mode)
	}
}

func defaultConfig() *config.Config {
	return &config.Config{
		Debug:                 true,
		Codec:                 "msgpack",
		MaxFrameBytes:         64 * 1024 * 1024,
		DispatchQueueDepth:    10000,
		RequestTimeoutSeconds: 30,
		QuiescenceMillis:      50,
	}
}

func runServer(cfg *config.Config, addr string) {
	root := NewCounter()
	reg := registry.New()
	reg.Register("Counter", root)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutting down")
		cancel()
	}()

	log.Printf("Counter server listening on %s", addr)
	if err := rpc.Serve(ctx, rpc.ServerConfig{
		Address:        addr,
		Codec:          codecFromName(cfg.Codec),
		MaxFrameBytes:  cfg.MaxFrameBytes,
		QueueDepth:     cfg.DispatchQueueDepth,
		RequestTimeout: cfg.RequestTimeoutSeconds,
		Debug:          cfg.Debug,
	}, reg, root); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runClient(cfg *config.Config, addr string) {
	client, err := rpc.Dial(rpc.ClientConfig{
		Address:          addr,
		Codec:            codecFromName(cfg.Codec),
		MaxFrameBytes:    cfg.MaxFrameBytes,
		QueueDepth:       cfg.DispatchQueueDepth,
		RequestTimeout:   cfg.RequestTimeoutSeconds,
		QuiescenceMillis: cfg.QuiescenceMillis,
		Debug:            cfg.Debug,
	})
	if err != nil {
		log.Fatalf("dial failed: %v", err)
	}
	defer client.Close()

	registerProxyTypes(client)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.RequestTimeoutSeconds)*time.Second)
	defer cancel()

	rootObj, err := client.Root(ctx)
	if err != nil {
		log.Fatalf("RootQuery failed: %v", err)
	}
	counter, ok := rootObj.(*CounterProxy)
	if !ok {
		log.Fatalf("unexpected root type %T", rootObj)
	}

	if err := counter.OnValueChanged(func(newValue int) {
		log.Printf("Value changed: %d", newValue)
	}); err != nil {
		log.Fatalf("subscribe failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		v, err := counter.Increment(1)
		if err != nil {
			log.Fatalf("Increment failed: %v", err)
		}
		log.Printf("Increment -> %d", v)
	}
}

func codecFromName(name string) rpc.Codec {
	if name == "json" {
		return rpc.CodecJSON
	}
	return rpc.CodecMsgpack
}
