package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	arg "github.com/alexflint/go-arg"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"example.com/flightlog/internal/keychain"
	"example.com/flightlog/internal/report"
	"example.com/flightlog/internal/server"
)

type logConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type keychainConfig struct {
	APIKey         string `yaml:"apiKey"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	BackoffMs      int    `yaml:"backoffMs"`
	APIKeyEnv      string `yaml:"apiKeyEnv"`
}

type config struct {
	Port                 int            `yaml:"port"`
	StorageDir           string         `yaml:"storageDir"`
	Concurrency          int            `yaml:"concurrency"`
	DecodeTimeoutSeconds int            `yaml:"decodeTimeoutSeconds"`
	Lang                 string         `yaml:"lang"`
	Keychain             keychainConfig `yaml:"keychain"`
	Logs                 logConfig      `yaml:"logs"`
}

func loadConfig(path string) (config, error) {
	var cfg config
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return cfg, err
		}
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
			return cfg, err
		}
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.StorageDir == "" {
		cfg.StorageDir = filepath.Join(".", "data")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.DecodeTimeoutSeconds <= 0 {
		cfg.DecodeTimeoutSeconds = 120
	}
	if cfg.Lang == "" {
		cfg.Lang = "en"
	}
	if cfg.Keychain.Endpoint == "" {
		cfg.Keychain.Endpoint = keychain.DefaultEndpoint
	}
	if cfg.Keychain.APIKeyEnv == "" {
		cfg.Keychain.APIKeyEnv = "FLIGHTLOG_API_KEY"
	}
	if cfg.Keychain.APIKey == "" {
		cfg.Keychain.APIKey = os.Getenv(cfg.Keychain.APIKeyEnv)
	}
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = filepath.Join(cfg.StorageDir, "logs")
	}
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, nil
}

func setupLogging(cfg config) error {
	if err := os.MkdirAll(cfg.Logs.Directory, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Logs.Directory, "flightlogd.log"),
		MaxSize:    cfg.Logs.MaxSizeMB,
		MaxAge:     cfg.Logs.MaxAgeDays,
		MaxBackups: cfg.Logs.MaxBackups,
		Compress:   cfg.Logs.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

type args struct {
	Config       string        `arg:"--config" help:"path to configuration file"`
	Addr         string        `arg:"--addr" help:"listen address (overrides config port)"`
	ReadTimeout  time.Duration `arg:"--read-timeout" default:"60s" help:"HTTP read timeout"`
	WriteTimeout time.Duration `arg:"--write-timeout" default:"300s" help:"HTTP write timeout"`
}

func main() {
	var a args
	arg.MustParse(&a)

	cfg, err := loadConfig(a.Config)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		log.Fatalf("storage dir: %v", err)
	}
	if err := setupLogging(cfg); err != nil {
		log.Fatalf("setup logging: %v", err)
	}
	lang, err := report.ParseLanguage(cfg.Lang)
	if err != nil {
		log.Fatalf("lang: %v", err)
	}

	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	if a.Addr != "" {
		listenAddr = a.Addr
	}
	srv, err := server.NewServer(server.Options{
		StorageDir: cfg.StorageDir,
		Keychain: keychain.Config{
			APIKey:   cfg.Keychain.APIKey,
			Endpoint: cfg.Keychain.Endpoint,
			Timeout:  time.Duration(cfg.Keychain.TimeoutSeconds) * time.Second,
			Backoff:  time.Duration(cfg.Keychain.BackoffMs) * time.Millisecond,
		},
		Lang:          lang,
		Concurrency:   cfg.Concurrency,
		DecodeTimeout: time.Duration(cfg.DecodeTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  a.ReadTimeout,
		WriteTimeout: a.WriteTimeout,
	}

	log.Printf("flightlogd listening on %s", listenAddr)
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("flightlogd stopped")
}
