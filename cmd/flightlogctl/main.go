package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/flightlog/internal/common"
	"example.com/flightlog/internal/keychain"
	"example.com/flightlog/internal/report"
	"example.com/flightlog/internal/txtlog"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	switch cmd {
	case "decode":
		decodeCmd(os.Args[2:])
	case "report":
		reportCmd(os.Args[2:])
	case "batch":
		batchCmd(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`flightlogctl %s (built %s) <command> [options]

Commands:
  decode  --in <file.txt> [--api-key <key>] [--endpoint <url>] [--timeout <dur>] [--out <flight.json>] [--points <points.ndjson>] [--metrics] [--progress]
  report  --in <flight.json> --out <report.pdf> [--lang en|tr] [--fingerprint <hex>]
  batch   --in <dir> --out-dir <dir> [--api-key <key>] [--endpoint <url>] [--lang en|tr]
`, version, buildDate)
}

func keychainClient(apiKey, endpoint string, timeout time.Duration) *keychain.Client {
	if apiKey == "" {
		apiKey = os.Getenv("FLIGHTLOG_API_KEY")
	}
	return keychain.NewClient(keychain.Config{
		APIKey:   apiKey,
		Endpoint: endpoint,
		Timeout:  timeout,
	})
}

func decodeCmd(args []string) {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "input flight log (.txt)")
	apiKey := fs.String("api-key", "", "keychain service API key (defaults to $FLIGHTLOG_API_KEY)")
	endpoint := fs.String("endpoint", keychain.DefaultEndpoint, "keychain service endpoint")
	timeout := fs.Duration("timeout", 10*time.Second, "keychain request timeout")
	out := fs.String("out", "", "flight summary output (json, default stdout)")
	points := fs.String("points", "", "data point output (ndjson)")
	metricsFlag := fs.Bool("metrics", false, "print decode throughput metrics")
	progressFlag := fs.Bool("progress", false, "display decode progress updates")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Parse(args)

	if *in == "" {
		common.Fatalf("required: --in")
	}
	common.SetDebug(*debug)

	var metrics *common.Metrics
	if *metricsFlag || *progressFlag {
		metrics = common.NewMetrics()
		if info, err := os.Stat(*in); err == nil {
			metrics.SetTotalBytes(info.Size())
		}
	}

	data, err := os.ReadFile(*in)
	if err != nil {
		common.Fatalf("read input: %v", err)
	}

	var stopProgress func()
	if metrics != nil {
		metrics.Start()
		if *progressFlag {
			stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
		}
	}
	res, err := txtlog.Decode(context.Background(), data, txtlog.Options{
		Filename: filepath.Base(*in),
		Fetcher:  keychainClient(*apiKey, *endpoint, *timeout),
		Metrics:  metrics,
	})
	if stopProgress != nil {
		stopProgress()
	}
	if metrics != nil {
		metrics.Stop()
	}
	if err != nil && res == nil {
		if txtlog.IsFatal(err) {
			common.Fatalf("unreadable flight log: %v", err)
		}
		common.Fatalf("decode: %v", err)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode finished early: %v\n", err)
	}

	if *points != "" {
		if err := writePointsNDJSON(res, *points); err != nil {
			common.Fatalf("write points: %v", err)
		}
	}
	outPath := *out
	if outPath == "" {
		outPath = "/dev/stdout"
	}
	if err := report.SaveFlightJSON(res, outPath); err != nil {
		common.Fatalf("write summary: %v", err)
	}

	fmt.Fprintf(os.Stderr, "points=%d photos=%d warnings=%d errors=%d partial=%v\n",
		res.Summary.DataPoints, res.Summary.Photos, len(res.Warnings), len(res.Errors), res.Summary.Partial)
	if metrics != nil && *metricsFlag {
		snap := metrics.Snapshot()
		mbPerSec := snap.ThroughputBytesPerSecond() / 1_000_000
		fmt.Fprintf(os.Stderr, "Metrics: duration=%s records=%d resyncs=%d decryptErrors=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Records,
			snap.Resyncs,
			snap.DecryptErrors,
			common.FormatBytes(snap.Bytes),
			mbPerSec,
		)
	}
	if len(res.Errors) > 0 {
		os.Exit(3)
	}
}

func writePointsNDJSON(res *txtlog.Result, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range res.DataPoints {
		if err := enc.Encode(res.DataPoints[i]); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func reportCmd(args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "flight summary json (from decode)")
	out := fs.String("out", "report.pdf", "output PDF")
	lang := fs.String("lang", "en", "report language (en, tr)")
	fingerprint := fs.String("fingerprint", "", "source file SHA-256 printed as QR (optional)")
	fs.Parse(args)

	if *in == "" {
		common.Fatalf("required: --in")
	}
	language, err := report.ParseLanguage(*lang)
	if err != nil {
		common.Fatalf("lang: %v", err)
	}
	res, err := report.LoadFlightJSON(*in)
	if err != nil {
		common.Fatalf("load flight: %v", err)
	}
	if err := report.SaveFlightPDF(res, *out, report.PDFOptions{Lang: language, Fingerprint: *fingerprint}); err != nil {
		common.Fatalf("write pdf: %v", err)
	}
	fmt.Println("Wrote PDF:", *out)
}

func batchCmd(args []string) {
	flags := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := flags.String("in", ".", "input directory (scanned recursively for .txt logs)")
	outDir := flags.String("out-dir", "out", "results directory")
	apiKey := flags.String("api-key", "", "keychain service API key (defaults to $FLIGHTLOG_API_KEY)")
	endpoint := flags.String("endpoint", keychain.DefaultEndpoint, "keychain service endpoint")
	timeout := flags.Duration("timeout", 10*time.Second, "keychain request timeout")
	lang := flags.String("lang", "en", "report language (en, tr)")
	flags.Parse(args)

	language, err := report.ParseLanguage(*lang)
	if err != nil {
		common.Fatalf("lang: %v", err)
	}
	client := keychainClient(*apiKey, *endpoint, *timeout)

	var inputs []string
	err = filepath.WalkDir(*inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".txt") {
			inputs = append(inputs, path)
		}
		return nil
	})
	if err != nil {
		common.Fatalf("scan inputs: %v", err)
	}
	if len(inputs) == 0 {
		common.Fatalf("no .txt logs found under %s", *inDir)
	}

	failures := 0
	for _, input := range inputs {
		if err := batchOne(input, *outDir, client, language); err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "%s: %v\n", input, err)
		}
	}
	fmt.Printf("Processed %d file(s), %d failure(s)\n", len(inputs), failures)
	if failures > 0 {
		os.Exit(3)
	}
}

func batchOne(input, outDir string, client *keychain.Client, lang report.Language) error {
	data, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	dest := filepath.Join(outDir, name)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	res, err := txtlog.Decode(context.Background(), data, txtlog.Options{
		Filename: filepath.Base(input),
		Fetcher:  client,
	})
	if res == nil {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: decode finished early: %v\n", input, err)
	}

	if err := report.SaveFlightJSON(res, filepath.Join(dest, "flight.json")); err != nil {
		return err
	}
	if err := writePointsNDJSON(res, filepath.Join(dest, "points.ndjson")); err != nil {
		return err
	}
	fingerprint := common.Sha256OfBytes(data)
	return report.SaveFlightPDF(res, filepath.Join(dest, "report.pdf"), report.PDFOptions{Lang: lang, Fingerprint: fingerprint})
}
