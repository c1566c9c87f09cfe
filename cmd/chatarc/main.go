package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/chatarc/chatarc/internal/account"
	"github.com/chatarc/chatarc/internal/app"
	"github.com/chatarc/chatarc/internal/bus"
	"github.com/chatarc/chatarc/internal/config"
	"github.com/chatarc/chatarc/internal/export"
	"github.com/chatarc/chatarc/internal/media"
	"github.com/chatarc/chatarc/internal/sessiondb"
	"github.com/chatarc/chatarc/internal/shard"
	"github.com/chatarc/chatarc/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "export":
		cmdExport(os.Args[2:])
	case "chats":
		cmdChats(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "dat":
		cmdDat(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatarc <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  export --data <dir>   Export conversations into a zip archive")
	fmt.Fprintln(os.Stderr, "  chats --data <dir>    List conversations from the session index")
	fmt.Fprintln(os.Stderr, "  history               List past export jobs")
	fmt.Fprintln(os.Stderr, "  dat <in> [out]        Decrypt a single media container")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "run 'chatarc <command> -h' for command flags")
}

func cmdExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dataFlag := fs.String("data", "", "account data directory (required)")
	idFlag := fs.String("id", "", "account identity (default: base name of --data)")
	outFlag := fs.String("out", "", "archive destination directory")
	formatFlag := fs.String("format", "", "archive format: json or txt")
	convFlag := fs.String("conv", "", "comma-separated conversation ids (default: all matching the filter)")
	noMediaFlag := fs.Bool("no-media", false, "skip media resolution")
	privacyFlag := fs.Bool("privacy", false, "pseudonymize senders and redact content")
	groupsFlag := fs.Bool("groups", true, "include group conversations")
	singlesFlag := fs.Bool("singles", true, "include one-to-one conversations")
	hiddenFlag := fs.Bool("hidden", false, "include hidden conversations")
	officialFlag := fs.Bool("official", false, "include official accounts")
	fromFlag := fs.String("from", "", "earliest message time (YYYY-MM-DD or unix seconds)")
	toFlag := fs.String("to", "", "latest message time (YYYY-MM-DD or unix seconds)")
	jsonFlag := fs.Bool("json", false, "print the final job state as JSON")
	_ = fs.Parse(args)

	if *dataFlag == "" {
		fmt.Fprintln(os.Stderr, "error: --data is required")
		os.Exit(1)
	}
	from, err := parseTimeArg(*fromFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: --from: %v\n", err)
		os.Exit(1)
	}
	to, err := parseTimeArg(*toFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: --to: %v\n", err)
		os.Exit(1)
	}

	var (
		cfg *config.Config
		mgr *export.Manager
		evb *bus.Bus
	)
	fxApp := fx.New(
		app.Module(app.Params{AccountRoot: *dataFlag, AccountID: *idFlag}),
		fx.Populate(&cfg, &mgr, &evb),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()
	if err := fxApp.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	format := *formatFlag
	if format == "" {
		format = cfg.Export.Format
	}
	outDir := *outFlag
	if outDir == "" {
		outDir = cfg.OutputDir
	}
	opts := export.Options{
		Conversations: splitList(*convFlag),
		Filter: sessiondb.Filter{
			Groups:   *groupsFlag,
			Singles:  *singlesFlag,
			Hidden:   *hiddenFlag,
			Official: *officialFlag,
		},
		Window:    shard.TimeWindow{From: from, To: to},
		Format:    format,
		Media:     cfg.Export.Media && !*noMediaFlag,
		Privacy:   *privacyFlag,
		OutputDir: outDir,
	}

	// Subscribe before creating the job so no status event is missed.
	events, unsubscribe := evb.Subscribe("job.", 64)
	defer unsubscribe()

	snap, err := mgr.Create(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stopApp(fxApp)
		os.Exit(1)
	}
	if !*jsonFlag {
		fmt.Printf("export job %s\n", snap.ID)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	final := waitJob(mgr, events, sigCh, snap.ID, *jsonFlag)
	signal.Stop(sigCh)

	exitCode := 0
	if *jsonFlag {
		outputJSON(final)
		if final.Status != export.StatusDone {
			exitCode = 1
		}
	} else {
		fmt.Println()
		p := final.Progress
		switch final.Status {
		case export.StatusDone:
			fmt.Printf("Status:        done\n")
			fmt.Printf("Archive:       %s\n", final.ArchivePath)
			fmt.Printf("Conversations: %d\n", p.ConversationsDone)
			fmt.Printf("Messages:      %d\n", p.Messages)
			fmt.Printf("Media:         %d exported, %d missing\n", p.MediaExported, p.MediaMissing)
			if p.Errors > 0 {
				fmt.Printf("Errors:        %d (see report.json)\n", p.Errors)
			}
			fmt.Printf("Duration:      %s\n", final.FinishedAt.Sub(final.StartedAt).Round(time.Millisecond))
		case export.StatusCancelled:
			fmt.Println("Status: cancelled, no archive written")
			exitCode = 1
		default:
			fmt.Fprintf(os.Stderr, "error: %s\n", final.Error)
			exitCode = 1
		}
	}

	stopApp(fxApp)
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

// waitJob renders progress until the job reaches a terminal state. The bus
// may drop events under load, so a poll ticker backstops the event stream.
func waitJob(mgr *export.Manager, events <-chan bus.Event, sigCh <-chan os.Signal, jobID string, quiet bool) export.Snapshot {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case evt := <-events:
			switch p := evt.Payload.(type) {
			case bus.JobProgress:
				if p.JobID != jobID || quiet {
					continue
				}
				fmt.Printf("\r[%d/%d] %-28.28s %7d messages %6d media %4d missing",
					p.ConversationsDone, p.ConversationsAll, p.Conversation,
					p.Messages, p.MediaExported, p.MediaMissing)
			case bus.JobStatusChange:
				if p.JobID != jobID || !export.Status(p.To).Terminal() {
					continue
				}
				if s, ok := mgr.Get(jobID); ok {
					return s
				}
			}
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\ninterrupt received, cancelling job")
			mgr.Cancel(jobID)
		case <-ticker.C:
			if s, ok := mgr.Get(jobID); ok && s.Status.Terminal() {
				return s
			}
		}
	}
}

func stopApp(fxApp *fx.App) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = fxApp.Stop(stopCtx)
}

func cmdChats(args []string) {
	fs := flag.NewFlagSet("chats", flag.ExitOnError)
	dataFlag := fs.String("data", "", "account data directory (required)")
	idFlag := fs.String("id", "", "account identity (default: base name of --data)")
	groupsFlag := fs.Bool("groups", true, "include group conversations")
	singlesFlag := fs.Bool("singles", true, "include one-to-one conversations")
	hiddenFlag := fs.Bool("hidden", false, "include hidden conversations")
	officialFlag := fs.Bool("official", false, "include official accounts")
	jsonFlag := fs.Bool("json", false, "output in JSON format")
	_ = fs.Parse(args)

	if *dataFlag == "" {
		fmt.Fprintln(os.Stderr, "error: --data is required")
		os.Exit(1)
	}
	acct, err := account.Open(*dataFlag, *idFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	sessions, err := sessiondb.ListFiltered(acct.SessionDBPath(), sessiondb.Filter{
		Groups:   *groupsFlag,
		Singles:  *singlesFlag,
		Hidden:   *hiddenFlag,
		Official: *officialFlag,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *jsonFlag {
		outputJSON(sessions)
		return
	}
	if len(sessions) == 0 {
		fmt.Println("No conversations matched.")
		return
	}
	for _, s := range sessions {
		kind := "chat"
		switch {
		case sessiondb.IsGroup(s.Username):
			kind = "group"
		case sessiondb.IsOfficial(s.Username):
			kind = "official"
		}
		last := "-"
		if s.LastTimestamp > 0 {
			last = time.Unix(s.LastTimestamp, 0).UTC().Format("2006-01-02 15:04")
		}
		fmt.Printf("%-40s %-9s %s\n", s.Username, kind, last)
	}
	fmt.Printf("%d conversations\n", len(sessions))
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limitFlag := fs.Int("limit", 20, "maximum rows to show")
	jsonFlag := fs.Bool("json", false, "output in JSON format")
	_ = fs.Parse(args)

	if err := account.EnsureStateDirs(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	db, err := store.Open(account.HistoryDBPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	recs, err := db.ListJobs(*limitFlag, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *jsonFlag {
		outputJSON(recs)
		return
	}
	if len(recs) == 0 {
		fmt.Println("No export history.")
		return
	}
	for _, r := range recs {
		when := time.Unix(r.FinishedAt, 0).UTC().Format("2006-01-02 15:04")
		line := fmt.Sprintf("%s  %-9s %s  %6d msgs %5d media", r.ID, r.Status, when, r.Messages, r.MediaExported)
		switch {
		case r.OutputPath != "":
			line += "  " + r.OutputPath
		case r.ErrorText != "":
			line += "  " + r.ErrorText
		}
		fmt.Println(line)
	}
}

func cmdDat(args []string) {
	fs := flag.NewFlagSet("dat", flag.ExitOnError)
	xorFlag := fs.Int("xor", -1, "override the single-byte XOR key (0-255)")
	aesFlag := fs.String("aes", "", "override the 16-byte AES key")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: chatarc dat [flags] <in> [out]")
		os.Exit(1)
	}
	in := fs.Arg(0)
	out := ""
	if fs.NArg() >= 2 {
		out = fs.Arg(1)
	}

	cfg := loadConfigOrDefault()
	keys := keysFromConfig(cfg)
	if *xorFlag >= 0 && *xorFlag <= 255 {
		keys.XORKey = byte(*xorFlag)
		keys.HasXOR = true
	}
	if *aesFlag != "" {
		keys.AESKey = []byte(*aesFlag)
	}
	var codec *media.Codec
	if cfg.CodecBin != "" {
		codec = &media.Codec{Bin: cfg.CodecBin}
	}

	written, ext, err := runDat(in, out, keys, codec)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%s)\n", written, ext)
}

// runDat decrypts one container file and writes the plain result. When out
// is empty a name is derived from the input and the sniffed type.
func runDat(in, out string, keys media.Keys, codec *media.Codec) (string, string, error) {
	data, err := os.ReadFile(in)
	if err != nil {
		return "", "", err
	}
	if ext, ok := media.Sniff(data); ok {
		return "", "", fmt.Errorf("%s is already a plain %s file", in, ext)
	}
	plain, err := media.DecryptDat(data, keys)
	if err != nil {
		return "", "", err
	}
	plain, err = media.Normalize(context.Background(), plain, codec)
	if err != nil {
		return "", "", err
	}
	ext, ok := media.Sniff(plain)
	if !ok {
		ext = "bin"
	}
	if out == "" {
		out = strings.TrimSuffix(in, filepath.Ext(in)) + "." + ext
		if out == in {
			out = in + ".dec"
		}
	}
	if err := os.WriteFile(out, plain, 0644); err != nil {
		return "", "", err
	}
	return out, ext, nil
}

func loadConfigOrDefault() *config.Config {
	cfg, err := config.Load(account.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "warning: %v (using defaults)\n", err)
		}
		return config.Default()
	}
	return cfg
}

func keysFromConfig(cfg *config.Config) media.Keys {
	var keys media.Keys
	if b, ok := cfg.XORByte(); ok {
		keys.XORKey = b
		keys.HasXOR = true
	}
	if k, ok := cfg.AESKey(); ok {
		keys.AESKey = k
	}
	return keys
}

func parseTimeArg(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse %q, want YYYY-MM-DD or unix seconds", s)
	}
	return n, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
