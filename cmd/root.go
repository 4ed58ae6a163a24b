package cmd

import (
	"context"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/rekku-dl/rekku/internal/output"
	"github.com/rekku-dl/rekku/internal/scheduler"
	"github.com/rekku-dl/rekku/internal/utils"
)

var (
	outputDir     string
	outputName    string
	workers       int
	retries       int
	noResume      bool
	headers       []string
	userAgent     string
	proxyURL      string
	proxyUsername string
	proxyPassword string
	retryCodes    []int
	rateLimit     int64
	timeout       time.Duration
	kaTimeout     time.Duration
	progressMode  string
	clearOnFinish bool
	debug         bool
)

var RekkuVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "rekku [URLs...]",
	Short:   "Rekku is a batch HTTP download manager with resume support",
	Version: RekkuVersion,
	Args:    cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		utils.InitLogger(debug)
		if len(args) == 0 {
			output.PrintError("No URL provided")
			os.Exit(1)
		}
		if outputName != "" && len(args) > 1 {
			output.PrintError("Cannot use --name with more than one URL")
			os.Exit(1)
		}
		var items []utils.Item
		for _, url := range args {
			if _, err := u.Parse(url); err != nil {
				output.PrintError(fmt.Sprintf("Invalid URL: %s", url))
				os.Exit(1)
			}
			items = append(items, utils.Item{URL: url, Name: outputName})
		}
		runDownloads(items)
	},
}

func buildConfig() utils.Config {
	cfg := utils.DefaultConfig()
	cfg.Dir = outputDir
	cfg.Concurrency = workers
	cfg.Retries = retries
	cfg.Resumable = !noResume
	cfg.Headers = utils.ParseHeaderArgs(headers)
	cfg.UserAgent = userAgent
	if userAgent == "randomize" {
		cfg.UserAgent = utils.GetRandomUserAgent()
	}
	cfg.RetryStatusCodes = retryCodes
	cfg.RateLimit = rateLimit
	cfg.Timeout = timeout
	cfg.KATimeout = kaTimeout
	cfg.ProgressMode = utils.ProgressMode(progressMode)
	cfg.ClearOnFinish = clearOnFinish

	// Proxy URLs may carry credentials inline
	if parsedProxy, err := u.Parse(proxyURL); err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	cfg.ProxyURL = proxyURL
	cfg.ProxyUsername = proxyUsername
	cfg.ProxyPassword = proxyPassword
	return cfg
}

func runDownloads(items []utils.Item) {
	cfg := buildConfig()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	renderer := output.NewRenderer(len(items), cfg.ProgressMode, cfg.ClearOnFinish)
	renderer.Start()
	outcomes, err := scheduler.Run(ctx, items, cfg, renderer)
	if err != nil {
		output.PrintError(fmt.Sprintf("Error: %v", err))
		os.Exit(1)
	}
	renderer.ShowSummary(outcomes)
	for _, out := range outcomes {
		if out.Status == utils.StatusFail || out.Status == utils.StatusCancelled {
			os.Exit(1)
		}
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newBatchCmd())

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&outputDir, "dir", "d", ".", "Destination directory")
	pf.IntVarP(&workers, "workers", "w", 32, "Number of downloads to run in parallel")
	pf.IntVarP(&retries, "retries", "r", 3, "Retries per download after the first attempt")
	pf.BoolVar(&noResume, "no-resume", false, "Always download from scratch, ignoring partial files")
	pf.StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	pf.StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks one)")
	pf.StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	pf.StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	pf.StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	pf.IntSliceVar(&retryCodes, "retry-status", nil, "Extra HTTP status codes to treat as retryable")
	pf.Int64Var(&rateLimit, "rate-limit", 0, "Download cap in bytes/sec across the run (0 = unlimited)")
	pf.DurationVarP(&timeout, "timeout", "t", 3*time.Minute, "Per-request timeout (eg. 5s, 10m)")
	pf.DurationVarP(&kaTimeout, "keep-alive-timeout", "k", 90*time.Second, "Keep-alive timeout for the client (eg. 10s, 1m)")
	pf.StringVar(&progressMode, "progress", "both", "Progress display: hidden, peritem, aggregate, both")
	pf.BoolVar(&clearOnFinish, "clear", false, "Clear the progress display when the run finishes")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.Flags().StringVarP(&outputName, "name", "n", "", "Output filename (single URL only; inferred if not provided)")
}
