package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/examcast/internal/cache"
	"github.com/jmylchreest/examcast/internal/model"
)

var cacheOpts struct {
	all     bool
	maxSize string
	dryRun  bool
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the audio cache",
	Long: `Manage the local copy of announcement audio.

Audio is downloaded once and played from the cache when the network is
unavailable or offline mode is on.`,
}

var cacheWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Download audio ahead of time",
	Long: `Download the audio of every scheduled event and the test tone of the
selected library. With --all, download every library.`,
	Args: cobra.NoArgs,
	RunE: runCacheWarm,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List cached audio",
	Args:  cobra.NoArgs,
	RunE:  runCacheStatus,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Evict least recently used audio",
	Long: `Evict the least recently played audio until the cache fits in --max-size.

Examples:
  examcast cache prune --max-size 200MB
  examcast cache prune --max-size 50MiB --dry-run`,
	Args: cobra.NoArgs,
	RunE: runCachePrune,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheWarmCmd)
	cacheCmd.AddCommand(cacheStatusCmd)
	cacheCmd.AddCommand(cachePruneCmd)

	cacheWarmCmd.Flags().BoolVar(&cacheOpts.all, "all", false,
		"Download the audio of every library")
	cachePruneCmd.Flags().StringVar(&cacheOpts.maxSize, "max-size", "",
		"Size to shrink the cache to (e.g., 200MB; default: cache.max_size)")
	cachePruneCmd.Flags().BoolVar(&cacheOpts.dryRun, "dry-run", false,
		"Show the cache size without evicting anything")
}

func runCacheWarm(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := loadCatalog()
	if err != nil {
		return err
	}

	var urls []string
	seen := make(map[string]bool)
	addURL := func(u string) {
		if u != "" && !seen[u] && !model.IsDataURL(u) {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	for _, e := range eventStore.Events() {
		addURL(e.AudioFile)
	}
	if cacheOpts.all {
		for _, u := range cat.URLs() {
			addURL(u)
		}
	} else if u, err := cat.Resolve(model.CueTuning, selectedLibrary(cat)); err == nil {
		addURL(u)
	}

	if len(urls) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Nothing to download")
		return nil
	}

	c, err := openCache(nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	out := cmd.OutOrStdout()
	failed := c.WarmAll(ctx, urls, func(done, total int, url string, err error) {
		status := "ok"
		if err != nil {
			status = "failed: " + err.Error()
		}
		fmt.Fprintf(out, "[%d/%d] %s %s\n", done, total, url, status)
	})

	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(urls))
	}
	fmt.Fprintf(out, "Cached %d files\n", len(urls))
	return nil
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := openCache(nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	entries, err := c.Entries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessed.After(entries[j].LastAccessed)
	})

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tSIZE\tLAST USED\tURL")

	var total int64
	for _, e := range entries {
		size := "-"
		if e.Status == cache.StatusCached {
			size = humanize.Bytes(uint64(e.Size))
			total += e.Size
		}
		used := "never"
		if !e.LastAccessed.IsZero() {
			used = humanize.Time(e.LastAccessed)
		}
		status := string(e.Status)
		if e.Status == cache.StatusError && e.LastError != "" {
			status = fmt.Sprintf("error (%d attempts)", e.Attempts)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", status, size, used, e.URL)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d entries, %s cached\n", len(entries), humanize.Bytes(uint64(total)))
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	maxBytes, err := cfg.CacheMaxBytes()
	if err != nil {
		return err
	}
	if cacheOpts.maxSize != "" {
		n, err := humanize.ParseBytes(cacheOpts.maxSize)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", cacheOpts.maxSize, err)
		}
		maxBytes = int64(n)
	}
	if maxBytes <= 0 {
		return fmt.Errorf("specify --max-size or set cache.max_size")
	}

	c, err := openCache(nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	if cacheOpts.dryRun {
		entries, err := c.Entries(ctx)
		if err != nil {
			return fmt.Errorf("failed to list cache: %w", err)
		}
		var total int64
		for _, e := range entries {
			if e.Status == cache.StatusCached {
				total += e.Size
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cache holds %s, limit %s\n",
			humanize.Bytes(uint64(total)), humanize.Bytes(uint64(maxBytes)))
		return nil
	}

	evicted, err := c.Prune(ctx, maxBytes)
	if err != nil {
		return fmt.Errorf("failed to prune cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d entries\n", evicted)
	return nil
}
