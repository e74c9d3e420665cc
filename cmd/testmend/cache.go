package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/kamilpajak/testmend/internal/cache"
)

var cachePath string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the persisted response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print response cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the persisted response cache",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.PersistentFlags().StringVar(&cachePath, "path", "", "Cache snapshot file (default cache.persistPath)")
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func resolveCachePath() (string, error) {
	if cachePath != "" {
		return cachePath, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Cache.PersistPath == "" {
		return "", errors.New("no cache file configured, use --path or cache.persistPath")
	}
	return cfg.Cache.PersistPath, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	path, err := resolveCachePath()
	if err != nil {
		return err
	}
	c, err := cache.New(cache.DefaultConfig())
	if err != nil {
		return err
	}
	n, err := c.LoadFile(path)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Cache: %s\n", path)
	fmt.Fprintf(w, "  live entries: %d\n", n)
	fmt.Fprintf(w, "  %s\n", c.Stats())
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	path, err := resolveCachePath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s\n", path)
	return nil
}
