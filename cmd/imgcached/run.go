package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/goodtune/imgcached/internal/cache"
	"github.com/goodtune/imgcached/internal/config"
	"github.com/goodtune/imgcached/internal/docker"
)

var (
	runCapacity int
	runWindow   time.Duration
	runPolicy   string
	runCmd      []string
)

var runDockerCmd = &cobra.Command{
	Use:   "run [flags] IMAGE [IMAGE...]",
	Short: "Run container workloads through a local cache",
	Long: `Run one container per image, sequentially, against an in-process cache.
Each image is acquired before its container runs and released after it
exits; when the cache is full the evicted victim is removed from the
docker daemon. This is the standalone driver form of the daemon's API.`,
	Example: `  imgcached run --capacity 2 ubuntu:22.04 alpine:3.20 debian:12
  imgcached run --policy least-total-time --cmd sleep --cmd 5 alpine:3.20`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runDockerCmd.Flags().IntVar(&runCapacity, "capacity", 2, "Maximum resident images")
	runDockerCmd.Flags().DurationVar(&runWindow, "window", cache.DefaultTimeWindow, "Trailing usage window")
	runDockerCmd.Flags().StringVar(&runPolicy, "policy", cache.PolicyLeastFrequentlyUsed, "Eviction policy")
	runDockerCmd.Flags().StringArrayVar(&runCmd, "cmd", nil, "Command to run in each container (default: image default)")
	rootCmd.AddCommand(runDockerCmd)
}

func runRun(cmd *cobra.Command, images []string) error {
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"})

	policy, err := cache.ParsePolicy(runPolicy)
	if err != nil {
		return err
	}

	imageCache, err := cache.New(cache.Config{
		Capacity:   runCapacity,
		TimeWindow: runWindow,
		Policy:     policy,
	}, logger)
	if err != nil {
		return err
	}

	agent, err := docker.NewAgent(docker.Config{}, logger)
	if err != nil {
		return err
	}

	ctx := context.Background()

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	for i, image := range images {
		container := fmt.Sprintf("imgcached-run-%d", i+1)

		adm := imageCache.Acquire(image, container)
		switch adm.Outcome {
		case cache.AlreadyResident:
			fmt.Printf("%s %s (cached)\n", green("ACQUIRE"), image)
		case cache.AdmittedDirectly:
			fmt.Printf("%s %s\n", green("ACQUIRE"), image)
			if err := agent.Pull(ctx, image); err != nil {
				return err
			}
		case cache.AdmittedByEviction:
			fmt.Printf("%s %s (evicting %s)\n", yellow("ACQUIRE"), image, adm.Victim)
			if err := agent.Pull(ctx, image); err != nil {
				return err
			}
			if err := agent.Remove(ctx, adm.Victim); err != nil {
				return err
			}
		case cache.NoCapacity:
			// cannot happen with sequential runs and positive capacity
			return fmt.Errorf("cache full and nothing evictable")
		}

		if err := agent.Run(ctx, image, container, runCmd); err != nil {
			imageCache.Release(image, container)
			return err
		}
		imageCache.Release(image, container)
	}

	fmt.Println()
	printSnapshot(imageCache.Snapshot())
	return nil
}

// printSnapshot renders the per-image stats view.
func printSnapshot(stats []cache.ImageStats) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Printf("%s\n", bold("IMAGE                          HOLDERS  RECENT  BUSY"))
	for _, st := range stats {
		fmt.Printf("%-30s %7d %7d  %s\n",
			st.Image, st.ActiveContainers, st.RecentStarts, st.RecentBusy.Round(time.Millisecond))
	}
}
