package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/goodtune/imgcached/internal/cache"
	"github.com/goodtune/imgcached/internal/config"
)

var (
	simSeed     int64
	simSteps    int
	simImages   int
	simCapacity int
	simWindow   time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compare eviction policies on a synthetic workload",
	Long: `Run the same seeded workload of container starts and stops against a
cache configured with each eviction policy and report how the policies
behaved. No docker daemon is involved; time is simulated.`,
	Example: `  imgcached simulate --seed 42 --steps 200 --capacity 3
  imgcached simulate --images 8 --window 5m`,
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 42, "Random seed (same seed replays the same workload)")
	simulateCmd.Flags().IntVar(&simSteps, "steps", 200, "Number of simulation steps")
	simulateCmd.Flags().IntVar(&simImages, "images", 5, "Number of distinct images in the workload")
	simulateCmd.Flags().IntVar(&simCapacity, "capacity", 3, "Cache capacity")
	simulateCmd.Flags().DurationVar(&simWindow, "window", 5*time.Minute, "Trailing usage window")
	rootCmd.AddCommand(simulateCmd)
}

// simResult aggregates what one policy did on the workload.
type simResult struct {
	policy     cache.VictimPolicy
	admissions int
	hits       int
	evictions  int
	noCapacity int
	victims    []string
	snapshot   []cache.ImageStats
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := setupLogger(config.LoggingConfig{Level: "error", Format: "text"})

	bold := color.New(color.Bold).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Printf("%s seed=%d steps=%d images=%d capacity=%d window=%s\n\n",
		bold("SIMULATION"), simSeed, simSteps, simImages, simCapacity, simWindow)

	policies := []cache.VictimPolicy{
		cache.LeastFrequentlyUsed{},
		cache.LeastTotalTime{},
	}

	results := make([]simResult, 0, len(policies))
	for _, policy := range policies {
		result, err := simulate(policy, logger)
		if err != nil {
			return err
		}
		results = append(results, result)
	}

	for _, res := range results {
		fmt.Printf("%s %s\n", bold("POLICY"), cyan(res.policy.Name()))
		fmt.Printf("  admissions:  %d\n", res.admissions)
		fmt.Printf("  cache hits:  %d\n", res.hits)
		fmt.Printf("  evictions:   %d\n", res.evictions)
		fmt.Printf("  no capacity: %d\n", res.noCapacity)
		if len(res.victims) > 0 {
			fmt.Printf("  victims:     %v\n", res.victims)
		}
		printSnapshot(res.snapshot)
		fmt.Println()
	}

	return nil
}

// simulate replays the seeded workload against a fresh cache. Both
// policies see exactly the same sequence of starts and stops because
// the random source is reseeded per run.
func simulate(policy cache.VictimPolicy, logger zerolog.Logger) (simResult, error) {
	rng := rand.New(rand.NewSource(simSeed))
	clock := &cache.TestClock{CurrentTime: time.Unix(1700000000, 0)}

	imageCache, err := cache.New(cache.Config{
		Capacity:   simCapacity,
		TimeWindow: simWindow,
		Policy:     policy,
		Clock:      clock,
	}, logger)
	if err != nil {
		return simResult{}, err
	}

	images := make([]string, simImages)
	for i := range images {
		images[i] = fmt.Sprintf("image%d", i+1)
	}

	res := simResult{policy: policy}
	type hold struct{ image, container string }
	var active []hold
	nextContainer := 0

	for step := 0; step < simSteps; step++ {
		clock.Advance(time.Duration(1+rng.Intn(30)) * time.Second)

		// starts outnumber stops so the cache stays under pressure
		if len(active) == 0 || rng.Intn(3) != 0 {
			nextContainer++
			h := hold{
				image:     images[rng.Intn(len(images))],
				container: fmt.Sprintf("container%d", nextContainer),
			}
			adm := imageCache.Acquire(h.image, h.container)
			switch adm.Outcome {
			case cache.AlreadyResident:
				res.hits++
				active = append(active, h)
			case cache.AdmittedDirectly:
				res.admissions++
				active = append(active, h)
			case cache.AdmittedByEviction:
				res.admissions++
				res.evictions++
				res.victims = append(res.victims, adm.Victim)
				active = append(active, h)
			case cache.NoCapacity:
				res.noCapacity++
			}
		} else {
			i := rng.Intn(len(active))
			h := active[i]
			imageCache.Release(h.image, h.container)
			active = append(active[:i], active[i+1:]...)
		}
	}

	res.snapshot = imageCache.Snapshot()
	return res, nil
}
