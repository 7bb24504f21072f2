package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/batyrsync/batyrd/internal/config"
	"github.com/batyrsync/batyrd/internal/dbgateway"
	"github.com/batyrsync/batyrd/internal/jobmodel"
	"github.com/batyrsync/batyrd/internal/log"
	"github.com/batyrsync/batyrd/internal/ogrsource"
	"github.com/batyrsync/batyrd/internal/pull"
)

var pullFilter string

var pullCmd = &cobra.Command{
	Use:   "pull <layer>",
	Short: "Run the pull protocol for a single layer, synchronously, outside the job queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runPull,
}

func init() {
	pullCmd.Flags().StringVar(&pullFilter, "filter", "", "OGR attribute filter to apply to the source layer")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command, args []string) error {
	layerName := args[0]

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	layer, ok := cfg.LayerByName(layerName)
	if !ok {
		return fmt.Errorf("unknown layer %q", layerName)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := dbgateway.New(cfg.DBConnectionString)
	if !gw.Reconnect(ctx, false) {
		return fmt.Errorf("could not connect to %q", layer.TargetTableName)
	}
	defer gw.Close(ctx)

	reader := pull.WrapReader(ogrsource.New())
	job := jobmodel.New(layerName, pullFilter)
	job.Start()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("pulling "+layerName),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionShowCount(),
	)
	done := make(chan struct{})
	go watchProgress(job, bar, done)

	err = pull.Run(ctx, pull.WrapGateway(gw), reader, job, layer)
	close(done)
	bar.Finish()

	snap := job.Snapshot()
	if err != nil {
		log.Error(err, "pull: aborted with a database error", "layer", layerName)
		return err
	}
	if snap.Status == jobmodel.StatusFailed {
		return fmt.Errorf("pull failed: %s", snap.Message)
	}

	fmt.Printf("\npulled=%d created=%d updated=%d deleted=%d\n",
		snap.Statistics.Pulled, snap.Statistics.Created, snap.Statistics.Updated, snap.Statistics.Deleted)
	return nil
}

// watchProgress polls the job's running statistics so the operator sees
// movement even though pull.Run does not expose a callback hook. pull.Run
// publishes the running pulled count every 500 features, so the bar
// advances in steps of 500.
func watchProgress(job *jobmodel.Job, bar *progressbar.ProgressBar, done <-chan struct{}) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			stats := job.Statistics()
			bar.Set(stats.Pulled)
		}
	}
}
