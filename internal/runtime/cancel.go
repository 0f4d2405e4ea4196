package runtime

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/atlas-desktop/training-core/internal/store"
)

// runawayCPUThreshold is the CPU-fraction (0-100) above which a worker
// process matching BinaryName is considered a runaway compute and killed
// forcefully, per SPEC_FULL.md §4.6 step 3.
const runawayCPUThreshold = 50.0

// KillRunaways enumerates OS processes, finds every one whose name matches
// binaryName, and force-kills any one whose CPU usage exceeds
// runawayCPUThreshold. This is the belt-and-suspenders layer beneath
// cooperative cancellation: a trial stuck in a tight numeric loop will
// never observe a context cancellation, so compute must be reclaimed at
// the OS level. Uses gopsutil rather than shelling out to `ps`/`kill` so
// the worker's runtime PATH cannot break the cleanup.
func KillRunaways(ctx context.Context, binaryName string, log *zap.Logger) (killed int, err error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("runtime: enumerate processes: %w", err)
	}

	for _, p := range procs {
		name, nameErr := p.NameWithContext(ctx)
		if nameErr != nil || name != binaryName {
			continue
		}
		cpu, cpuErr := p.CPUPercentWithContext(ctx)
		if cpuErr != nil {
			continue
		}
		if cpu < runawayCPUThreshold {
			continue
		}
		if killErr := p.KillWithContext(ctx); killErr != nil {
			if log != nil {
				log.Warn("failed to kill runaway worker process",
					zap.Int32("pid", p.Pid), zap.Float64("cpu_pct", cpu), zap.Error(killErr))
			}
			continue
		}
		killed++
		if log != nil {
			log.Info("killed runaway worker process", zap.Int32("pid", p.Pid), zap.Float64("cpu_pct", cpu))
		}
	}
	return killed, nil
}

// LiveWorkerPIDs returns the PIDs of every OS process currently named
// binaryName, used by the orphan sweep to decide which RUNNING jobs still
// have an attributable live process. A full cancellation deployment would
// map pid -> job_id via a lease row; this simplified single-worker-fleet
// model treats "any live worker process at all" as sufficient liveness
// evidence, which is adequate for the single/low-worker-count deployment
// this core targets (see DESIGN.md).
func LiveWorkerPIDs(ctx context.Context, binaryName string) ([]int32, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("runtime: enumerate processes: %w", err)
	}
	var pids []int32
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || name != binaryName {
			continue
		}
		pids = append(pids, p.Pid)
	}
	return pids, nil
}

// OrphanSweep transitions any job left RUNNING with no live worker process
// attributable to it to CANCELLED (SPEC_FULL.md §4.6 step 5). It runs at
// worker-service startup and after every cancellation a worker observes.
// With no live process named binaryName, every RUNNING job is swept; with
// a live process and a nil activeJobIDs, nothing is swept; otherwise every
// RUNNING job not in activeJobIDs is swept.
func OrphanSweep(ctx context.Context, jobs *store.JobStore, binaryName string, activeJobIDs []string, log *zap.Logger) error {
	pids, err := LiveWorkerPIDs(ctx, binaryName)
	if err != nil {
		return err
	}
	if len(pids) > 0 && activeJobIDs == nil {
		return nil
	}
	liveJobIDs := []string{}
	if len(pids) > 0 {
		liveJobIDs = activeJobIDs
	}

	swept, err := jobs.SweepOrphans(ctx, liveJobIDs)
	if err != nil {
		return err
	}
	if swept > 0 && log != nil {
		log.Warn("orphan sweep cancelled stale jobs", zap.Int("count", swept))
	}
	return nil
}
