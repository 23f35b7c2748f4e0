package selfmetrics

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/mem"
	goprocess "github.com/shirou/gopsutil/v4/process"
)

const processReadTimeout = 2 * time.Second

// processCollector reports resource usage of the exporter process itself.
// Every read is independent: a failed read drops only its own sample.
type processCollector struct {
	proc   *goprocess.Process
	logger *slog.Logger

	cpuSeconds *prometheus.Desc
	rss        *prometheus.Desc
	vms        *prometheus.Desc
	ramUtil    *prometheus.Desc
	threads    *prometheus.Desc
	fds        *prometheus.Desc
	startTime  *prometheus.Desc
}

// newProcessCollector inspects the current process through gopsutil.
// Params: namespace metric prefix; logger for unavailable readings.
// Returns: collector or error when the process cannot be opened.
func newProcessCollector(namespace string, logger *slog.Logger) (*processCollector, error) {
	proc, err := goprocess.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "process", name), help, nil, nil)
	}

	return &processCollector{
		proc:       proc,
		logger:     logger,
		cpuSeconds: desc("cpu_seconds_total", "Total user and system CPU time spent in seconds."),
		rss:        desc("resident_memory_bytes", "Resident memory size in bytes."),
		vms:        desc("virtual_memory_bytes", "Virtual memory size in bytes."),
		ramUtil:    desc("memory_percent", "Resident memory as a percentage of host memory."),
		threads:    desc("threads", "Number of OS threads."),
		fds:        desc("open_fds", "Number of open file descriptors."),
		startTime:  desc("start_time_seconds", "Start time of the process since unix epoch in seconds."),
	}, nil
}

// Describe sends every descriptor.
// Params: ch descriptor channel.
// Returns: none.
func (c *processCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuSeconds
	ch <- c.rss
	ch <- c.vms
	ch <- c.ramUtil
	ch <- c.threads
	ch <- c.fds
	ch <- c.startTime
}

// Collect reads the current process state.
// Params: ch metric channel; unreadable values are skipped.
// Returns: none.
func (c *processCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), processReadTimeout)
	defer cancel()

	if times, err := c.proc.TimesWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.cpuSeconds, prometheus.CounterValue, times.User+times.System)
	} else {
		c.skip("cpu_times", err)
	}

	if memInfo, err := c.proc.MemoryInfoWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.rss, prometheus.GaugeValue, float64(memInfo.RSS))
		ch <- prometheus.MustNewConstMetric(c.vms, prometheus.GaugeValue, float64(memInfo.VMS))

		if vm, vmErr := mem.VirtualMemoryWithContext(ctx); vmErr == nil && vm.Total > 0 {
			ch <- prometheus.MustNewConstMetric(c.ramUtil, prometheus.GaugeValue, float64(memInfo.RSS)/float64(vm.Total)*100)
		}
	} else {
		c.skip("memory_info", err)
	}

	if threads, err := c.proc.NumThreadsWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.threads, prometheus.GaugeValue, float64(threads))
	}

	if fds, err := c.proc.NumFDsWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.fds, prometheus.GaugeValue, float64(fds))
	}

	if created, err := c.proc.CreateTimeWithContext(ctx); err == nil {
		ch <- prometheus.MustNewConstMetric(c.startTime, prometheus.GaugeValue, float64(created)/1000)
	}
}

func (c *processCollector) skip(what string, err error) {
	c.logger.Debug("process metric unavailable", slog.String("metric", what), slog.String("error", err.Error()))
}
