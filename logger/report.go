package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed     int64
	errorsEngine   int64
	warnsFeed      int64
	warnsEngine    int64
	feedReads      int64
	opsApplied     int64
	plansComputed  int64
	booksPublished int64
	channels       sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&warnsFeed, 1)
	} else {
		atomic.AddInt64(&warnsEngine, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "reader") {
		atomic.AddInt64(&errorsFeed, 1)
	} else {
		atomic.AddInt64(&errorsEngine, 1)
	}
}

// IncrementFeedRead counts one raw message received from an exchange feed.
func IncrementFeedRead(exchange string, size int) {
	atomic.AddInt64(&feedReads, 1)
	recordChannel(exchange+"_ws", size)
}

// IncrementOpApplied counts one canonical operation applied to the
// consolidated book.
func IncrementOpApplied() {
	atomic.AddInt64(&opsApplied, 1)
}

// IncrementPlanComputed counts one routing plan served.
func IncrementPlanComputed() {
	atomic.AddInt64(&plansComputed, 1)
}

// IncrementBookPublished counts one consolidated book frame broadcast.
func IncrementBookPublished(size int) {
	atomic.AddInt64(&booksPublished, 1)
	recordChannel("book_publish", size)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, err := mem.VirtualMemory()
	if err != nil || memStats == nil {
		memStats = &mem.VirtualMemoryStat{}
	}
	diskStats, err := disk.Usage("/")
	if err != nil || diskStats == nil {
		diskStats = &disk.UsageStat{}
	}
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":     atomic.LoadInt64(&errorsFeed),
		"errors_engine":   atomic.LoadInt64(&errorsEngine),
		"warns_feed":      atomic.LoadInt64(&warnsFeed),
		"warns_engine":    atomic.LoadInt64(&warnsEngine),
		"feed_reads":      atomic.LoadInt64(&feedReads),
		"ops_applied":     atomic.LoadInt64(&opsApplied),
		"plans_computed":  atomic.LoadInt64(&plansComputed),
		"books_published": atomic.LoadInt64(&booksPublished),
		"goroutines":      runtime.NumGoroutine(),
		"cpu_percent":     cpuPct,
		"memory_mb":       int64(memStats.Used) / 1024 / 1024,
		"disk_mb":         int64(diskStats.Used) / 1024 / 1024,
		"channels":        channelData,
		"net_bytes_sent":  int64(bytesSent),
		"net_bytes_recv":  int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Router-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Router-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Router-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Router-ErrorsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-ErrorsEngine"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_engine"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-WarnsFeed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_feed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-WarnsEngine"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_engine"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-FeedReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["feed_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-OpsApplied"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["ops_applied"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-PlansComputed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["plans_computed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-BooksPublished"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["books_published"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Router-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Router-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Router-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
