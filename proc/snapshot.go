package proc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/leeineian/nijisupport/sys"
)

// maxStatsBody caps how much of the stats response is read.
const maxStatsBody = 1 << 20

// FailureKind classifies why a fetch produced an offline snapshot.
type FailureKind int

const (
	FailureTransport FailureKind = iota + 1
	FailureStatus
	FailureDecode
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureStatus:
		return "status"
	case FailureDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// FetchError is the classified failure returned alongside an offline snapshot.
type FetchError struct {
	Kind   FailureKind
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FailureStatus {
		return fmt.Sprintf(sys.MsgDashboardStatusFail, e.Status)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Counter is an integer stat that may be missing from the document.
type Counter struct {
	Value int64
	Known bool
}

// Gauge is a fractional stat that may be missing from the document.
type Gauge struct {
	Value float64
	Known bool
}

// SystemStats are the host metrics the stats API reports next to its counters.
type SystemStats struct {
	CPUUsage      Gauge // fraction of 1
	CPUCount      Counter
	CPUFrequency  Gauge // MHz
	LoadAverage   []float64
	TotalMemory   Gauge // MB
	UsedMemory    Gauge // MB
	MemoryPercent Gauge
	DiskTotal     Gauge // GB
	DiskUsed      Gauge // GB
	DiskFree      Gauge // GB
	DiskPercent   Gauge
	ProcessCount  Counter
	BytesSent     Counter
	BytesRecv     Counter
}

// Snapshot is the normalized result of one fetch.
type Snapshot struct {
	Online bool

	TotalRequests Counter
	TotalImages   Counter
	TotalUsers    Counter

	// Timestamp is epoch seconds; Uptime is seconds.
	Timestamp Counter
	Uptime    Counter

	System SystemStats

	// Error is set on offline snapshots produced by a transport or decode failure.
	Error string
}

// OnlineSince returns the process start implied by timestamp and uptime.
func (s Snapshot) OnlineSince() (int64, bool) {
	if !s.Timestamp.Known || !s.Uptime.Known {
		return 0, false
	}
	return s.Timestamp.Value - s.Uptime.Value, true
}

// OfflineSnapshot builds the degraded snapshot for a failed fetch. Status failures carry no
// error text; the title alone says the API is down.
func OfflineSnapshot(err error) Snapshot {
	snap := Snapshot{}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == FailureStatus {
		return snap
	}
	if err != nil {
		snap.Error = err.Error()
	}
	return snap
}

// StatsFetcher polls the stats endpoint.
type StatsFetcher struct {
	client   *http.Client
	endpoint string
	apiKey   string
}

func NewStatsFetcher(cfg sys.PollConfig) *StatsFetcher {
	return &StatsFetcher{
		// No keep-alive: the connection must not sit in a pool across the inter-tick sleep.
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{DisableKeepAlives: true, Proxy: http.ProxyFromEnvironment},
		},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
	}
}

// Fetch performs one GET. On failure it returns an offline snapshot and a *FetchError.
func (f *StatsFetcher) Fetch(ctx context.Context) (Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		fe := &FetchError{Kind: FailureTransport, Err: err}
		return OfflineSnapshot(fe), fe
	}
	if f.apiKey != "" {
		req.Header.Set("X-API-KEY", f.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		fe := &FetchError{Kind: FailureTransport, Err: err}
		return OfflineSnapshot(fe), fe
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxStatsBody))
		fe := &FetchError{Kind: FailureStatus, Status: resp.StatusCode}
		return OfflineSnapshot(fe), fe
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatsBody))
	if err != nil {
		fe := &FetchError{Kind: FailureTransport, Err: err}
		return OfflineSnapshot(fe), fe
	}

	snap, err := ParseSnapshot(body)
	if err != nil {
		fe := &FetchError{Kind: FailureDecode, Err: err}
		return OfflineSnapshot(fe), fe
	}
	return snap, nil
}

// ParseSnapshot decodes a stats document. Only a body that is not a JSON object fails; every
// missing or mistyped field is left unknown on its own.
func ParseSnapshot(body []byte) (Snapshot, error) {
	if !jsoniter.Valid(body) {
		return Snapshot{}, errors.New("response is not valid JSON")
	}
	root := jsoniter.Get(body)
	if root.ValueType() != jsoniter.ObjectValue {
		return Snapshot{}, fmt.Errorf("expected a JSON object, got %s", describeValueType(root.ValueType()))
	}

	snap := Snapshot{
		Online:        true,
		TotalRequests: counterAt(root, "globalStats", "totalRequests"),
		TotalImages:   counterAt(root, "globalStats", "totalImages"),
		TotalUsers:    counterAt(root, "globalStats", "totalUsers"),
		Timestamp:     counterAt(root, "timestamp"),
		Uptime:        counterAt(root, "uptime"),
		System: SystemStats{
			CPUUsage:      gaugeAt(root, "cpu_usage"),
			CPUCount:      counterAt(root, "cpu_count"),
			CPUFrequency:  gaugeAt(root, "cpu_frequency", "current"),
			LoadAverage:   floatsAt(root, "load_average"),
			TotalMemory:   gaugeAt(root, "total_memory"),
			UsedMemory:    gaugeAt(root, "used_memory"),
			MemoryPercent: gaugeAt(root, "memory_percent"),
			DiskTotal:     gaugeAt(root, "disk_total"),
			DiskUsed:      gaugeAt(root, "disk_used"),
			DiskFree:      gaugeAt(root, "disk_free"),
			DiskPercent:   gaugeAt(root, "disk_percent"),
			ProcessCount:  counterAt(root, "process_count"),
			BytesSent:     counterAt(root, "net_io", "bytes_sent"),
			BytesRecv:     counterAt(root, "net_io", "bytes_recv"),
		},
	}

	// A zero or negative origin is as good as absent.
	if snap.Timestamp.Known && snap.Timestamp.Value <= 0 {
		snap.Timestamp = Counter{}
	}
	if snap.Uptime.Known && snap.Uptime.Value < 0 {
		snap.Uptime = Counter{}
	}
	return snap, nil
}

// counterAt reads the raw token so large integers keep every digit. Values that do not fit
// in an int64 are unknown.
func counterAt(root jsoniter.Any, path ...any) Counter {
	v := root.Get(path...)
	if t := v.ValueType(); t != jsoniter.NumberValue && t != jsoniter.StringValue {
		return Counter{}
	}
	raw := strings.TrimSpace(v.ToString())

	n, err := strconv.ParseInt(raw, 10, 64)
	if err == nil {
		return Counter{Value: n, Known: true}
	}
	if errors.Is(err, strconv.ErrRange) {
		return Counter{}
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return Counter{}
	}
	return Counter{Value: int64(f), Known: true}
}

func gaugeAt(root jsoniter.Any, path ...any) Gauge {
	v := root.Get(path...)
	switch v.ValueType() {
	case jsoniter.NumberValue:
		return Gauge{Value: v.ToFloat64(), Known: true}
	case jsoniter.StringValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.ToString()), 64)
		if err != nil {
			return Gauge{}
		}
		return Gauge{Value: f, Known: true}
	default:
		return Gauge{}
	}
}

func floatsAt(root jsoniter.Any, path ...any) []float64 {
	v := root.Get(path...)
	if v.ValueType() != jsoniter.ArrayValue {
		return nil
	}
	var out []float64
	for i := 0; i < v.Size(); i++ {
		item := v.Get(i)
		if item.ValueType() != jsoniter.NumberValue {
			return nil
		}
		out = append(out, item.ToFloat64())
	}
	return out
}

func describeValueType(t jsoniter.ValueType) string {
	switch t {
	case jsoniter.ArrayValue:
		return "array"
	case jsoniter.StringValue:
		return "string"
	case jsoniter.NumberValue:
		return "number"
	case jsoniter.BoolValue:
		return "bool"
	case jsoniter.NilValue:
		return "null"
	default:
		return "invalid"
	}
}
