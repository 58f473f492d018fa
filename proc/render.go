package proc

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/dustin/go-humanize"
	"github.com/leeineian/nijisupport/sys"
)

// Panel is the platform-neutral display payload for one message.
type Panel struct {
	Title    string
	Online   bool
	Lines    []string
	Sections []PanelSection
	Footer   string
}

type PanelSection struct {
	Name  string
	Value string
}

// RenderSnapshot turns a snapshot into the dashboard panel. It never fails.
func RenderSnapshot(snap Snapshot, now time.Time) Panel {
	footer := fmt.Sprintf(sys.MsgDashboardFooter, now.Unix())

	if !snap.Online {
		line := sys.MsgDashboardOfflineStatus
		if snap.Error != "" {
			line = fmt.Sprintf(sys.MsgDashboardOfflineError, snap.Error)
		}
		return Panel{
			Title:  sys.MsgDashboardTitleOffline,
			Lines:  []string{line},
			Footer: footer,
		}
	}

	onlineSince := sys.MsgDashboardUnknown
	if since, ok := snap.OnlineSince(); ok {
		onlineSince = fmt.Sprintf("<t:%d:R>", since)
	}

	return Panel{
		Title:  sys.MsgDashboardTitleOnline,
		Online: true,
		Lines: []string{
			fmt.Sprintf(sys.MsgDashboardRequests, formatCount(snap.TotalRequests)),
			fmt.Sprintf(sys.MsgDashboardImages, formatCount(snap.TotalImages)),
			fmt.Sprintf(sys.MsgDashboardUsers, formatCount(snap.TotalUsers)),
			fmt.Sprintf(sys.MsgDashboardOnlineSince, onlineSince),
		},
		Sections: systemSections(snap.System),
		Footer:   footer,
	}
}

func systemSections(s SystemStats) []PanelSection {
	cpu := fmt.Sprintf("Usage: %s\nCores: %s\nFrequency: %s",
		formatGauge(s.CPUUsage, func(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }),
		formatCount(s.CPUCount),
		formatGauge(s.CPUFrequency, func(v float64) string { return fmt.Sprintf("%.2f MHz", v) }),
	)

	load := sys.MsgDashboardUnknown
	if len(s.LoadAverage) > 0 {
		parts := make([]string, len(s.LoadAverage))
		for i, v := range s.LoadAverage {
			parts[i] = fmt.Sprintf("%.2f", v)
		}
		load = strings.Join(parts, ", ")
	}

	memory := fmt.Sprintf("Used: %s / Total: %s\nUsage: %s",
		formatGauge(s.UsedMemory, megabytes),
		formatGauge(s.TotalMemory, megabytes),
		formatGauge(s.MemoryPercent, percent),
	)

	disk := fmt.Sprintf("Used: %s / Total: %s\nFree: %s\nUsage: %s",
		formatGauge(s.DiskUsed, gigabytes),
		formatGauge(s.DiskTotal, gigabytes),
		formatGauge(s.DiskFree, gigabytes),
		formatGauge(s.DiskPercent, percent),
	)

	network := fmt.Sprintf("Sent: %s\nRecv: %s", formatBytes(s.BytesSent), formatBytes(s.BytesRecv))

	return []PanelSection{
		{Name: "CPU", Value: cpu},
		{Name: "Load Average", Value: load},
		{Name: "Memory", Value: memory},
		{Name: "Disk", Value: disk},
		{Name: "Processes", Value: formatCount(s.ProcessCount)},
		{Name: "Network", Value: network},
	}
}

func formatCount(c Counter) string {
	if !c.Known {
		return sys.MsgDashboardUnknown
	}
	return humanize.Comma(c.Value)
}

func formatBytes(c Counter) string {
	if !c.Known || c.Value < 0 {
		return sys.MsgDashboardUnknown
	}
	return humanize.Bytes(uint64(c.Value))
}

func formatGauge(g Gauge, format func(float64) string) string {
	if !g.Known {
		return sys.MsgDashboardUnknown
	}
	return format(g.Value)
}

func megabytes(v float64) string { return humanize.CommafWithDigits(v, 2) + " MB" }
func gigabytes(v float64) string { return humanize.CommafWithDigits(v, 2) + " GB" }
func percent(v float64) string   { return fmt.Sprintf("%.1f%%", v) }

// --- Discord payloads ---

const (
	colorOnline  = 0x57F287
	colorOffline = 0xED4245
)

func (p Panel) components() []discord.LayoutComponent {
	sub := []discord.ContainerSubComponent{
		discord.NewTextDisplay("## " + p.Title),
	}
	if len(p.Lines) > 0 {
		sub = append(sub, discord.NewTextDisplay(strings.Join(p.Lines, "\n")))
	}
	for _, s := range p.Sections {
		sub = append(sub,
			discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
			discord.NewTextDisplay(fmt.Sprintf("**%s**\n%s", s.Name, s.Value)),
		)
	}
	if p.Footer != "" {
		sub = append(sub,
			discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
			discord.NewTextDisplay(p.Footer),
		)
	}
	accent := colorOffline
	if p.Online {
		accent = colorOnline
	}
	return []discord.LayoutComponent{discord.NewContainer(sub...).WithAccentColor(accent)}
}

// MessageCreate builds the create payload for the panel.
func (p Panel) MessageCreate() discord.MessageCreate {
	return discord.NewMessageCreateV2(p.components()...)
}

// MessageUpdate builds the edit payload that replaces every component of the message.
func (p Panel) MessageUpdate() discord.MessageUpdate {
	return discord.NewMessageUpdateV2(p.components())
}
