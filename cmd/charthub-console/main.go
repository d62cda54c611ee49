// charthub-console attaches to a running charthub client's forwarding
// service and renders the closed-candle stream as a live terminal table.
// It must start before the client begins receiving data; the service
// refuses subscribers once the stream is flowing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"charthub/internal/forward"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	keyStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	endedStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
)

const recentRows = 12

type candleMsg forward.ClosedCandle
type streamEndedMsg struct{}
type streamErrMsg struct{ err error }

// streamFrame covers both payload shapes on the subscription socket:
// lifecycle replies carry "sync", candle frames carry the OHLCV fields.
type streamFrame struct {
	Sync string `json:"sync"`
	forward.ClosedCandle
}

type rowKey struct {
	Instrument string
	Timeframe  string
}

type row struct {
	last  forward.ClosedCandle
	count int
}

type model struct {
	addr   string
	rows   map[rowKey]row
	recent []forward.ClosedCandle
	status string
	err    error
}

func newModel(addr string) model {
	return model{
		addr:   addr,
		rows:   make(map[rowKey]row),
		status: "streaming",
	}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}
	case candleMsg:
		c := forward.ClosedCandle(msg)
		key := rowKey{Instrument: c.Instrument, Timeframe: c.Timeframe}
		r := m.rows[key]
		r.last = c
		r.count++
		m.rows[key] = r
		m.recent = append(m.recent, c)
		if len(m.recent) > recentRows {
			m.recent = m.recent[len(m.recent)-recentRows:]
		}
	case streamEndedMsg:
		m.status = "ended"
	case streamErrMsg:
		m.err = msg.err
		m.status = "disconnected"
	}
	return m, nil
}

func (m model) View() string {
	var b []byte
	b = fmt.Appendf(b, "%s  %s\n\n",
		titleStyle.Render("charthub closed candles"), dimStyle.Render(m.addr))

	keys := make([]rowKey, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Instrument != keys[j].Instrument {
			return keys[i].Instrument < keys[j].Instrument
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})

	b = fmt.Appendf(b, "%s\n", headerStyle.Render(fmt.Sprintf(
		"%-8s %-5s %-20s %10s %10s %10s %10s %10s %7s",
		"SYMBOL", "TF", "CLOSED AT", "OPEN", "HIGH", "LOW", "CLOSE", "VOLUME", "COUNT")))
	for _, k := range keys {
		r := m.rows[k]
		closeStyle := upStyle
		if r.last.Close < r.last.Open {
			closeStyle = downStyle
		}
		when := time.UnixMilli(r.last.Timestamp).UTC().Format("2006-01-02 15:04:05")
		b = fmt.Appendf(b, "%s %s %-20s %10.2f %10.2f %10.2f %s %10d %7d\n",
			keyStyle.Render(fmt.Sprintf("%-8s", k.Instrument)),
			keyStyle.Render(fmt.Sprintf("%-5s", k.Timeframe)),
			when, r.last.Open, r.last.High, r.last.Low,
			closeStyle.Render(fmt.Sprintf("%10.2f", r.last.Close)),
			r.last.Volume, r.count)
	}
	if len(keys) == 0 {
		b = fmt.Appendf(b, "%s\n", dimStyle.Render("  waiting for candles..."))
	}

	b = fmt.Appendf(b, "\n%s\n", headerStyle.Render("recent closures"))
	for i := len(m.recent) - 1; i >= 0; i-- {
		c := m.recent[i]
		b = fmt.Appendf(b, "  %s %-8s %-5s close %.2f vol %d\n",
			dimStyle.Render(time.UnixMilli(c.Timestamp).UTC().Format("15:04:05")),
			c.Instrument, c.Timeframe, c.Close, c.Volume)
	}

	switch m.status {
	case "ended":
		b = fmt.Appendf(b, "\n%s\n", endedStyle.Render("stream ended by the client, press q to exit"))
	case "disconnected":
		b = fmt.Appendf(b, "\n%s\n", endedStyle.Render(fmt.Sprintf("disconnected: %v", m.err)))
	default:
		b = fmt.Appendf(b, "\n%s\n", dimStyle.Render("q: quit"))
	}
	return string(b)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8901", "forwarding service address")
	flag.Parse()

	url := fmt.Sprintf("ws://%s/sync", *addr)
	ctx := context.Background()

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dctx, url, nil)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot reach forwarding service at %s: %v\n", url, err)
		os.Exit(1)
	}
	conn.SetReadLimit(1 << 20)

	// Handshake: request the stream, expect "ready".
	if err := wsjson.Write(ctx, conn, map[string]string{"sync": "request"}); err != nil {
		fmt.Fprintf(os.Stderr, "handshake failed: %v\n", err)
		os.Exit(1)
	}
	var reply forward.SyncReply
	if err := wsjson.Read(ctx, conn, &reply); err != nil {
		fmt.Fprintf(os.Stderr, "handshake failed: %v\n", err)
		os.Exit(1)
	}
	if reply.Sync != "ready" {
		fmt.Fprintf(os.Stderr, "stream already started (%s); restart the client to attach\n", reply.Sync)
		conn.Close(websocket.StatusNormalClosure, "")
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(*addr))

	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				p.Send(streamErrMsg{err: err})
				return
			}
			var frame streamFrame
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			if frame.Sync == "ended" {
				p.Send(streamEndedMsg{})
				return
			}
			p.Send(candleMsg(frame.ClosedCandle))
		}
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "console error: %v\n", err)
		os.Exit(1)
	}
}
