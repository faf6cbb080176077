package control

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"digi-sequence/debug"
	"digi-sequence/pattern"
)

// NewServer builds an MCP server whose tools drive r
func NewServer(r *Rig, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"digi-sequence",
		version,
		server.WithToolCapabilities(false),
	)
	h := &handlers{rig: r}

	s.AddTool(mcp.NewTool("sequencer_status",
		mcp.WithDescription("Returns tempo, clock source, master pattern and every track's queue as JSON."),
	), h.status)

	s.AddTool(mcp.NewTool("sequencer_list-ports",
		mcp.WithDescription("Lists the connected MIDI input and output ports."),
	), h.listPorts)

	s.AddTool(mcp.NewTool("sequencer_create-track",
		mcp.WithDescription("Creates a new track on MIDI channel 1 and returns its number."),
	), h.createTrack)

	s.AddTool(mcp.NewTool("sequencer_enqueue",
		mcp.WithDescription("Appends patterns to a track's queue."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
		mcp.WithString("patterns", mcp.Required(), mcp.Description("Pattern names separated by spaces or commas (e.g. \"A1 A2 B16\"). Banks A-H, slots 1-16.")),
	), h.enqueue)

	s.AddTool(mcp.NewTool("sequencer_update",
		mcp.WithDescription("Replaces one queued pattern of a track."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
		mcp.WithNumber("position", mcp.Required(), mcp.Description("Queue position, starting at 1.")),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Pattern name (e.g. C12).")),
	), h.update)

	s.AddTool(mcp.NewTool("sequencer_clear",
		mcp.WithDescription("Empties a track's queue."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
	), h.clear)

	s.AddTool(mcp.NewTool("sequencer_advance",
		mcp.WithDescription("Moves a track to its next queued pattern and sends it."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
	), h.advance)

	s.AddTool(mcp.NewTool("sequencer_set-clock",
		mcp.WithDescription("Selects the input port whose MIDI clock sets the tempo. An empty port unbinds the clock."),
		mcp.WithString("port", mcp.Required(), mcp.Description("Input port name.")),
		mcp.WithNumber("channel", mcp.Description("Channel of the master's program changes (1-16, default 1).")),
	), h.setClock)

	s.AddTool(mcp.NewTool("sequencer_set-output",
		mcp.WithDescription("Sends a track's pattern changes to an output port. An empty port unbinds it."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
		mcp.WithString("port", mcp.Required(), mcp.Description("Output port name.")),
	), h.setOutput)

	s.AddTool(mcp.NewTool("sequencer_set-monitor",
		mcp.WithDescription("Advances a running track whenever the input port echoes a program change. An empty port unbinds it."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
		mcp.WithString("port", mcp.Required(), mcp.Description("Input port name.")),
	), h.setMonitor)

	s.AddTool(mcp.NewTool("sequencer_set-channel",
		mcp.WithDescription("Sets the MIDI channel a track sends and monitors on."),
		mcp.WithNumber("track", mcp.Required(), mcp.Description("Track number, starting at 1.")),
		mcp.WithNumber("channel", mcp.Required(), mcp.Description("MIDI channel 1-16.")),
	), h.setChannel)

	s.AddTool(mcp.NewTool("sequencer_set-advance",
		mcp.WithDescription("Advances every running track each N bars of clock. 0 advances only on monitor echoes."),
		mcp.WithNumber("bars", mcp.Required(), mcp.Description("Bars between advances.")),
	), h.setAdvance)

	s.AddTool(mcp.NewTool("sequencer_start",
		mcp.WithDescription("Sends the current pattern of every track with an output and starts them."),
	), h.start)

	s.AddTool(mcp.NewTool("sequencer_stop",
		mcp.WithDescription("Stops all tracks. Nothing is sent."),
	), h.stop)

	s.AddTool(mcp.NewTool("pattern_encode",
		mcp.WithDescription("Converts a pattern name such as B4 to its MIDI program number."),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Pattern name.")),
	), h.encode)

	s.AddTool(mcp.NewTool("pattern_decode",
		mcp.WithDescription("Converts a MIDI program number (0-127) to its pattern name."),
		mcp.WithNumber("program", mcp.Required(), mcp.Description("Program number.")),
	), h.decode)

	return s
}

// Serve runs the MCP server on stdin/stdout until the client goes away
func Serve(r *Rig, version string) error {
	debug.Log("mcp", "serving on stdio")
	return server.ServeStdio(NewServer(r, version))
}

type handlers struct {
	rig *Rig
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func failed(err error) (*mcp.CallToolResult, error) {
	debug.Warn("mcp", "%v", err)
	return mcp.NewToolResultError(err.Error()), nil
}

// trackArg converts the 1-based "track" argument to an index
func trackArg(request mcp.CallToolRequest) (int, error) {
	n, err := request.RequireInt("track")
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

func (h *handlers) status(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(h.rig.Status())
}

func (h *handlers) listPorts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ins, outs := h.rig.PortNames()
	return jsonResult(map[string][]string{"inputs": ins, "outputs": outs})
}

func (h *handlers) createTrack(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	t := h.rig.AddTrack()
	return mcp.NewToolResultText(fmt.Sprintf("Created track %d.", t.Index()+1)), nil
}

func (h *handlers) enqueue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	list, err := request.RequireString("patterns")
	if err != nil {
		return failed(err)
	}
	names := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == ' ' })
	if len(names) == 0 {
		return failed(fmt.Errorf("no patterns given"))
	}
	if err := h.rig.Enqueue(idx, names...); err != nil {
		return failed(err)
	}
	return jsonResult(trackStatusOf(h.rig, idx))
}

func (h *handlers) update(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	pos, err := request.RequireInt("position")
	if err != nil {
		return failed(err)
	}
	name, err := request.RequireString("pattern")
	if err != nil {
		return failed(err)
	}
	t, err := h.rig.Track(idx)
	if err != nil {
		return failed(err)
	}
	if err := t.UpdatePattern(pos-1, name); err != nil {
		return failed(err)
	}
	return jsonResult(trackStatus(t.Snapshot()))
}

func (h *handlers) clear(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	t, err := h.rig.Track(idx)
	if err != nil {
		return failed(err)
	}
	t.Clear()
	return mcp.NewToolResultText(fmt.Sprintf("Cleared track %d.", idx+1)), nil
}

func (h *handlers) advance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	t, err := h.rig.Track(idx)
	if err != nil {
		return failed(err)
	}
	t.Advance()
	return jsonResult(trackStatus(t.Snapshot()))
}

func (h *handlers) setClock(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	port, err := request.RequireString("port")
	if err != nil {
		return failed(err)
	}
	channel := request.GetInt("channel", 1)
	if err := h.rig.BindClock(port, channel); err != nil {
		return failed(err)
	}
	if port == "" {
		return mcp.NewToolResultText("Clock source cleared."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Clock source is %s, channel %d.", port, channel)), nil
}

func (h *handlers) setOutput(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	port, err := request.RequireString("port")
	if err != nil {
		return failed(err)
	}
	if err := h.rig.BindOutput(idx, port); err != nil {
		return failed(err)
	}
	return jsonResult(trackStatusOf(h.rig, idx))
}

func (h *handlers) setMonitor(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	port, err := request.RequireString("port")
	if err != nil {
		return failed(err)
	}
	if err := h.rig.BindMonitor(idx, port); err != nil {
		return failed(err)
	}
	return jsonResult(trackStatusOf(h.rig, idx))
}

func (h *handlers) setChannel(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	idx, err := trackArg(request)
	if err != nil {
		return failed(err)
	}
	channel, err := request.RequireInt("channel")
	if err != nil {
		return failed(err)
	}
	if err := h.rig.SetChannel(idx, channel); err != nil {
		return failed(err)
	}
	return jsonResult(trackStatusOf(h.rig, idx))
}

func (h *handlers) setAdvance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bars, err := request.RequireInt("bars")
	if err != nil {
		return failed(err)
	}
	if err := h.rig.SetAdvanceEvery(bars); err != nil {
		return failed(err)
	}
	if bars == 0 {
		return mcp.NewToolResultText("Automatic advance off."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Advancing every %d bars.", bars)), nil
}

func (h *handlers) start(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.rig.Seq.Start(); err != nil {
		return failed(err)
	}
	return jsonResult(h.rig.Status())
}

func (h *handlers) stop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.rig.Seq.Stop()
	return mcp.NewToolResultText("Stopped."), nil
}

func (h *handlers) encode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("pattern")
	if err != nil {
		return failed(err)
	}
	p, err := pattern.Parse(name)
	if err != nil {
		return failed(err)
	}
	program, err := p.Program()
	if err != nil {
		return failed(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("%d", program)), nil
}

func (h *handlers) decode(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	program, err := request.RequireInt("program")
	if err != nil {
		return failed(err)
	}
	p, err := pattern.Decode(program)
	if err != nil {
		return failed(err)
	}
	return mcp.NewToolResultText(p.String()), nil
}

func trackStatusOf(r *Rig, idx int) TrackStatus {
	t, err := r.Track(idx)
	if err != nil {
		return TrackStatus{}
	}
	return trackStatus(t.Snapshot())
}
