package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pithecene-io/bitwire/metrics"
	"github.com/pithecene-io/bitwire/shape"
)

func TestIsTUISupported(t *testing.T) {
	tests := []struct {
		viewType string
		want     bool
	}{
		{ViewInspectShape, true},
		{ViewStatsSession, true},
		{"pack", false},
		{"unpack", false},
		{"capture_show", false},
		{"version", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.viewType, func(t *testing.T) {
			got := IsTUISupported(tt.viewType)
			if got != tt.want {
				t.Errorf("IsTUISupported(%q) = %v, want %v", tt.viewType, got, tt.want)
			}
		})
	}
}

func TestSupportedTUIViews(t *testing.T) {
	for _, v := range SupportedTUIViews() {
		if !IsTUISupported(v) {
			t.Errorf("SupportedTUIViews() returned %q but IsTUISupported returns false", v)
		}
	}
}

func TestRun_UnsupportedViewType(t *testing.T) {
	if err := Run("capture_show", nil); err == nil {
		t.Error("expected error for unsupported view type")
	}
}

func TestRun_WrongPayload(t *testing.T) {
	if err := Run(ViewInspectShape, "not a view"); err == nil {
		t.Error("expected error for wrong payload type")
	}
	if err := Run(ViewStatsSession, 42); err == nil {
		t.Error("expected error for wrong payload type")
	}
}

func sampleUnion() shape.Shape {
	return &shape.Union{
		Name:     "Instr",
		TagWidth: 2,
		Variants: []shape.Variant{
			{Name: "Get", Tag: 0, Payload: &shape.Struct{Fields: []shape.Field{
				{Name: "reg", Shape: shape.Primitive{Width: 3}},
				{Name: "id", Shape: shape.Primitive{Width: 16}},
			}}},
			{Name: "Halt", Tag: 1},
		},
	}
}

func TestNewShapeView(t *testing.T) {
	v := NewShapeView("Instr", sampleUnion())
	if v.Bits != 21 || v.Size != 3 {
		t.Errorf("Bits/Size = %d/%d, want 21/3", v.Bits, v.Size)
	}
	if v.Kind != "union" {
		t.Errorf("Kind = %q, want union", v.Kind)
	}
	if len(v.Slots) == 0 || v.Slots[0].Kind != shape.SlotTag {
		t.Errorf("first slot = %+v, want the tag", v.Slots)
	}
}

func TestRenderInspectStatic(t *testing.T) {
	out := RenderInspectStatic(NewShapeView("Instr", sampleUnion()))
	for _, want := range []string{"Instr", "Get.reg", "Get.id", "$tag", "Halt.$pad"} {
		if !strings.Contains(out, want) {
			t.Errorf("static inspect view missing %q", want)
		}
	}
}

func TestInspectModel_QuitKey(t *testing.T) {
	m := NewInspectModel(NewShapeView("Instr", sampleUnion()))
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if got := next.(InspectModel).View(); got != "" {
		t.Errorf("View after quit = %q, want empty", got)
	}
}

func TestRenderStatsStatic(t *testing.T) {
	c := metrics.NewCollector("CounterMsgs", "tcp", "fs", "sess-1")
	c.RecordSent(3)
	c.RecordReceived("set_a", 3)
	c.IncDecodeErrors()

	out := RenderStatsStatic(c.Snapshot())
	for _, want := range []string{"sess-1", "CounterMsgs", "Sent", "set_a"} {
		if !strings.Contains(out, want) {
			t.Errorf("static stats view missing %q", want)
		}
	}
}

func TestStatsModel_LiveRefresh(t *testing.T) {
	c := metrics.NewCollector("CounterMsgs", "redis", "", "sess-2")
	m, err := NewStatsModel(c)
	if err != nil {
		t.Fatalf("NewStatsModel failed: %v", err)
	}
	if m.Init() == nil {
		t.Error("live model should schedule a refresh")
	}

	c.RecordSent(3)
	next, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Error("expected the refresh to reschedule")
	}
	if got := next.(StatsModel).snap.FramesSent; got != 1 {
		t.Errorf("FramesSent after tick = %d, want 1", got)
	}

	static, err := NewStatsModel(&metrics.Snapshot{SessionID: "x"})
	if err != nil {
		t.Fatalf("NewStatsModel failed: %v", err)
	}
	if static.Init() != nil {
		t.Error("static model should not schedule a refresh")
	}
}
