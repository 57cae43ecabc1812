package restyle

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/fpang/page-restyle/internal/boundary"
	"github.com/fpang/page-restyle/internal/compositor"
)

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    Request
		fields []string
	}{
		{
			name: "valid",
			req: Request{EditOptions: EditOptions{
				Text:  ModeOption{Enabled: true, Mode: TextCopywriting},
				Color: ColorOption{Enabled: true, Scheme: "sunset"},
			}},
		},
		{
			name:   "nothing enabled",
			req:    Request{},
			fields: []string{"editOptions"},
		},
		{
			name:   "disabled categories are not checked",
			req:    Request{EditOptions: EditOptions{Layout: Toggle{Enabled: true}, People: ModeOption{Mode: "bogus"}}},
			fields: nil,
		},
		{
			name:   "bad modes",
			req:    Request{EditOptions: EditOptions{People: ModeOption{Enabled: true, Mode: "clone"}, Text: ModeOption{Enabled: true, Mode: "shout"}}},
			fields: []string{"editOptions.people.mode", "editOptions.text.mode"},
		},
		{
			name:   "unknown scheme",
			req:    Request{EditOptions: EditOptions{Color: ColorOption{Enabled: true, Scheme: "neon"}}},
			fields: []string{"editOptions.color.scheme"},
		},
		{
			name: "bad boundaries",
			req: Request{
				EditOptions: EditOptions{Pattern: Toggle{Enabled: true}},
				SectionBoundaries: []boundary.Override{
					{SectionID: "ok", OffsetTop: 10},
					{SectionID: " ", OffsetBottom: -MaxBoundaryOffset - 1},
				},
			},
			fields: []string{"sectionBoundaries[1].id", "sectionBoundaries[1].boundaryOffsetBottom"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if len(tt.fields) == 0 {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			var got []string
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			if strings.Join(got, ",") != strings.Join(tt.fields, ",") {
				t.Errorf("fields = %v, want %v", got, tt.fields)
			}
		})
	}
}

func TestEditOptionsEnabledOrder(t *testing.T) {
	opts := EditOptions{
		Layout: Toggle{Enabled: true},
		People: ModeOption{Enabled: true},
		Color:  ColorOption{Enabled: true},
	}
	if got := strings.Join(opts.Enabled(), ","); got != "people,color,layout" {
		t.Errorf("Enabled() = %s", got)
	}
}

func TestStyleChain(t *testing.T) {
	seed := &compositor.Image{Data: []byte("seed")}
	first := &compositor.Image{Data: []byte("first")}
	later := &compositor.Image{Data: []byte("later")}

	c := NewStyleChain(seed)
	if c.Reference() != seed {
		t.Error("seed should be offered before the pass sets its own reference")
	}
	if c.SetIfFirst(1, later) {
		t.Error("non-first index must not set the reference")
	}
	if c.SetIfFirst(0, nil) {
		t.Error("nil image must not set the reference")
	}
	if !c.SetIfFirst(0, first) {
		t.Fatal("index 0 should set the reference")
	}
	if c.SetIfFirst(0, later) {
		t.Error("reference must only be set once")
	}
	if c.Reference() != first || !c.Established() {
		t.Error("reference should be the first segment's output")
	}
}

func TestEventJSON(t *testing.T) {
	tests := []struct {
		ev   Event
		want map[string]interface{}
	}{
		{
			ev:   ProgressEvent{Step: StepDesktop, Message: "m", Current: 1, Total: 2},
			want: map[string]interface{}{"type": "progress", "step": "desktop", "message": "m", "current": 1.0, "total": 2.0},
		},
		{
			ev:   CompleteEvent{UpdatedCount: 1, TotalCount: 2},
			want: map[string]interface{}{"type": "complete", "updatedCount": 1.0, "totalCount": 2.0},
		},
		{
			ev:   ErrorEvent{Error: "page not found"},
			want: map[string]interface{}{"type": "error", "error": "page not found"},
		},
	}

	for _, tt := range tests {
		data, err := json.Marshal(tt.ev)
		if err != nil {
			t.Fatalf("marshal %T: %v", tt.ev, err)
		}
		var got map[string]interface{}
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("%T: %s = %v, want %v", tt.ev, k, got[k], v)
			}
		}
		if tt.ev.EventType() != got["type"] {
			t.Errorf("%T: EventType %q disagrees with JSON type %v", tt.ev, tt.ev.EventType(), got["type"])
		}
	}

	data, _ := json.Marshal(CompleteEvent{})
	if !strings.Contains(string(data), `"sections":[]`) {
		t.Errorf("empty complete event should carry an empty sections list: %s", data)
	}
}
