package calendar

import (
	"testing"
	"time"

	"github.com/kincareapp/kincare/internal/model"
)

func ts(h int) time.Time {
	return time.Date(2026, 6, 1, h, 0, 0, 0, time.UTC)
}

func tsp(h int) *time.Time {
	t := ts(h)
	return &t
}

// TestClassify covers watermark comparison on both sides.
func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		local     time.Time
		external  *time.Time
		watermark *time.Time
		want      Change
	}{
		{"neither advanced", ts(1), tsp(2), tsp(3), ChangeNone},
		{"local advanced", ts(4), tsp(2), tsp(3), ChangeLocal},
		{"external advanced", ts(1), tsp(4), tsp(3), ChangeExternal},
		{"both advanced", ts(5), tsp(4), tsp(3), ChangeBoth},
		{"equal to watermark is not advanced", ts(3), tsp(3), tsp(3), ChangeNone},
		{"never synced counts any timestamp", ts(1), tsp(2), nil, ChangeBoth},
		{"never synced local only", ts(1), nil, nil, ChangeLocal},
		{"zero local never advances", time.Time{}, tsp(4), nil, ChangeExternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.local, tt.external, tt.watermark); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func snapshot(title string, updated time.Time) model.EventFields {
	return model.EventFields{
		Title:     title,
		StartAt:   ts(9),
		EndAt:     ts(10),
		UpdatedAt: updated,
	}
}

// TestDecide_Direction checks direction overrides strategy without
// entering conflict.
func TestDecide_Direction(t *testing.T) {
	base := snapshot("Base", ts(1))
	local := snapshot("Local", ts(5))
	external := snapshot("External", ts(6))

	t.Run("read_only drops local changes", func(t *testing.T) {
		conn := bidiConnection()
		conn.Direction = model.DirectionReadOnly
		out := Decide(conn, ChangeLocal, base, local, external, ts(7))
		if out.Action != ActionNone {
			t.Errorf("Action = %v, want none", out.Action)
		}
	})

	t.Run("read_only pulls on both", func(t *testing.T) {
		conn := bidiConnection()
		conn.Direction = model.DirectionReadOnly
		out := Decide(conn, ChangeBoth, base, local, external, ts(7))
		if out.Action != ActionPull || out.Fields.Title != "External" {
			t.Errorf("Decide() = %+v", out)
		}
	})

	t.Run("write_only re-pushes over external edits", func(t *testing.T) {
		conn := bidiConnection()
		conn.Direction = model.DirectionWriteOnly
		out := Decide(conn, ChangeExternal, base, local, external, ts(7))
		if out.Action != ActionPush || out.Fields.Title != "Local" {
			t.Errorf("Decide() = %+v", out)
		}
	})

	t.Run("write_only pushes on both", func(t *testing.T) {
		conn := bidiConnection()
		conn.Direction = model.DirectionWriteOnly
		conn.Strategy = model.StrategyExternalWins // must be ignored
		out := Decide(conn, ChangeBoth, base, local, external, ts(7))
		if out.Action != ActionPush || out.Fields.Title != "Local" {
			t.Errorf("Decide() = %+v", out)
		}
	})
}

// TestDecide_Strategy checks each strategy on a diverged bidirectional
// pair.
func TestDecide_Strategy(t *testing.T) {
	base := snapshot("Base", ts(1))
	local := snapshot("Local", ts(5))
	external := snapshot("External", ts(6))

	t.Run("local_wins pushes", func(t *testing.T) {
		conn := bidiConnection()
		conn.Strategy = model.StrategyLocalWins
		out := Decide(conn, ChangeBoth, base, local, external, ts(7))
		if out.Action != ActionPush || out.Fields.Title != "Local" {
			t.Errorf("Decide() = %+v", out)
		}
	})

	t.Run("external_wins pulls", func(t *testing.T) {
		conn := bidiConnection()
		conn.Strategy = model.StrategyExternalWins
		out := Decide(conn, ChangeBoth, base, local, external, ts(7))
		if out.Action != ActionPull || out.Fields.Title != "External" {
			t.Errorf("Decide() = %+v", out)
		}
	})

	t.Run("manual records the conflict", func(t *testing.T) {
		out := Decide(bidiConnection(), ChangeBoth, base, local, external, ts(7))
		if out.Action != ActionConflict {
			t.Fatalf("Action = %v, want conflict", out.Action)
		}
		rec := out.Record
		if rec == nil {
			t.Fatal("Record is nil")
		}
		if rec.Local.Title != "Local" || rec.External.Title != "External" {
			t.Errorf("record sides = %q / %q", rec.Local.Title, rec.External.Title)
		}
		if len(rec.Fields) != 1 || rec.Fields[0] != "title" {
			t.Errorf("diverged fields = %v", rec.Fields)
		}
		if !rec.DetectedAt.Equal(ts(7)) {
			t.Errorf("detected at = %v", rec.DetectedAt)
		}
	})

	t.Run("merge pushes the combined snapshot", func(t *testing.T) {
		conn := bidiConnection()
		conn.Strategy = model.StrategyMerge
		localMoved := snapshot("Base", ts(5))
		localMoved.StartAt = ts(11)
		localMoved.EndAt = ts(12)
		out := Decide(conn, ChangeBoth, base, localMoved, external, ts(7))
		if out.Action != ActionPush || !out.Merged {
			t.Fatalf("Decide() = %+v", out)
		}
		// Title changed only externally, time only locally.
		if out.Fields.Title != "External" || !out.Fields.StartAt.Equal(ts(11)) {
			t.Errorf("merged = %+v", out.Fields)
		}
	})

	t.Run("merge under minimal details stays redacted", func(t *testing.T) {
		conn := bidiConnection()
		conn.Strategy = model.StrategyMerge
		conn.MinimalDetails = true
		out := Decide(conn, ChangeBoth, base, local, external, ts(7))
		if out.Fields.Title != GenericTitle {
			t.Errorf("merged title = %q, want redacted", out.Fields.Title)
		}
	})

	t.Run("identical content is a watermark bump", func(t *testing.T) {
		same := snapshot("Same", ts(5))
		sameExt := snapshot("Same", ts(6))
		out := Decide(bidiConnection(), ChangeBoth, base, same, sameExt, ts(7))
		if out.Action != ActionPull {
			t.Errorf("Action = %v, want pull", out.Action)
		}
		if out.Record != nil {
			t.Error("no conflict should be recorded for identical content")
		}
	})
}

// TestDecide_SingleSide checks the simple one-side cases.
func TestDecide_SingleSide(t *testing.T) {
	base := snapshot("Base", ts(1))
	local := snapshot("Local", ts(5))
	external := snapshot("External", ts(6))

	out := Decide(bidiConnection(), ChangeNone, base, local, external, ts(7))
	if out.Action != ActionNone {
		t.Errorf("ChangeNone decided %v, want none", out.Action)
	}
	out = Decide(bidiConnection(), ChangeLocal, base, local, external, ts(7))
	if out.Action != ActionPush || out.Fields.Title != "Local" {
		t.Errorf("ChangeLocal = %+v", out)
	}
	out = Decide(bidiConnection(), ChangeExternal, base, local, external, ts(7))
	if out.Action != ActionPull || out.Fields.Title != "External" {
		t.Errorf("ChangeExternal = %+v", out)
	}
}

// TestMerge covers the three-way field merge.
func TestMerge(t *testing.T) {
	base := model.EventFields{
		Title:       "Visit",
		Description: "bring charts",
		Location:    "Room 1",
		StartAt:     ts(9),
		EndAt:       ts(10),
		UpdatedAt:   ts(1),
	}

	t.Run("each side keeps its own change", func(t *testing.T) {
		local := base
		local.Title = "Visit (rescheduled)"
		local.UpdatedAt = ts(5)
		external := base
		external.Location = "Room 4"
		external.UpdatedAt = ts(6)

		m := Merge(base, local, external)
		if m.Title != "Visit (rescheduled)" || m.Location != "Room 4" {
			t.Errorf("Merge() = %+v", m)
		}
		if m.Description != "bring charts" {
			t.Errorf("unchanged field lost: %q", m.Description)
		}
	})

	t.Run("same field changed both sides takes the newer", func(t *testing.T) {
		local := base
		local.Title = "Local title"
		local.UpdatedAt = ts(8)
		external := base
		external.Title = "External title"
		external.UpdatedAt = ts(6)

		m := Merge(base, local, external)
		if m.Title != "Local title" {
			t.Errorf("title = %q, want local (newer)", m.Title)
		}
		if !m.UpdatedAt.Equal(ts(8)) {
			t.Errorf("merged updated = %v", m.UpdatedAt)
		}
	})

	t.Run("timestamp tie prefers external", func(t *testing.T) {
		local := base
		local.Title = "Local title"
		local.UpdatedAt = ts(6)
		external := base
		external.Title = "External title"
		external.UpdatedAt = ts(6)

		if m := Merge(base, local, external); m.Title != "External title" {
			t.Errorf("title = %q, want external on tie", m.Title)
		}
	})

	t.Run("times merge by side", func(t *testing.T) {
		local := base
		local.StartAt = ts(11)
		local.EndAt = ts(12)
		local.UpdatedAt = ts(5)
		external := base
		external.AllDay = true
		external.UpdatedAt = ts(6)

		m := Merge(base, local, external)
		if !m.StartAt.Equal(ts(11)) || !m.EndAt.Equal(ts(12)) || !m.AllDay {
			t.Errorf("Merge() = %+v", m)
		}
	})
}
