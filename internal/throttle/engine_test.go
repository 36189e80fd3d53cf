package throttle

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/espcaa/wakatime-ls/internal/activity"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func edit(path string, at time.Duration) activity.Event {
	return activity.Event{Time: t0.Add(at), FilePath: path, Project: "proj"}
}

func save(path string, at time.Duration) activity.Event {
	ev := edit(path, at)
	ev.IsSave = true
	ev.IsWrite = true
	return ev
}

func TestEngine_Scenario(t *testing.T) {
	e := New(Options{})

	var forced []bool
	for _, ev := range []activity.Event{
		edit("a.rs", 0),
		edit("a.rs", 10*time.Second),
		save("a.rs", 15*time.Second),
		edit("a.rs", 130*time.Second),
	} {
		if d := e.Decide(ev); d.Send {
			forced = append(forced, d.Heartbeat.Forced)
		}
	}

	assert.Equal(t, []bool{false, true, false}, forced)
}

func TestEngine_ChangesWithinIntervalProduceOne(t *testing.T) {
	e := New(Options{MinInterval: time.Minute})

	sent := 0
	for i := range 60 {
		if e.Decide(edit("b.go", time.Duration(i)*time.Second)).Send {
			sent++
		}
	}
	assert.Equal(t, 1, sent)
}

func TestEngine_SaveAlwaysSends(t *testing.T) {
	e := New(Options{})

	require.True(t, e.Decide(edit("c.go", 0)).Send)
	for i := 1; i <= 5; i++ {
		d := e.Decide(save("c.go", time.Duration(i)*time.Second))
		require.True(t, d.Send)
		assert.True(t, d.Heartbeat.Forced)
		assert.True(t, d.Heartbeat.IsWrite)
	}
}

func TestEngine_FirstSaveStartsInterval(t *testing.T) {
	e := New(Options{})

	d := e.Decide(save("s.go", 0))
	require.True(t, d.Send)
	assert.True(t, d.Heartbeat.Forced)

	assert.False(t, e.Decide(edit("s.go", 5*time.Second)).Send)

	d = e.Decide(edit("s.go", 2*time.Minute))
	require.True(t, d.Send)
	assert.False(t, d.Heartbeat.Forced)
}

func TestEngine_ProjectSwitchForces(t *testing.T) {
	e := New(Options{})

	require.True(t, e.Decide(edit("d.go", 0)).Send)

	ev := edit("d.go", 5*time.Second)
	ev.Project = "other"
	d := e.Decide(ev)
	require.True(t, d.Send)
	assert.True(t, d.Heartbeat.Forced)
	assert.Equal(t, "other", d.Heartbeat.Project)

	// Same project again within the interval is throttled.
	ev.Time = t0.Add(6 * time.Second)
	assert.False(t, e.Decide(ev).Send)
}

func TestEngine_IdleForces(t *testing.T) {
	e := New(Options{MinInterval: time.Minute, IdleForcedInterval: 10 * time.Minute})

	require.True(t, e.Decide(edit("e.go", 0)).Send)

	d := e.Decide(edit("e.go", 5*time.Minute))
	require.True(t, d.Send)
	assert.False(t, d.Heartbeat.Forced)

	d = e.Decide(edit("e.go", 16*time.Minute))
	require.True(t, d.Send)
	assert.True(t, d.Heartbeat.Forced)
}

func TestEngine_SuppressDoesNotAdvanceClock(t *testing.T) {
	e := New(Options{})

	require.True(t, e.Decide(edit("f.go", 0)).Send)
	before, ok := e.State("f.go")
	require.True(t, ok)

	for i := 1; i < 120; i++ {
		require.False(t, e.Decide(edit("f.go", time.Duration(i)*time.Second)).Send)
	}

	after, _ := e.State("f.go")
	assert.Equal(t, before.LastSentAt, after.LastSentAt)
	assert.Equal(t, before.LastUnforcedAt, after.LastUnforcedAt)

	assert.True(t, e.Decide(edit("f.go", 120*time.Second)).Send)
}

func TestEngine_FilesAreIndependent(t *testing.T) {
	e := New(Options{})

	assert.True(t, e.Decide(edit("g.go", 0)).Send)
	assert.True(t, e.Decide(edit("h.go", time.Second)).Send)
	assert.False(t, e.Decide(edit("g.go", 2*time.Second)).Send)
}

func TestEngine_HeartbeatCarriesEventFields(t *testing.T) {
	e := New(Options{})
	ev := activity.Event{
		Time:          t0,
		FilePath:      "/src/x.py",
		Project:       "src",
		ProjectFolder: "/src",
		Language:      "python",
		LineNumber:    3,
		CursorPos:     7,
		LinesInFile:   40,
	}

	d := e.Decide(ev)
	require.True(t, d.Send)
	hb := d.Heartbeat
	assert.Equal(t, "/src/x.py", hb.Entity)
	assert.Equal(t, t0, hb.Time)
	assert.Equal(t, "python", hb.Language)
	assert.Equal(t, "src", hb.Project)
	assert.Equal(t, "/src", hb.ProjectFolder)
	assert.Equal(t, 3, hb.LineNumber)
	assert.Equal(t, 7, hb.CursorPos)
	assert.Equal(t, 40, hb.LinesInFile)
}

func TestEngine_Eviction(t *testing.T) {
	e := New(Options{MaxTrackedFiles: 3})

	for i := range 3 {
		require.True(t, e.Decide(edit(fmt.Sprintf("f%d", i), time.Duration(i)*time.Second)).Send)
	}
	// Touch f0 so f1 becomes least recently updated.
	require.False(t, e.Decide(edit("f0", 4*time.Second)).Send)

	require.True(t, e.Decide(edit("f3", 5*time.Second)).Send)
	assert.Equal(t, 3, e.Len())
	assert.EqualValues(t, 1, e.Evictions())

	_, ok := e.State("f1")
	assert.False(t, ok)
	_, ok = e.State("f0")
	assert.True(t, ok)

	// The evicted file is treated as new, so its next edit is not suppressed.
	d := e.Decide(edit("f1", 6*time.Second))
	assert.True(t, d.Send)
	assert.False(t, d.Heartbeat.Forced)
}

func TestEngine_RandomSequencesRespectInterval(t *testing.T) {
	const interval = 2 * time.Minute
	rng := rand.New(rand.NewPCG(1, 2))

	for run := range 50 {
		e := New(Options{MinInterval: interval, IdleForcedInterval: time.Hour})
		var at time.Duration
		var lastUnforced *time.Time

		for range 200 {
			at += time.Duration(rng.IntN(30)) * time.Second
			var ev activity.Event
			if rng.IntN(10) == 0 {
				ev = save("r.go", at)
			} else {
				ev = edit("r.go", at)
			}

			before, _ := e.State("r.go")
			d := e.Decide(ev)

			if ev.IsSave {
				require.True(t, d.Send, "run %d: save suppressed", run)
			}
			if !d.Send {
				after, _ := e.State("r.go")
				require.Equal(t, before.LastSentAt, after.LastSentAt)
				continue
			}
			if !d.Heartbeat.Forced {
				if lastUnforced != nil {
					require.GreaterOrEqual(t, ev.Time.Sub(*lastUnforced), interval, "run %d", run)
				}
				ts := ev.Time
				lastUnforced = &ts
			}
		}
	}
}
