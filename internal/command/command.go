// Package command parses and runs the one-letter control commands shared by
// the terminal UI and the plain line prompt.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/satindergrewal/beatgrid/internal/library"
	"github.com/satindergrewal/beatgrid/internal/world"
)

var (
	// ErrUnknown is returned for a line whose first word names no command.
	ErrUnknown = errors.New("unknown command")
	// ErrUsage is returned when a command's arguments are missing or fail
	// to parse; the message carries the command's usage.
	ErrUsage = errors.New("usage")
	// ErrRejected is returned when the arguments parse but the engine
	// refuses the edit or the playhead or track does not exist.
	ErrRejected = errors.New("rejected")
)

// Controller is the control surface commands act on. *world.World
// implements it.
type Controller interface {
	RegisterSong(filename string, nativeRate, bpm float64) (int, error)
	InsertClip(track int, start, end, fadeIn, fadeOut, pitch float64, firstFrame uint64, songID int) bool
	EraseRange(track int, from, to float64) bool
	TogglePlayhead(p int) bool
	ToggleTrack(t int) bool
	JumpPlayhead(p int, beat float64) bool
	SetTempo(bpm float64)
	Status() world.Status
	Songs() []library.Song
}

// Result is what a command printed and whether it asked to quit.
type Result struct {
	Output string
	Quit   bool
}

// Help lists every command.
const Help = `l <file> [bpm] [rate]                 load a song (0 = probe)
i <trk> <start> <end> <song> [first_frame] [fade_in] [fade_out] [pitch]
                                      insert a clip
e <trk> <from> <to>                   erase a beat range
p <idx>                               toggle a playhead
t <idx>                               toggle a track
j <idx> <beat>                        jump a playhead
b <bpm>                               set the master tempo
s                                     status
songs                                 list songs
q                                     quit`

type verb struct {
	min, max int
	usage    string
	run      func(c Controller, a args) (string, error)
}

var commands = map[string]verb{
	"l":     {1, 3, "l <file> [bpm] [rate]", load},
	"i":     {4, 8, "i <trk> <start> <end> <song> [first_frame] [fade_in] [fade_out] [pitch]", insert},
	"e":     {3, 3, "e <trk> <from> <to>", erase},
	"p":     {1, 1, "p <idx>", togglePlayhead},
	"t":     {1, 1, "t <idx>", toggleTrack},
	"j":     {2, 2, "j <idx> <beat>", jump},
	"b":     {1, 1, "b <bpm>", tempo},
	"s":     {0, 0, "s", status},
	"songs": {0, 0, "songs", songs},
	"h":     {0, 0, "h", func(Controller, args) (string, error) { return Help, nil }},
}

// Execute runs one command line against c.
func Execute(c Controller, line string) (Result, error) {
	fields, err := Split(line)
	if err != nil {
		return Result{}, err
	}
	if len(fields) == 0 {
		return Result{}, nil
	}
	name := strings.ToLower(fields[0])
	if name == "q" || name == "quit" {
		return Result{Quit: true}, nil
	}
	sp, ok := commands[name]
	if !ok {
		return Result{}, fmt.Errorf("%w %q, try h", ErrUnknown, fields[0])
	}
	a := args{fields: fields[1:]}
	if len(a.fields) < sp.min || len(a.fields) > sp.max {
		return Result{}, fmt.Errorf("%w: %s", ErrUsage, sp.usage)
	}
	out, err := sp.run(c, a)
	if err != nil {
		return Result{}, err
	}
	return Result{Output: out}, nil
}

// Split breaks a line into fields, keeping double-quoted text together.
func Split(line string) ([]string, error) {
	var (
		fields []string
		cur    strings.Builder
		quoted bool
		have   bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			have = true
		case !quoted && (r == ' ' || r == '\t'):
			if have {
				fields = append(fields, cur.String())
				cur.Reset()
				have = false
			}
		default:
			cur.WriteRune(r)
			have = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote", ErrUsage)
	}
	if have {
		fields = append(fields, cur.String())
	}
	return fields, nil
}

// args reads positional arguments, remembering the first parse error.
type args struct {
	fields []string
	err    error
}

func (a *args) intAt(i int) int {
	if i >= len(a.fields) {
		return 0
	}
	v, err := strconv.Atoi(a.fields[i])
	if err != nil && a.err == nil {
		a.err = fmt.Errorf("%w: %q is not an integer", ErrUsage, a.fields[i])
	}
	return v
}

func (a *args) floatAt(i int) float64 {
	if i >= len(a.fields) {
		return 0
	}
	v, err := strconv.ParseFloat(a.fields[i], 64)
	if err != nil && a.err == nil {
		a.err = fmt.Errorf("%w: %q is not a number", ErrUsage, a.fields[i])
	}
	return v
}

func (a *args) uintAt(i int) uint64 {
	if i >= len(a.fields) {
		return 0
	}
	v, err := strconv.ParseUint(a.fields[i], 10, 64)
	if err != nil && a.err == nil {
		a.err = fmt.Errorf("%w: %q is not a frame number", ErrUsage, a.fields[i])
	}
	return v
}

func load(c Controller, a args) (string, error) {
	bpm, rate := a.floatAt(1), a.floatAt(2)
	if a.err != nil {
		return "", a.err
	}
	id, err := c.RegisterSong(a.fields[0], rate, bpm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("song %d: %s", id, a.fields[0]), nil
}

func insert(c Controller, a args) (string, error) {
	track, start, end, song := a.intAt(0), a.floatAt(1), a.floatAt(2), a.intAt(3)
	first, fadeIn, fadeOut, pitch := a.uintAt(4), a.floatAt(5), a.floatAt(6), a.floatAt(7)
	if a.err != nil {
		return "", a.err
	}
	if !c.InsertClip(track, start, end, fadeIn, fadeOut, pitch, first, song) {
		return "", fmt.Errorf("%w: insert on track %d", ErrRejected, track)
	}
	return fmt.Sprintf("track %d: song %d at [%g,%g)", track, song, start, end), nil
}

func erase(c Controller, a args) (string, error) {
	track, from, to := a.intAt(0), a.floatAt(1), a.floatAt(2)
	if a.err != nil {
		return "", a.err
	}
	if !c.EraseRange(track, from, to) {
		return "", fmt.Errorf("%w: erase on track %d", ErrRejected, track)
	}
	return fmt.Sprintf("track %d: erased [%g,%g)", track, from, to), nil
}

func togglePlayhead(c Controller, a args) (string, error) {
	p := a.intAt(0)
	if a.err != nil {
		return "", a.err
	}
	if p < 0 || p >= len(c.Status().Playheads) {
		return "", fmt.Errorf("%w: no playhead %d", ErrRejected, p)
	}
	return fmt.Sprintf("playhead %d %s", p, onOff(c.TogglePlayhead(p))), nil
}

func toggleTrack(c Controller, a args) (string, error) {
	t := a.intAt(0)
	if a.err != nil {
		return "", a.err
	}
	if t < 0 || t >= len(c.Status().Tracks) {
		return "", fmt.Errorf("%w: no track %d", ErrRejected, t)
	}
	return fmt.Sprintf("track %d %s", t, onOff(c.ToggleTrack(t))), nil
}

func jump(c Controller, a args) (string, error) {
	p, beat := a.intAt(0), a.floatAt(1)
	if a.err != nil {
		return "", a.err
	}
	if !c.JumpPlayhead(p, beat) {
		return "", fmt.Errorf("%w: jump playhead %d", ErrRejected, p)
	}
	return fmt.Sprintf("playhead %d -> beat %g", p, beat), nil
}

func tempo(c Controller, a args) (string, error) {
	bpm := a.floatAt(0)
	if a.err != nil {
		return "", a.err
	}
	if !(bpm > 0) {
		return "", fmt.Errorf("%w: bpm must be positive", ErrRejected)
	}
	c.SetTempo(bpm)
	return fmt.Sprintf("tempo %g bpm", bpm), nil
}

func status(c Controller, _ args) (string, error) {
	return FormatStatus(c.Status()), nil
}

func songs(c Controller, _ args) (string, error) {
	list := c.Songs()
	if len(list) == 0 {
		return "no songs", nil
	}
	var b strings.Builder
	for i, s := range list {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%3d  %-24s %6.2f bpm  %5.0f Hz  %s", s.ID, s.Title, s.BPM, s.SampleRate, s.Filename)
	}
	return b.String(), nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// FormatStatus renders a status snapshot as plain text.
func FormatStatus(st world.Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tempo %.2f bpm, %d songs\n", st.BPM, st.Songs)
	b.WriteString("tracks")
	for t, on := range st.Tracks {
		fmt.Fprintf(&b, "  %d:%s", t, onOff(on))
	}
	for _, ph := range st.Playheads {
		fmt.Fprintf(&b, "\nplayhead %d %-3s beat %8.3f", ph.Index, onOff(ph.Active), ph.Beat)
		for t, pair := range ph.Tracks {
			if pair.Clip < 0 {
				fmt.Fprintf(&b, "  %d:-", t)
			} else {
				fmt.Fprintf(&b, "  %d:c%d/s%d", t, pair.Clip, pair.Song)
			}
		}
	}
	return b.String()
}
