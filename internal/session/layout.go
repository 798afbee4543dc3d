package session

import (
	"MeetingScribe/internal/store"
	"MeetingScribe/internal/timestamp"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Session directory layout:
//
//	<root>/<id>/metadata.json
//	<root>/<id>/meeting.db
//	<root>/<id>/users/<speaker>.wav
const (
	MetadataFile = "metadata.json"
	UsersDir     = "users"
	TrackExt     = ".wav"
)

// NewID derives the sortable, filesystem-safe session id from its start time.
func NewID(start time.Time, loc *time.Location) string {
	if loc != nil {
		start = start.In(loc)
	}
	s := timestamp.Format(start)
	s = strings.ReplaceAll(s, ":", "-")
	return strings.ReplaceAll(s, "+", "_")
}

func MetadataPath(dir string) string { return filepath.Join(dir, MetadataFile) }

func StorePath(dir string) string { return filepath.Join(dir, store.FileName) }

func TrackPath(dir, speakerID string) string {
	return filepath.Join(dir, UsersDir, safeName(speakerID)+TrackExt)
}

// TrackFile is the track path relative to the session directory.
func TrackFile(speakerID string) string {
	return UsersDir + "/" + safeName(speakerID) + TrackExt
}

// safeName escapes id into a file name. Bytes outside [A-Za-z0-9-] become
// "_xx" (lower-case hex), so distinct ids never share a file. The empty id
// maps to "_", which no escaped id can produce.
func safeName(id string) string {
	if id == "" {
		return "_"
	}
	var b strings.Builder
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "_%02x", c)
		}
	}
	return b.String()
}

// createDir creates <root>/<id>/users, suffixing the id if a directory with
// that name already exists.
func createDir(root, id string) (string, string, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", "", err
	}
	candidate := id
	for i := 2; ; i++ {
		dir := filepath.Join(root, candidate)
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			return candidate, dir, os.MkdirAll(filepath.Join(dir, UsersDir), 0o755)
		}
		if !os.IsExist(err) || i > 100 {
			return "", "", err
		}
		candidate = id + "-" + strconv.Itoa(i)
	}
}

// Info describes a session directory found on disk.
type Info struct {
	ID         string
	Dir        string
	Metadata   *Metadata
	Incomplete bool // session_end missing: crashed or still recording
	Corrupt    bool // metadata missing or unreadable
	Err        error
}

// Inspect reads the metadata of one session directory.
func Inspect(dir string) Info {
	info := Info{ID: filepath.Base(dir), Dir: dir}
	md, err := ReadMetadata(MetadataPath(dir))
	if err != nil {
		info.Corrupt = true
		info.Incomplete = true
		info.Err = err
		return info
	}
	info.Metadata = md
	info.Incomplete = !md.Complete()
	return info
}

// List returns every session under root, newest first.
func List(root string) ([]Info, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(MetadataPath(dir)); os.IsNotExist(err) {
			if _, err := os.Stat(StorePath(dir)); os.IsNotExist(err) {
				continue // not a session directory
			}
		}
		out = append(out, Inspect(dir))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sortKey(out[i]).After(sortKey(out[j]))
	})
	return out, nil
}

func sortKey(in Info) time.Time {
	if in.Metadata != nil {
		if t, err := in.Metadata.StartTime(); err == nil {
			return t
		}
	}
	if st, err := os.Stat(in.Dir); err == nil {
		return st.ModTime()
	}
	return time.Time{}
}

// Incomplete filters List down to sessions that never finished.
func Incomplete(root string) ([]Info, error) {
	all, err := List(root)
	if err != nil {
		return nil, err
	}
	var out []Info
	for _, in := range all {
		if in.Incomplete {
			out = append(out, in)
		}
	}
	return out, nil
}
