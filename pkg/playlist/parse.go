package playlist

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type snapshotItem struct {
	URL        string `xml:"url,attr"`
	QueueIndex string `xml:"queue_index,attr"`
	Title      string `xml:"Title"`
	Artist     string `xml:"Artist"`
	Album      string `xml:"Album"`
	Length     string `xml:"Length"`
	Genre      string `xml:"Genre"`
	Year       string `xml:"Year"`
	TrackNo    string `xml:"TrackNo"`
	Bitrate    string `xml:"Bitrate"`
}

type snapshot struct {
	Items []snapshotItem `xml:"item"`
}

var leadingDigits = regexp.MustCompile(`^\s*(\d+)`)

// ParseSnapshot reads the XML now-playing snapshot: repeated <item url=""
// queue_index=""> elements with Title, Artist, Album, Length (MM:SS), Genre,
// Year, TrackNo and Bitrate children.
func ParseSnapshot(r io.Reader) ([]Track, error) {
	var doc snapshot
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}

	tracks := make([]Track, 0, len(doc.Items))
	for _, it := range doc.Items {
		t := Track{
			Title:      strings.TrimSpace(it.Title),
			Artist:     strings.TrimSpace(it.Artist),
			Album:      strings.TrimSpace(it.Album),
			Genre:      strings.TrimSpace(it.Genre),
			Year:       strings.TrimSpace(it.Year),
			TrackNo:    strings.TrimSpace(it.TrackNo),
			URL:        it.URL,
			QueueIndex: NoQueue,
		}

		if m := leadingDigits.FindStringSubmatch(it.Bitrate); m != nil {
			t.Bitrate, _ = strconv.Atoi(m[1])
		}

		if it.QueueIndex != "" {
			q, err := strconv.Atoi(it.QueueIndex)
			if err != nil {
				t.Err = fmt.Sprintf("invalid queue index %q", it.QueueIndex)
			} else {
				t.QueueIndex = q
			}
		}

		if d, err := ParseLength(it.Length); err != nil {
			t.Err = "unparsable duration: " + err.Error()
		} else {
			t.Duration = d
		}

		tracks = append(tracks, t)
	}

	return tracks, nil
}

// ParseM3U reads an extended or plain M3U list. Relative entries are resolved
// against dir.
func ParseM3U(body io.Reader, dir string) ([]Track, error) {
	var (
		tracks  []Track
		pending *Track
	)

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			t := Track{QueueIndex: NoQueue}
			info := strings.TrimPrefix(line, "#EXTINF:")
			secs, title, _ := strings.Cut(info, ",")
			if n, err := strconv.Atoi(strings.TrimSpace(secs)); err == nil && n > 0 {
				t.Duration = time.Duration(n) * time.Second
			}
			t.Artist, t.Title = splitTitle(title)
			pending = &t
		case strings.HasPrefix(line, "#"):
			// Skip comments
			continue
		default:
			t := Track{QueueIndex: NoQueue}
			if pending != nil {
				t = *pending
				pending = nil
			}
			t.URL = resolve(dir, line)
			tracks = append(tracks, t)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	return tracks, nil
}

// ParsePLS reads a PLS list (FileN, TitleN, LengthN). Relative entries are
// resolved against dir.
func ParsePLS(body io.Reader, dir string) ([]Track, error) {
	entries := map[int]*Track{}
	get := func(n int) *Track {
		t, ok := entries[n]
		if !ok {
			t = &Track{QueueIndex: NoQueue}
			entries[n] = t
		}
		return t
	}

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		for _, field := range []string{"File", "Title", "Length"} {
			if !strings.HasPrefix(key, field) {
				continue
			}
			n, err := strconv.Atoi(strings.TrimPrefix(key, field))
			if err != nil {
				break
			}
			t := get(n)
			switch field {
			case "File":
				t.URL = resolve(dir, value)
			case "Title":
				t.Artist, t.Title = splitTitle(value)
			case "Length":
				if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
					t.Duration = time.Duration(secs) * time.Second
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read playlist: %w", err)
	}

	keys := make([]int, 0, len(entries))
	for n, t := range entries {
		if t.URL != "" {
			keys = append(keys, n)
		}
	}
	sort.Ints(keys)

	tracks := make([]Track, 0, len(keys))
	for _, n := range keys {
		tracks = append(tracks, *entries[n])
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no entries found in PLS playlist")
	}

	return tracks, nil
}

func splitTitle(s string) (artist, title string) {
	s = strings.TrimSpace(s)
	if a, t, ok := strings.Cut(s, " - "); ok {
		return strings.TrimSpace(a), strings.TrimSpace(t)
	}
	return "", s
}

func resolve(dir, entry string) string {
	if strings.Contains(entry, "://") || filepath.IsAbs(entry) || dir == "" {
		return entry
	}
	return filepath.Join(dir, entry)
}
