package shoutcast

import (
	"bufio"
	"fmt"
	"io"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
)

var icyMetadataRequest = regexp.MustCompile(`icy-metadata:\s*1`)

// WantsMetadata reports whether a raw request header asks for in-band
// metadata. The match is a case-insensitive substring match.
func WantsMetadata(rawHeader string) bool {
	return icyMetadataRequest.MatchString(strings.ToLower(rawHeader))
}

// Header is the ICY response header block.
type Header struct {
	Notice1 string
	Notice2 string
	Name    string
	Bitrate int
	Genre   string
	URL     string
	MetaInt int
}

// WriteTo writes the header block, terminated by an empty line.
func (h Header) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w,
		"ICY 200 OK\r\n"+
			"icy-notice1:%s\r\n"+
			"icy-notice2:%s\r\n"+
			"icy-name:%s\r\n"+
			"icy-br:%d\r\n"+
			"icy-genre:%s\r\n"+
			"icy-url:%s\r\n"+
			"icy-metaint:%d\r\n\r\n",
		h.Notice1, h.Notice2, h.Name, h.Bitrate, h.Genre, h.URL, h.MetaInt)
	return int64(n), err
}

// ReadHeader parses an ICY or HTTP status line and the header block after
// it. The reader is left positioned at the first body byte.
func ReadHeader(r *bufio.Reader) (int, Header, error) {
	tp := textproto.NewReader(r)

	line, err := tp.ReadLine()
	if err != nil {
		return 0, Header{}, fmt.Errorf("read status line: %w", err)
	}

	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, Header{}, fmt.Errorf("malformed status line %q", line)
	}
	status, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, Header{}, fmt.Errorf("malformed status code %q", line)
	}

	mh, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return status, Header{}, fmt.Errorf("read header block: %w", err)
	}

	h := Header{
		Notice1: mh.Get("icy-notice1"),
		Notice2: mh.Get("icy-notice2"),
		Name:    mh.Get("icy-name"),
		Genre:   mh.Get("icy-genre"),
		URL:     mh.Get("icy-url"),
	}
	if raw := mh.Get("icy-br"); raw != "" {
		if h.Bitrate, err = strconv.Atoi(raw); err != nil {
			return status, h, fmt.Errorf("cannot parse bitrate: %v", err)
		}
	}
	if raw := mh.Get("icy-metaint"); raw != "" {
		if h.MetaInt, err = strconv.Atoi(raw); err != nil {
			return status, h, fmt.Errorf("cannot parse metaint: %v", err)
		}
	}

	return status, h, nil
}
