package shouter

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zachfi/zkit/pkg/util"

	"github.com/zachfi/shouter/pkg/provider"
	"github.com/zachfi/shouter/pkg/shoutcast"
)

const (
	defaultPort        = 8000
	defaultBufSize     = 4096
	defaultIcyInterval = 16384
	defaultChunkSize   = 1 << 20 // 1 MiB
	bindAttempts       = 10
)

// IdleMode is what a session streams while the playlist has nothing to play.
type IdleMode string

const (
	IdleSilence   IdleMode = "silence"
	IdleDirectory IdleMode = "directory"
	IdleGenre     IdleMode = "genre"
	IdleYear      IdleMode = "year"
	IdleBitrate   IdleMode = "bitrate"
	IdleRandom    IdleMode = "random"
	IdlePlaylist  IdleMode = "playlist"
)

// idleModes is indexed by the legacy numeric mode.
var idleModes = []IdleMode{IdleSilence, IdleDirectory, IdleGenre, IdleYear, IdleBitrate, IdleRandom, IdlePlaylist}

// ParseIdleMode accepts a mode name or its number, 0 through 6.
func ParseIdleMode(s string) (IdleMode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(idleModes) {
			return "", fmt.Errorf("unknown idle mode %d", n)
		}
		return idleModes[n], nil
	}
	for _, m := range idleModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown idle mode %q", s)
}

const (
	PlaylistStatic = "static"
	PlaylistLive   = "live"
)

type Config struct {
	ListenAddress  string        `yaml:"listen_address,omitempty"`
	Port           int           `yaml:"port,omitempty"`
	Mount          string        `yaml:"mount,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`

	// ICY header strings.
	Name  string `yaml:"name,omitempty"`
	Genre string `yaml:"genre,omitempty"`
	URL   string `yaml:"url,omitempty"`
	Desc1 string `yaml:"desc1,omitempty"`
	Desc2 string `yaml:"desc2,omitempty"`

	BufSize         int    `yaml:"buf_size,omitempty"`
	IcyInterval     int    `yaml:"icy_interval,omitempty"`
	MaxClients      int    `yaml:"max_clients,omitempty"`
	MetadataCharset string `yaml:"metadata_charset,omitempty"`

	// PuncFactor is the percentage of the current play position new
	// listeners join at.
	PuncFactor  int           `yaml:"punc_factor,omitempty"`
	PreSeek     time.Duration `yaml:"pre_seek,omitempty"`
	ForceUpdate bool          `yaml:"force_update,omitempty"`

	EnableDL   bool   `yaml:"enable_dl,omitempty"`
	DLMount    string `yaml:"dl_mount,omitempty"`
	DLThrottle int    `yaml:"dl_throttle,omitempty"` // KiB/s, 0 is unlimited

	Reencoding    string `yaml:"reencoding,omitempty"`
	StreamFormat  string `yaml:"stream_format,omitempty"`
	StreamBitrate int    `yaml:"stream_br,omitempty"`
	ChunkSize     int64  `yaml:"chunk_size,omitempty"`
	ScratchDir    string `yaml:"scratch_dir,omitempty"`
	DecoderPath   string `yaml:"decoder_path,omitempty"`

	PlaylistFile string `yaml:"playlist_file,omitempty"`
	PlaylistMode string `yaml:"playlist_mode,omitempty"`
	Repeat       bool   `yaml:"repeat,omitempty"`
	Shuffle      bool   `yaml:"shuffle,omitempty"`

	IdleMode       string        `yaml:"idle_mode,omitempty"`
	IdleArg        string        `yaml:"idle_arg,omitempty"`
	SilenceSeconds time.Duration `yaml:"silence_seconds,omitempty"`

	// Between tracks, InjectPct percent of the time a random file matching
	// InjectFilter in InjectDir is played.
	InjectPct    int    `yaml:"inject_pct,omitempty"`
	InjectDir    string `yaml:"inject_dir,omitempty"`
	InjectFilter string `yaml:"inject_filter,omitempty"`

	AccessLog string `yaml:"access_log,omitempty"`
}

func (cfg *Config) RegisterFlagsAndApplyDefaults(prefix string, f *flag.FlagSet) {
	f.StringVar(&cfg.ListenAddress, util.PrefixConfig(prefix, "listen-address"), "", "Address the stream socket binds to.")
	f.IntVar(&cfg.Port, util.PrefixConfig(prefix, "port"), defaultPort, "Stream port. On bind failure the next 9 ports are tried.")
	f.StringVar(&cfg.Mount, util.PrefixConfig(prefix, "mount"), "/stream", "Mount path listeners request.")
	f.DurationVar(&cfg.RequestTimeout, util.PrefixConfig(prefix, "request-timeout"), 10*time.Second, "Time allowed for a client to send its request header.")

	f.StringVar(&cfg.Name, util.PrefixConfig(prefix, "name"), "shouter", "icy-name header.")
	f.StringVar(&cfg.Genre, util.PrefixConfig(prefix, "genre"), "Various", "icy-genre header.")
	f.StringVar(&cfg.URL, util.PrefixConfig(prefix, "url"), "", "icy-url header.")
	f.StringVar(&cfg.Desc1, util.PrefixConfig(prefix, "desc1"), "", "icy-notice1 header.")
	f.StringVar(&cfg.Desc2, util.PrefixConfig(prefix, "desc2"), "", "icy-notice2 header.")

	f.IntVar(&cfg.BufSize, util.PrefixConfig(prefix, "buf-size"), defaultBufSize, "Bytes per socket write.")
	f.IntVar(&cfg.IcyInterval, util.PrefixConfig(prefix, "icy-interval"), defaultIcyInterval, "Audio bytes between metadata frames.")
	f.IntVar(&cfg.MaxClients, util.PrefixConfig(prefix, "max-clients"), 5, "Maximum concurrent listeners.")
	f.StringVar(&cfg.MetadataCharset, util.PrefixConfig(prefix, "metadata-charset"), string(shoutcast.CharsetUTF8), "Charset of metadata frames: utf-8 or latin1.")

	f.IntVar(&cfg.PuncFactor, util.PrefixConfig(prefix, "punc-factor"), 100, "Percent of the current play position new listeners join at.")
	f.DurationVar(&cfg.PreSeek, util.PrefixConfig(prefix, "pre-seek"), 0, "Offset added to the play position when a listener joins.")
	f.BoolVar(&cfg.ForceUpdate, util.PrefixConfig(prefix, "force-update"), false, "Move every listener to the newest track when the playlist changes.")

	f.BoolVar(&cfg.EnableDL, util.PrefixConfig(prefix, "enable-dl"), false, "Allow downloading the newest track.")
	f.StringVar(&cfg.DLMount, util.PrefixConfig(prefix, "dl-mount"), "/download", "Mount that redirects to the newest track.")
	f.IntVar(&cfg.DLThrottle, util.PrefixConfig(prefix, "dl-throttle"), 100, "Download rate in KiB/s, 0 for unlimited.")

	f.StringVar(&cfg.Reencoding, util.PrefixConfig(prefix, "reencoding"), string(provider.PolicyNone), "Re-encoding policy: none, mismatched or all.")
	f.StringVar(&cfg.StreamFormat, util.PrefixConfig(prefix, "stream-format"), "mp3", "Format served to listeners.")
	f.IntVar(&cfg.StreamBitrate, util.PrefixConfig(prefix, "stream-br"), 128, "Bitrate in kbps of re-encoded output.")
	f.Int64Var(&cfg.ChunkSize, util.PrefixConfig(prefix, "chunk-size"), defaultChunkSize, "Source bytes per transcode chunk, 0 for whole files.")
	f.StringVar(&cfg.ScratchDir, util.PrefixConfig(prefix, "scratch-dir"), "", "Directory for transcode artifacts. Defaults to the system temp dir.")
	f.StringVar(&cfg.DecoderPath, util.PrefixConfig(prefix, "decoder-path"), "ffmpeg", "Decoder binary used for transcoding.")

	f.StringVar(&cfg.PlaylistFile, util.PrefixConfig(prefix, "playlist-file"), "", "Playlist to stream (.xml snapshot, .m3u or .pls).")
	f.StringVar(&cfg.PlaylistMode, util.PrefixConfig(prefix, "playlist-mode"), PlaylistStatic, "static follows the wall clock, live follows the now-playing endpoint.")
	f.BoolVar(&cfg.Repeat, util.PrefixConfig(prefix, "repeat"), true, "Loop the playlist.")
	f.BoolVar(&cfg.Shuffle, util.PrefixConfig(prefix, "shuffle"), false, "Shuffle every pass after the first.")

	f.StringVar(&cfg.IdleMode, util.PrefixConfig(prefix, "idle-mode"), string(IdleSilence), "Idle policy: silence, directory, genre, year, bitrate, random or playlist.")
	f.StringVar(&cfg.IdleArg, util.PrefixConfig(prefix, "idle-arg"), "", "Argument of the idle policy.")
	f.DurationVar(&cfg.SilenceSeconds, util.PrefixConfig(prefix, "silence-seconds"), 10*time.Second, "Length of one stretch of idle silence.")

	f.IntVar(&cfg.InjectPct, util.PrefixConfig(prefix, "inject-pct"), 0, "Percent chance of injecting a file between tracks.")
	f.StringVar(&cfg.InjectDir, util.PrefixConfig(prefix, "inject-dir"), "", "Directory of files to inject.")
	f.StringVar(&cfg.InjectFilter, util.PrefixConfig(prefix, "inject-filter"), "", "Glob of files to inject. Defaults to *.<stream-format>.")

	f.StringVar(&cfg.AccessLog, util.PrefixConfig(prefix, "access-log"), "", "Rotated JSON access log file. Empty logs to the module logger.")
}

// Validate rejects settings the controller cannot run with.
func (cfg *Config) Validate() error {
	if !strings.HasPrefix(cfg.Mount, "/") {
		return fmt.Errorf("mount must start with /: %q", cfg.Mount)
	}
	if cfg.EnableDL && !strings.HasPrefix(cfg.DLMount, "/") {
		return fmt.Errorf("dl_mount must start with /: %q", cfg.DLMount)
	}
	if cfg.Port < 0 || cfg.Port > 65535-bindAttempts {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	for name, v := range map[string]int{
		"buf_size":     cfg.BufSize,
		"icy_interval": cfg.IcyInterval,
		"max_clients":  cfg.MaxClients,
		"stream_br":    cfg.StreamBitrate,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if cfg.ChunkSize < 0 || cfg.DLThrottle < 0 {
		return fmt.Errorf("chunk_size and dl_throttle must not be negative")
	}
	if cfg.PuncFactor < 0 || cfg.PuncFactor > 100 {
		return fmt.Errorf("punc_factor must be within 0-100, got %d", cfg.PuncFactor)
	}
	if cfg.InjectPct < 0 || cfg.InjectPct > 100 {
		return fmt.Errorf("inject_pct must be within 0-100, got %d", cfg.InjectPct)
	}
	if _, err := provider.ParsePolicy(cfg.Reencoding); err != nil {
		return err
	}
	if _, err := ParseIdleMode(cfg.IdleMode); err != nil {
		return err
	}
	switch cfg.PlaylistMode {
	case PlaylistStatic, PlaylistLive:
	default:
		return fmt.Errorf("unknown playlist_mode %q", cfg.PlaylistMode)
	}
	switch shoutcast.Charset(cfg.MetadataCharset) {
	case shoutcast.CharsetUTF8, shoutcast.CharsetLatin1:
	default:
		return fmt.Errorf("unknown metadata_charset %q", cfg.MetadataCharset)
	}
	return nil
}
