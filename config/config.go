// Package config holds the BDV server's process-wide, immutable-after-init
// configuration, parsed by go-flags following the teacher's cmd/*/config.go
// shape.
package config

import (
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// DBType selects the on-disk schema variant for the KV store (spec.md §4.1).
type DBType string

// Supported database types.
const (
	DBTypeFull  DBType = "full"
	DBTypeSuper DBType = "supernode"
)

// Default tuning constants carried over from the original implementation
// (original_source/cppForSwig/ZeroConf.h).
const (
	DefaultMempoolDepth       = 4
	DefaultPoolMergeThreshold = 10000
	DefaultPreprocessWorkers  = 5
	DefaultZCBufferLifetimeMS = 1000
	DefaultZCBufferSize       = 30
	DefaultBroadcastTimeoutMS = 5000
	DefaultSessionWorkers     = 2
	DefaultNotifyWorkers      = 2
	DefaultShutdownCookieLen  = 32
)

const (
	defaultLogFilename    = "bdvserver.log"
	defaultErrLogFilename = "bdvserver_err.log"
)

// Config is the fully parsed, validated, immutable server configuration.
type Config struct {
	DataDir        string `long:"datadir" description:"Directory holding the KV store" required:"true"`
	BlockFilesDir  string `long:"blockfiles" description:"Directory containing raw block .dat files" required:"true"`
	DBType         string `long:"dbtype" description:"Database type: full or supernode" default:"full"`
	NetworkMagic   string `long:"netmagic" description:"4-byte network magic, hex encoded" required:"true"`
	ListenAddr     string `long:"listen" description:"Address the BDV transport listens on" default:"127.0.0.1:9001"`
	HealthAddr     string `long:"healthaddr" description:"Address the healthz HTTP endpoint listens on" default:"127.0.0.1:9002"`
	RPCFallbackURL string `long:"rpcfallback" description:"JSON-RPC endpoint used to submit broadcasts the P2P layer times out on"`

	PreprocessWorkers  int `long:"preprocess-workers" description:"Number of ZC preprocess workers" default:"5"`
	SessionWorkers     int `long:"session-workers" description:"Number of session packet workers" default:"2"`
	NotifyWorkers      int `long:"notify-workers" description:"Number of notification fan-out workers" default:"2"`
	MempoolDepth       int `long:"mempool-depth" description:"Mempool snapshot depth" default:"4"`
	PoolMergeThreshold int `long:"pool-merge-threshold" description:"Merge count above which a snapshot copy becomes a full rebuild" default:"10000"`
	ZCBufferLifetimeMS int `long:"zc-buffer-lifetime-ms" description:"Watcher-inv buffer flush age trigger" default:"1000"`
	ZCBufferSize       int `long:"zc-buffer-size" description:"Watcher-inv buffer flush size trigger" default:"30"`
	BroadcastTimeoutMS int `long:"broadcast-timeout-ms" description:"Default broadcast batch timeout" default:"5000"`

	DebugLevel string `long:"debuglevel" description:"Logging level, or SUBSYS=level,SUBSYS=level,..." default:"info"`
	LogDir     string `long:"logdir" description:"Directory for log files"`
}

// Load parses os.Args (via go-flags) into a validated Config.
func Load(appDataDir string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	_, err := parser.Parse()
	if err != nil {
		return nil, err
	}

	if cfg.DBType != string(DBTypeFull) && cfg.DBType != string(DBTypeSuper) {
		return nil, errors.Errorf("--dbtype must be %q or %q, got %q", DBTypeFull, DBTypeSuper, cfg.DBType)
	}
	if len(cfg.NetworkMagic) != 8 {
		return nil, errors.New("--netmagic must be exactly 4 bytes, hex encoded")
	}
	if cfg.PreprocessWorkers <= 0 {
		cfg.PreprocessWorkers = DefaultPreprocessWorkers
	}
	if cfg.SessionWorkers <= 0 {
		cfg.SessionWorkers = DefaultSessionWorkers
	}
	if cfg.NotifyWorkers <= 0 {
		cfg.NotifyWorkers = DefaultNotifyWorkers
	}
	if cfg.MempoolDepth <= 0 {
		cfg.MempoolDepth = DefaultMempoolDepth
	}
	if cfg.PoolMergeThreshold <= 0 {
		cfg.PoolMergeThreshold = DefaultPoolMergeThreshold
	}
	if cfg.LogDir == "" {
		cfg.LogDir = appDataDir
	}

	return cfg, nil
}

// LogFilePaths returns the (log, errlog) file paths derived from LogDir.
func (c *Config) LogFilePaths() (string, string) {
	return filepath.Join(c.LogDir, defaultLogFilename), filepath.Join(c.LogDir, defaultErrLogFilename)
}
