package cmn

import (
	"sync"
	"time"

	"github.com/theater-rt/theater/cmn/cos"
)

// Config is the process-wide configuration: one struct, every timeout
// expressed as cos.Duration, swapped atomically through a global owner
// (GCO) rather than mutated in place so a reader never observes a
// half-updated config.
type Config struct {
	Timeout  TimeoutConf  `json:"timeout"`
	Mailbox  MailboxConf  `json:"mailbox"`
	Store    StoreConf    `json:"store"`
	Features FeaturesConf `json:"features"`
	Server   ServerConf   `json:"server"`
}

type TimeoutConf struct {
	// Operation is the default per-call deadline on the operation mailbox.
	Operation cos.Duration `json:"operation"`
	// ShutdownGrace bounds how long Stopping waits for in-flight operations
	// to drain before aborting them.
	ShutdownGrace cos.Duration `json:"shutdown_grace"`
	// CplaneOperation is a budget for control-plane round trips (spawn,
	// stop, subscribe); no code path reads it, so those calls are not
	// bounded by it.
	CplaneOperation cos.Duration `json:"cplane_operation"`
}

type MailboxConf struct {
	OperationSize int `json:"operation_size"`
	ControlSize   int `json:"control_size"`
	InfoSize      int `json:"info_size"`
}

type StoreConf struct {
	RootDir string `json:"root_dir"`
}

type FeaturesConf struct {
	// ComponentUpdate gates the live UpdateComponent operation.
	ComponentUpdate bool `json:"component_update"`
}

// ServerConf bounds the management protocol's listener.
type ServerConf struct {
	ListenAddr string `json:"listen_addr"`
	// MaxFrameBytes caps a single request/response frame; a larger
	// declared length is refused before any body is read.
	MaxFrameBytes int `json:"max_frame_bytes"`
}

func DefaultConfig() *Config {
	return &Config{
		Timeout: TimeoutConf{
			Operation:       cos.Duration(50 * time.Minute),
			ShutdownGrace:   cos.Duration(10 * time.Second),
			CplaneOperation: cos.Duration(5 * time.Second),
		},
		Mailbox: MailboxConf{
			OperationSize: 64,
			ControlSize:   8,
			InfoSize:      32,
		},
		Store: StoreConf{
			RootDir: "./theater-store",
		},
		Features: FeaturesConf{
			ComponentUpdate: false,
		},
		Server: ServerConf{
			ListenAddr:    ":9700",
			MaxFrameBytes: 32 << 20,
		},
	}
}

// globalConfigOwner (GCO) holds the live config behind a mutex, and hands
// out BeginUpdate/CommitUpdate so a caller can build a modified copy and
// swap it in atomically, never leaving a reader holding a
// half-applied config.
type globalConfigOwner struct {
	mu   sync.RWMutex
	cfg  *Config
	copy *Config
}

var GCO = &globalConfigOwner{cfg: DefaultConfig()}

func (o *globalConfigOwner) Get() *Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// BeginUpdate returns a private copy the caller can mutate freely; nothing
// observes it until CommitUpdate.
func (o *globalConfigOwner) BeginUpdate() *Config {
	o.mu.Lock()
	c := *o.cfg
	o.copy = &c
	return o.copy
}

func (o *globalConfigOwner) CommitUpdate(config *Config) {
	defer o.mu.Unlock()
	if config != o.copy {
		return
	}
	o.cfg = config
	o.copy = nil
}

func (o *globalConfigOwner) DiscardUpdate() {
	o.copy = nil
	o.mu.Unlock()
}
