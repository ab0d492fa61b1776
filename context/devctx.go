// Package devctx wires every collaborator named in §9's "global singletons"
// into one construction/teardown entry point — the Carrier Allocator, the
// Hidden-Sector Map, the persistent B+ Tree, the hidden/public pipelines and
// the Map Recovery Scanner — the way the teacher's core.Drand bundles key
// store, DKG handler and network gateway behind one NewDrand constructor
// instead of package-level globals.
package devctx

import (
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/sandeepkiranp/pd-linux/bptree"
	"github.com/sandeepkiranp/pd-linux/carrierio"
	"github.com/sandeepkiranp/pd-linux/cipher"
	"github.com/sandeepkiranp/pd-linux/config"
	"github.com/sandeepkiranp/pd-linux/device"
	"github.com/sandeepkiranp/pd-linux/dmerr"
	"github.com/sandeepkiranp/pd-linux/freelist"
	"github.com/sandeepkiranp/pd-linux/hiddenmap"
	"github.com/sandeepkiranp/pd-linux/ivgen"
	"github.com/sandeepkiranp/pd-linux/ivslot"
	"github.com/sandeepkiranp/pd-linux/log"
	"github.com/sandeepkiranp/pd-linux/metrics"
	"github.com/sandeepkiranp/pd-linux/pipeline"
	"github.com/sandeepkiranp/pd-linux/recovery"
)

// DefaultTreeOrder is the B+ tree fan-out used when none is configured,
// §3's default, inside the allowed 3..20 range.
const DefaultTreeOrder = 16

// publicKeyLabel domain-separates the public data key from the hidden key.
// §4.7 requires the two to be distinct; §6's construction interface names
// only one `key` field, so the public key is derived rather than supplied
// separately (see DESIGN.md's Open Question decision on this).
const publicKeyLabel = "pd-linux/public-data-key/v1"

// Context is the fully wired device context: the live collaborators backing
// one mapped device, built once at construction (or resume) and torn down
// at suspend.
type Context struct {
	Config  *config.Config
	Device  device.Device
	Logger  log.Logger
	Metrics *metrics.Metrics

	Free  *freelist.List
	Map   *hiddenmap.Map
	Tree  *bptree.Tree
	Codec *carrierio.Codec

	Pipeline *pipeline.Pipeline
	Scanner  *recovery.Scanner
}

// New resolves cfg's cipher/IV configuration against dev, recovers the
// Hidden-Sector Map (§4.8, fast path via the tree when its root already
// exists, full scan otherwise), and builds the pipeline ready to serve
// hidden and public I/O.
func New(ctx context.Context, cfg *config.Config, dev device.Device, logger log.Logger) (*Context, error) {
	if cfg == nil {
		return nil, fmt.Errorf("devctx: nil configuration")
	}
	if cfg.Key.None || cfg.Key.Keyring {
		return nil, fmt.Errorf("%w: construction requires resolved key material, not a keyring reference or placeholder", dmerr.ErrKeyInvalid)
	}
	if logger == nil {
		logger = log.DefaultLogger()
	}
	m := metrics.New(logger)

	// The hidden-sector engine always pins carrier IV generation to the
	// "plain" family over the carrier sector number (§4.5 step 4), regardless
	// of what ivmode the construction cipher_spec names — that field governs
	// the public-data path only. Wiring cfg's configured family in here would
	// make a device configured with, say, "random" permanently undecryptable.
	hiddenGen, err := buildGenerator(ivgen.Plain, cfg.Key.Bytes)
	if err != nil {
		return nil, fmt.Errorf("devctx: building hidden-slot IV generator: %w", err)
	}
	slotCipher := cipher.AESCTRSlotCipher{}
	codec := &carrierio.Codec{Dev: dev, Key: cfg.Key.Bytes, Slot: slotCipher, Gen: hiddenGen}

	total, err := dev.SectorCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("devctx: reading sector count: %w", err)
	}
	free := freelist.New()
	free.AddRange(0, total)

	// Sector 0 is the well-known metadata-region root (§4.4/§6): on a fresh
	// device it must be reserved for the tree's first root node before any
	// other carrier allocation can claim it, or the root ends up wherever
	// the free list's first run happens to be and "root initialized" can
	// never be detected again after a reopen.
	store := bptree.NewDeviceNodeStore(codec, free)
	rootExists := true
	if _, err := store.ReadNode(ctx, 0); err != nil {
		rootExists = false
	}
	if !rootExists {
		free.Remove(0, ivslot.N)
	}
	order := DefaultTreeOrder
	tree, err := bptree.New(store, order, 0, rootExists)
	if err != nil {
		return nil, fmt.Errorf("devctx: building persistent tree: %w", err)
	}

	scanner := &recovery.Scanner{Dev: dev, Key: cfg.Key.Bytes, Slot: slotCipher, Gen: hiddenGen, Metrics: m, Logger: logger}
	hmap, err := recovery.Recover(ctx, rootExists, tree, dev, cfg.Key.Bytes, slotCipher, hiddenGen, scanner)
	if err != nil {
		return nil, fmt.Errorf("devctx: recovering hidden map: %w", err)
	}

	// Every recovered carrier run, and every one of the tree's own node
	// runs (root, inner, and leaf — not just the root), is already live;
	// the free list must not offer any of them up for a fresh allocation.
	for _, entry := range hmap.Snapshot() {
		free.Remove(entry.Physical, ivslot.N)
	}
	if rootExists {
		nodeSectors, err := tree.AllSectors(ctx)
		if err != nil {
			return nil, fmt.Errorf("devctx: walking persistent tree nodes: %w", err)
		}
		for _, s := range nodeSectors {
			free.Remove(uint64(s), ivslot.N)
		}
	}
	m.SetFreeCarrierSectors(free.Len())
	m.SetHiddenMapEntries(hmap.Len())

	publicKey := derivePublicKey(cfg.Key.Bytes)
	publicFamily := ivgen.Family(cfg.Cipher.IVMode)
	if publicFamily == "" {
		publicFamily = ivgen.Plain
	}
	publicGen, err := buildGenerator(publicFamily, publicKey)
	if err != nil {
		return nil, fmt.Errorf("devctx: building public-data IV generator: %w", err)
	}

	pl := pipeline.New(codec, dev, hmap, free, tree, publicKey, cipher.AESCTRDataCipher{}, cipher.AESGCMDataAEAD{}, publicGen, m, logger)

	return &Context{
		Config:   cfg,
		Device:   dev,
		Logger:   logger,
		Metrics:  m,
		Free:     free,
		Map:      hmap,
		Tree:     tree,
		Codec:    codec,
		Pipeline: pl,
		Scanner:  scanner,
	}, nil
}

// buildGenerator builds and, for families that need it, keys the named
// ivgen.Family.
func buildGenerator(family ivgen.Family, key []byte) (ivgen.Generator, error) {
	gen, err := ivgen.New(family, 0)
	if err != nil {
		return nil, err
	}
	if initer, ok := gen.(ivgen.Initializer); ok {
		if err := initer.Init(key); err != nil {
			return nil, fmt.Errorf("initializing %q IV family: %w", family, err)
		}
	}
	return gen, nil
}

// derivePublicKey produces the public-data key required to be distinct from
// the hidden key (§4.7), via fixed domain-separated hashing of the one key
// the construction interface supplies.
func derivePublicKey(hiddenKey []byte) []byte {
	h := sha256.New()
	h.Write([]byte(publicKeyLabel))
	h.Write(hiddenKey)
	sum := h.Sum(nil)
	return sum
}

// ApplyControlMessage applies a parsed "key set"/"key wipe" control message
// (§6) to the live configuration. It does not check whether the device is
// suspended and never refuses a message: it applies the change even while
// requests are still being issued through Pipeline.
func (c *Context) ApplyControlMessage(msg *config.ControlMessage) {
	msg.Apply(c.Config)
}

// Close tears down the context's resources. The underlying Device is owned
// by the caller and is not closed here.
func (c *Context) Close(ctx context.Context) error {
	if c.Metrics == nil {
		return nil
	}
	return c.Metrics.Shutdown(ctx)
}
