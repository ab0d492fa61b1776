package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/atomic"

	"github.com/sandeepkiranp/pd-linux/bptree"
	"github.com/sandeepkiranp/pd-linux/carrierio"
	"github.com/sandeepkiranp/pd-linux/cipher"
	"github.com/sandeepkiranp/pd-linux/device"
	"github.com/sandeepkiranp/pd-linux/dmerr"
	"github.com/sandeepkiranp/pd-linux/freelist"
	"github.com/sandeepkiranp/pd-linux/hiddenmap"
	"github.com/sandeepkiranp/pd-linux/ivgen"
	"github.com/sandeepkiranp/pd-linux/ivslot"
	"github.com/sandeepkiranp/pd-linux/log"
	"github.com/sandeepkiranp/pd-linux/metrics"
)

// Pipeline wires every collaborator the hidden and public write/read
// pipelines need: the hidden-key carrier codec, the device, the Hidden-Sector
// Map, the Carrier Allocator, the B+ Tree persisting the Map, the public-key
// cipher, and the logging/metrics sinks.
type Pipeline struct {
	Hidden *carrierio.Codec
	Dev    device.Device
	Map    *hiddenmap.Map
	Free   *freelist.List
	Tree   *bptree.Tree

	PublicKey    []byte
	PublicData   cipher.DataCipher
	PublicAEAD   cipher.DataAEAD
	PublicNonces ivgen.Generator

	Metrics *metrics.Metrics
	Logger  log.Logger

	requestsInFlight atomic.Int64
}

// New builds a Pipeline from its collaborators. publicData drives the
// default (hidden-engine-enabled) public write path; publicAEAD is used only
// by PublicWriteAEAD, for deployments that disable the hidden-sector engine
// entirely and want authenticated public sectors instead (§6).
func New(
	hidden *carrierio.Codec,
	dev device.Device,
	m *hiddenmap.Map,
	free *freelist.List,
	tree *bptree.Tree,
	publicKey []byte,
	publicData cipher.DataCipher,
	publicAEAD cipher.DataAEAD,
	publicNonces ivgen.Generator,
	met *metrics.Metrics,
	logger log.Logger,
) *Pipeline {
	return &Pipeline{
		Hidden:       hidden,
		Dev:          dev,
		Map:          m,
		Free:         free,
		Tree:         tree,
		PublicKey:    publicKey,
		PublicData:   publicData,
		PublicAEAD:   publicAEAD,
		PublicNonces: publicNonces,
		Metrics:      met,
		Logger:       logger,
	}
}

// InFlight returns the number of pipeline requests currently executing,
// tracked with an atomic counter since requests run on arbitrary goroutines.
func (p *Pipeline) InFlight() int64 {
	return p.requestsInFlight.Load()
}

func (p *Pipeline) enter() *requestState {
	p.requestsInFlight.Inc()
	return newRequestState(p.Logger, p.Metrics)
}

func (p *Pipeline) leave() {
	p.requestsInFlight.Dec()
}

// HiddenWrite implements §4.5: the Hidden Write Pipeline. It resolves
// whether logicalSector already owns a carrier run (reusing it and
// preserving its public_counter values) or must allocate a fresh one,
// splices/encrypts plaintext into the carriers, and only then persists the
// Hidden-Sector Map entry — rolling the in-memory Map back if the B+ Tree
// persist step fails, per the ordering rule in §4.5 step 6.
func (p *Pipeline) HiddenWrite(ctx context.Context, logicalSector uint32, plaintext []byte) error {
	rs := p.enter()
	defer p.leave()
	defer rs.done()

	if len(plaintext) != ivslot.SectorSize {
		err := fmt.Errorf("pipeline: hidden write plaintext must be %d bytes, got %d", ivslot.SectorSize, len(plaintext))
		rs.fail(err)
		return err
	}

	rs.advance(stagePreRead)
	previous, hadPrevious := p.Map.Find(logicalSector)

	var head uint64
	var counters carrierio.PublicCounters
	if hadPrevious && previous.Reuse {
		head = previous.Physical
		_, _, _, preCounters, err := p.Hidden.ReadRun(ctx, head)
		if err != nil {
			if p.Logger != nil {
				p.Logger.Warnw("pipeline: pre-read of reused carrier run failed, writing fresh counters",
					"logical_sector", logicalSector, "head", head, "err", err)
			}
		} else {
			counters = preCounters
		}
	} else {
		allocated, err := p.Free.AllocateRun(ivslot.N)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.NoCarriersFailure()
			}
			rs.fail(err)
			return fmt.Errorf("pipeline: hidden write logical sector %d: %w", logicalSector, err)
		}
		if p.Metrics != nil {
			p.Metrics.CarrierAllocated()
		}
		head = allocated
	}

	sequence := uint16(1)
	if hadPrevious {
		sequence = previous.Sequence + 1
	}

	rs.advance(stageSplice)
	rs.advance(stageEncrypt)
	rs.advance(stageSubmit)
	if err := p.Hidden.WriteRun(ctx, head, plaintext, logicalSector, sequence, counters); err != nil {
		rs.fail(err)
		return fmt.Errorf("pipeline: hidden write logical sector %d: %w", logicalSector, err)
	}

	p.Map.Insert(logicalSector, head, &sequence, true, p.Free)

	if p.Tree != nil {
		if err := p.Tree.Insert(ctx, logicalSector, treeValue(head)); err != nil {
			p.Map.Rollback(logicalSector, previous, hadPrevious)
			if p.Metrics != nil {
				p.Metrics.HiddenWriteRolledBack()
			}
			rs.fail(err)
			return fmt.Errorf("pipeline: hidden write logical sector %d: persisting map entry: %w", logicalSector, err)
		}
	}

	if p.Metrics != nil {
		p.Metrics.HiddenWrite()
		p.Metrics.SetFreeCarrierSectors(p.Free.Len())
		p.Metrics.SetHiddenMapEntries(p.Map.Len())
	}
	return nil
}

// HiddenRead implements §4.6: the Hidden Read Pipeline. A logical sector with
// no Map entry returns an indeterminate 512-byte buffer rather than an
// error, the design's core deniability property (§4.6 "there is nothing on
// disk to distinguish an empty hidden sector from unused carrier space").
// A present entry whose carriers no longer agree with the Map (reclaimed by
// a public write) reports dmerr.ErrStaleHidden.
func (p *Pipeline) HiddenRead(ctx context.Context, logicalSector uint32) ([]byte, error) {
	rs := p.enter()
	defer p.leave()
	defer rs.done()

	rs.advance(stagePreRead)
	entry, ok := p.Map.Find(logicalSector)
	if !ok {
		buf, err := cipher.RandomBytes(ivslot.SectorSize)
		if err != nil {
			rs.fail(err)
			return nil, err
		}
		return buf, nil
	}

	rs.advance(stageSubmit)
	plaintext, gotLogical, gotSequence, _, err := p.Hidden.ReadRun(ctx, entry.Physical)
	if err != nil {
		rs.fail(err)
		return nil, fmt.Errorf("pipeline: hidden read logical sector %d: %w", logicalSector, err)
	}
	if gotLogical != logicalSector || gotSequence != entry.Sequence {
		if p.Metrics != nil {
			p.Metrics.StaleHiddenRead()
		}
		rs.fail(dmerr.ErrStaleHidden)
		return nil, dmerr.ErrStaleHidden
	}

	if p.Metrics != nil {
		p.Metrics.HiddenRead()
	}
	return plaintext, nil
}

// treeValue narrows a physical carrier-run head sector to the uint32 value
// space the B+ tree stores. Carrier heads are always addressed within the
// device's first 2^32 sectors for any realistically sized volume this module
// targets; a device exceeding that would need a wider tree value, out of
// scope here.
func treeValue(head uint64) uint32 {
	return uint32(head)
}
