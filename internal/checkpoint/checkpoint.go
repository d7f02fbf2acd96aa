// Package checkpoint periodically persists a market's full state to
// local disk as a gob file, independent of whatever the host chain
// itself durably commits — useful for warm-restarting the engine
// process without replaying every instruction from genesis.
//
// Adapted from the teacher's snapshot package: same gob-encode-to-file
// shape, generalized from walking an orderbook.OrderBook's price
// levels to copying the hypertree's region.Region wholesale (the
// region is already one flat slice of fixed-size slots, so there is
// no tree to walk — every live and free slot round-trips as-is).
package checkpoint

import (
	"encoding/gob"
	"os"
	"path/filepath"

	"hypertree/pkg/market"
	"hypertree/pkg/region"
)

// Snapshot is the on-disk checkpoint format.
type Snapshot struct {
	Header market.Header
	Region region.Snapshot
}

type Writer struct {
	Dir string
}

func (w *Writer) Write(m *market.Market) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(w.Dir, "market.ckpt")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	s := Snapshot{Header: m.Header, Region: m.Region.Snapshot()}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

type Reader struct {
	Dir string
}

// Load reconstructs a Market from the last checkpoint written to Dir.
// Returns os.ErrNotExist if none was ever written (the caller falls
// back to an empty market plus whatever replay mechanism the host
// provides).
func (r *Reader) Load() (*market.Market, error) {
	path := filepath.Join(r.Dir, "market.ckpt")
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, err
	}
	return market.RestoreMarket(s.Header, s.Region), nil
}
