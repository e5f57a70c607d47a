package agent

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/m-marini/wheellyj-sub008/coreerr"
	"github.com/m-marini/wheellyj-sub008/kpi"
	"github.com/m-marini/wheellyj-sub008/network"
	"github.com/m-marini/wheellyj-sub008/signal"
)

// descriptor is the JSON shape of agent.yml (spec §6).
type descriptor struct {
	Variant      string             `json:"variant"`
	RewardAlpha  float64            `json:"rewardAlpha"`
	Eta          float64            `json:"eta"`
	Lambda       float64            `json:"lambda"`
	NumSteps     int                `json:"numSteps"`
	NumEpochs    int                `json:"numEpochs"`
	BatchSize    int                `json:"batchSize"`
	PPOEpsilon   float64            `json:"ppoEpsilon"`
	Alphas       map[string]float64 `json:"alphas"`
	State        signal.SpecMap     `json:"state"`
	Actions      signal.SpecMap     `json:"actions"`
	Network      json.RawMessage    `json:"network"`
	InputProcess interface{}        `json:"inputProcess,omitempty"`
}

// parseVariant is the inverse of Variant.String, used by Load to
// recover which batch training kernel a persisted agent.yml names.
func parseVariant(s string) (Variant, error) {
	switch s {
	case PPO.String():
		return PPO, nil
	case TDSingleNN.String():
		return TDSingleNN, nil
	default:
		return 0, fmt.Errorf("agent: unknown variant %q: %w", s, coreerr.ConfigError)
	}
}

func (a *Agent) buildDescriptor() descriptor {
	d := descriptor{
		Variant:     a.variant.String(),
		RewardAlpha: a.cfg.RewardAlpha,
		Eta:         a.cfg.Eta,
		Lambda:      a.cfg.Lambda,
		NumSteps:    a.cfg.NumSteps,
		NumEpochs:   a.cfg.NumEpochs,
		BatchSize:   a.cfg.BatchSize,
		PPOEpsilon:  a.cfg.PPOEpsilon,
		Alphas:      a.cfg.Alphas,
		State:       a.cfg.StateSpec,
		Actions:     a.cfg.ActionSpec,
		Network:     a.net.Topology(),
	}
	if _, ok := a.cfg.Processor.(IdentityProcessor); !ok {
		d.InputProcess = a.cfg.Processor.Descriptor()
	}
	return d
}

// Save serializes the JSON descriptor and the raw parameter block to
// <path>/agent.yml and <path>/agent.bin. Before the first overwrite of
// the Agent's lifetime, any pre-existing files are renamed to a
// timestamped backup (spec §4.5, §6).
func (a *Agent) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.backedUp {
		if _, err := os.Stat(filepath.Join(a.cfg.ModelPath, "agent.yml")); err == nil {
			if err := a.renameToBackup(); err != nil {
				return err
			}
			a.backedUp = true
		}
	}
	return a.writeModel()
}

// Backup unconditionally renames the current live files to a new
// timestamped backup, then writes a fresh Save (spec §4.5).
func (a *Agent) Backup() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.renameToBackup(); err != nil {
		return err
	}
	a.backedUp = true
	return a.writeModel()
}

func (a *Agent) renameToBackup() error {
	yml := filepath.Join(a.cfg.ModelPath, "agent.yml")
	bin := filepath.Join(a.cfg.ModelPath, "agent.bin")
	if _, err := os.Stat(yml); err != nil {
		return nil
	}
	stamp := time.Now().Format("20060102-150405")
	if err := os.Rename(yml, filepath.Join(a.cfg.ModelPath, fmt.Sprintf("agent-%s.yml", stamp))); err != nil {
		return fmt.Errorf("agent: backup rename %q: %w: %v", yml, coreerr.IOError, err)
	}
	if _, err := os.Stat(bin); err == nil {
		if err := os.Rename(bin, filepath.Join(a.cfg.ModelPath, fmt.Sprintf("agent-%s.bin", stamp))); err != nil {
			return fmt.Errorf("agent: backup rename %q: %w: %v", bin, coreerr.IOError, err)
		}
	}
	return nil
}

func (a *Agent) writeModel() error {
	if err := os.MkdirAll(a.cfg.ModelPath, 0o755); err != nil {
		return fmt.Errorf("agent: mkdir %q: %w: %v", a.cfg.ModelPath, coreerr.IOError, err)
	}

	desc := a.buildDescriptor()
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("agent: marshal descriptor: %w", err)
	}
	ymlPath := filepath.Join(a.cfg.ModelPath, "agent.yml")
	if err := os.WriteFile(ymlPath, data, 0o644); err != nil {
		return fmt.Errorf("agent: write %q: %w: %v", ymlPath, coreerr.IOError, err)
	}

	binPath := filepath.Join(a.cfg.ModelPath, "agent.bin")
	params := a.net.Parameters()
	entries := make([]namedEntry, 0, len(params)+1)
	entries = append(entries, namedEntry{name: "avgReward", shape: []int{1}, data: []float32{float32(a.adv.AvgReward())}})
	for _, p := range params {
		entries = append(entries, namedEntry{name: p.Name, shape: p.Value.Shape(), data: p.Value.Data()})
	}
	if err := writeNamedEntries(binPath, entries); err != nil {
		return err
	}
	return nil
}

// namedEntry is one record of agent.bin's sequence of named ND
// arrays (spec §6): uint16 name_len, name bytes, int32 rank, rank ×
// int64 shape, N × float32 payload.
type namedEntry struct {
	name  string
	shape []int
	data  []float32
}

func writeNamedEntries(path string, entries []namedEntry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("agent: create %q: %w: %v", path, coreerr.IOError, err)
	}
	defer f.Close()

	for _, e := range entries {
		nameBytes := []byte(e.name)
		if err := binary.Write(f, binary.BigEndian, uint16(len(nameBytes))); err != nil {
			return fmt.Errorf("agent: write %q name len: %w: %v", path, coreerr.IOError, err)
		}
		if _, err := f.Write(nameBytes); err != nil {
			return fmt.Errorf("agent: write %q name: %w: %v", path, coreerr.IOError, err)
		}
		if err := binary.Write(f, binary.BigEndian, int32(len(e.shape))); err != nil {
			return fmt.Errorf("agent: write %q rank: %w: %v", path, coreerr.IOError, err)
		}
		for _, d := range e.shape {
			if err := binary.Write(f, binary.BigEndian, int64(d)); err != nil {
				return fmt.Errorf("agent: write %q shape: %w: %v", path, coreerr.IOError, err)
			}
		}
		buf := make([]byte, len(e.data)*4)
		for i, v := range e.data {
			binary.BigEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
		}
		if _, err := f.Write(buf); err != nil {
			return fmt.Errorf("agent: write %q payload: %w: %v", path, coreerr.IOError, err)
		}
	}
	return nil
}

// readNamedEntries parses agent.bin back into its entries, used by
// LoadParams; kept alongside writeNamedEntries since both sides of the
// format belong together.
func readNamedEntries(path string) ([]namedEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent: read %q: %w: %v", path, coreerr.IOError, err)
	}
	var entries []namedEntry
	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			return nil, fmt.Errorf("agent: %q truncated at name length: %w", path, coreerr.IOError)
		}
		nameLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+nameLen > len(data) {
			return nil, fmt.Errorf("agent: %q truncated at name: %w", path, coreerr.IOError)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		if pos+4 > len(data) {
			return nil, fmt.Errorf("agent: %q truncated at rank: %w", path, coreerr.IOError)
		}
		rank := int(int32(binary.BigEndian.Uint32(data[pos : pos+4])))
		pos += 4
		shape := make([]int, rank)
		for i := 0; i < rank; i++ {
			if pos+8 > len(data) {
				return nil, fmt.Errorf("agent: %q truncated at shape: %w", path, coreerr.IOError)
			}
			shape[i] = int(int64(binary.BigEndian.Uint64(data[pos : pos+8])))
			pos += 8
		}
		n := 1
		for _, d := range shape {
			n *= d
		}
		values := make([]float32, n)
		for i := 0; i < n; i++ {
			if pos+4 > len(data) {
				return nil, fmt.Errorf("agent: %q truncated at payload: %w", path, coreerr.IOError)
			}
			values[i] = math.Float32frombits(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
		}
		entries = append(entries, namedEntry{name: name, shape: shape, data: values})
	}
	return entries, nil
}

// LoadParams restores avg_reward and the network's parameter block
// from an existing <path>/agent.bin, the inverse of the parameter
// half of Save. The JSON descriptor is assumed already reflected in
// the Agent's Config (state/action specs, hyperparameters); only the
// binary parameter blob is round-tripped here.
func (a *Agent) LoadParams() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	binPath := filepath.Join(a.cfg.ModelPath, "agent.bin")
	entries, err := readNamedEntries(binPath)
	if err != nil {
		return err
	}

	paramBlock := make([]byte, 0, len(entries)*4)
	for _, e := range entries {
		if e.name == "avgReward" {
			if len(e.data) != 1 {
				return fmt.Errorf("agent: %q avgReward entry has %d values, want 1: %w", binPath, len(e.data), coreerr.ShapeMismatch)
			}
			a.adv.SetAvgReward(float64(e.data[0]))
			continue
		}
		paramBlock = appendNamedEntry(paramBlock, e)
	}
	if err := a.net.UnmarshalParams(paramBlock); err != nil {
		return fmt.Errorf("agent: network unmarshal params: %w", err)
	}
	return nil
}

// Load reconstructs an Agent from a persisted agent.yml/agent.bin pair
// under modelPath: the JSON descriptor is parsed into a Config, handed
// verbatim (as json.RawMessage) to net's own UnmarshalTopology, and the
// resulting Agent's parameters are restored from agent.bin via
// LoadParams (spec §6's save/load round trip).
//
// net must already be wired to the same concrete Network
// implementation the descriptor's topology blob was produced by; Load
// only deserializes into it, it does not construct one.
func Load(modelPath string, net network.Network, publisher *kpi.Publisher) (*Agent, error) {
	ymlPath := filepath.Join(modelPath, "agent.yml")
	data, err := os.ReadFile(ymlPath)
	if err != nil {
		return nil, fmt.Errorf("agent: read %q: %w: %v", ymlPath, coreerr.MissingDataset, err)
	}
	var desc descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("agent: unmarshal %q: %w", ymlPath, err)
	}
	variant, err := parseVariant(desc.Variant)
	if err != nil {
		return nil, err
	}
	if err := net.UnmarshalTopology(desc.Network); err != nil {
		return nil, fmt.Errorf("agent: network unmarshal topology: %w", err)
	}

	cfg := Config{
		StateSpec:   desc.State,
		ActionSpec:  desc.Actions,
		RewardAlpha: desc.RewardAlpha,
		Eta:         desc.Eta,
		Alphas:      desc.Alphas,
		Lambda:      desc.Lambda,
		NumSteps:    desc.NumSteps,
		NumEpochs:   desc.NumEpochs,
		BatchSize:   desc.BatchSize,
		PPOEpsilon:  desc.PPOEpsilon,
		ModelPath:   modelPath,
	}
	a, err := New(cfg, variant, net, publisher)
	if err != nil {
		return nil, fmt.Errorf("agent: rebuild config from %q: %w", ymlPath, err)
	}
	if err := a.LoadParams(); err != nil {
		return nil, err
	}
	return a, nil
}

// appendNamedEntry re-encodes one entry back into the wire layout, so
// the non-avgReward entries can be handed to the Network collaborator
// as one contiguous block via UnmarshalParams.
func appendNamedEntry(buf []byte, e namedEntry) []byte {
	nameBytes := []byte(e.name)
	head := make([]byte, 2+len(nameBytes)+4+8*len(e.shape))
	binary.BigEndian.PutUint16(head[0:2], uint16(len(nameBytes)))
	copy(head[2:], nameBytes)
	off := 2 + len(nameBytes)
	binary.BigEndian.PutUint32(head[off:off+4], uint32(int32(len(e.shape))))
	off += 4
	for _, d := range e.shape {
		binary.BigEndian.PutUint64(head[off:off+8], uint64(int64(d)))
		off += 8
	}
	buf = append(buf, head...)
	payload := make([]byte, len(e.data)*4)
	for i, v := range e.data {
		binary.BigEndian.PutUint32(payload[i*4:i*4+4], math.Float32bits(v))
	}
	return append(buf, payload...)
}
