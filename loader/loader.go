// Package loader reads interference relations and packing instances from
// files. It only converts formats; all validation beyond syntax happens in
// constraint.New and packing.Domains.Validate.
package loader

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"stationpacking/constraint"
	"stationpacking/packing"
)

var offsetKeys = map[string]constraint.Offset{
	"CO":    constraint.CoChannel,
	"ADJ+1": constraint.AdjPlusOne,
	"ADJ+2": constraint.AdjPlusTwo,
}

// ReadInterferenceCSV reads rows of the form
//
//	KEY,LOW,HIGH,SUBJECT,TARGET[,TARGET...]
//
// where KEY is CO, ADJ+1 or ADJ+2: SUBJECT on any channel c in [LOW, HIGH]
// forbids each TARGET on c+offset.
func ReadInterferenceCSV(r io.Reader) ([]constraint.Interference, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var out []constraint.Interference
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, errors.Wrapf(packing.ErrMalformed, "line %d: %v", line, err)
		}
		if len(rec) < 5 {
			return nil, errors.Wrapf(packing.ErrMalformed, "line %d: want at least 5 fields, got %d", line, len(rec))
		}
		offset, ok := offsetKeys[strings.ToUpper(strings.TrimSpace(rec[0]))]
		if !ok {
			return nil, errors.Wrapf(packing.ErrMalformed, "line %d: unknown relation %q", line, rec[0])
		}
		nums := make([]int, len(rec)-1)
		for i, field := range rec[1:] {
			n, err := strconv.Atoi(strings.TrimSpace(field))
			if err != nil {
				return nil, errors.Wrapf(packing.ErrMalformed, "line %d field %d: %v", line, i+2, err)
			}
			nums[i] = n
		}
		low, high, subject := nums[0], nums[1], packing.Station(nums[2])
		if low > high {
			return nil, errors.Wrapf(packing.ErrMalformed, "line %d: channel range %d-%d is empty", line, low, high)
		}
		for c := low; c <= high; c++ {
			for _, target := range nums[3:] {
				out = append(out, constraint.Interference{
					Subject: subject,
					Target:  packing.Station(target),
					Channel: packing.Channel(c),
					Offset:  offset,
				})
			}
		}
	}
}

type relation struct {
	Subject packing.Station `json:"subject"`
	Target  packing.Station `json:"target"`
	Channel packing.Channel `json:"channel"`
	Offset  string          `json:"offset"`
}

// ReadInterferenceJSON reads an array of {subject, target, channel, offset}
// objects; offset is "CO", "ADJ+1" or "ADJ+2". YAML input is accepted too.
func ReadInterferenceJSON(r io.Reader) ([]constraint.Interference, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading relations")
	}
	var rels []relation
	if err := yaml.Unmarshal(raw, &rels); err != nil {
		return nil, errors.Wrapf(packing.ErrMalformed, "decoding relations: %v", err)
	}
	out := make([]constraint.Interference, 0, len(rels))
	for i, rel := range rels {
		offset, ok := offsetKeys[strings.ToUpper(rel.Offset)]
		if !ok {
			return nil, errors.Wrapf(packing.ErrMalformed, "relation %d: unknown offset %q", i, rel.Offset)
		}
		out = append(out, constraint.Interference{Subject: rel.Subject, Target: rel.Target, Channel: rel.Channel, Offset: offset})
	}
	return out, nil
}

// EncodeInterferenceJSON writes rels in the form ReadInterferenceJSON reads.
func EncodeInterferenceJSON(w io.Writer, rels []constraint.Interference) error {
	out := make([]relation, len(rels))
	for i, r := range rels {
		out[i] = relation{Subject: r.Subject, Target: r.Target, Channel: r.Channel, Offset: r.Offset.String()}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(out), "encoding relations")
}

// LoadInterference picks the format from the file extension: .csv, or JSON
// and YAML otherwise.
func LoadInterference(path string) ([]constraint.Interference, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening interference file")
	}
	defer f.Close()
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return ReadInterferenceCSV(f)
	}
	return ReadInterferenceJSON(f)
}

// Instance is the file and wire form of a packing request.
type Instance struct {
	Name          string                                `json:"name,omitempty"`
	Domains       map[packing.Station][]packing.Channel `json:"domains"`
	Previous      map[packing.Station]packing.Channel   `json:"previous,omitempty"`
	BudgetSeconds float64                               `json:"budget_seconds,omitempty"`
	Seed          int64                                 `json:"seed,omitempty"`
}

func (i Instance) Budget() time.Duration {
	return time.Duration(i.BudgetSeconds * float64(time.Second))
}

// Normalized returns the instance's domains sorted and deduplicated, or
// ErrMalformed if any is empty.
func (i Instance) Normalized() (packing.Domains, error) {
	d := packing.NewDomains(i.Domains)
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func DecodeInstance(raw []byte) (Instance, error) {
	var inst Instance
	if err := yaml.Unmarshal(raw, &inst); err != nil {
		return Instance{}, errors.Wrapf(packing.ErrMalformed, "decoding instance: %v", err)
	}
	if _, err := inst.Normalized(); err != nil {
		return Instance{}, err
	}
	return inst, nil
}

func ReadInstance(r io.Reader) (Instance, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Instance{}, errors.Wrap(err, "reading instance")
	}
	return DecodeInstance(raw)
}

func LoadInstance(path string) (Instance, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Instance{}, errors.Wrap(err, "reading instance")
	}
	inst, err := DecodeInstance(raw)
	if err != nil {
		return Instance{}, errors.Wrap(err, path)
	}
	if inst.Name == "" {
		inst.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return inst, nil
}

// EncodeInstance writes inst as indented JSON.
func EncodeInstance(w io.Writer, inst Instance) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(inst), "encoding instance")
}
