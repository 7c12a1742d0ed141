// Package memconfig loads and validates the memory-layout YAML that
// declares the banks the generator may place code and data in. Every
// file is validated twice: structurally against the embedded JSON
// Schema, then semantically for the rules a schema cannot express
// (code-bank presence, range overflow, boot containment).
package memconfig

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/tibbar/tibbar/pkg/addr"
	"github.com/tibbar/tibbar/pkg/tibbarerr"
)

//go:embed schema.json
var schemaJSON string

// DefaultDataReserve is the carve-out size used when no pure data bank
// is declared.
const DefaultDataReserve = 262144

// HexUint64 accepts either a YAML integer or a "0x.."-prefixed hex
// string and normalizes both to a uint64.
type HexUint64 uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexUint64) UnmarshalYAML(node *yaml.Node) error {
	var u uint64
	if err := node.Decode(&u); err == nil {
		*h = HexUint64(u)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("expected integer or hex string, got %q", node.Value)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return fmt.Errorf("expected integer or 0x-prefixed hex string, got %q", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return fmt.Errorf("bad hex value %q: %w", s, err)
	}
	*h = HexUint64(v)
	return nil
}

// Bank is one declared absolute-address region with its roles and
// access letters.
type Bank struct {
	Name   string `yaml:"name"`
	Base   uint64 `yaml:"-"`
	Size   uint64 `yaml:"-"`
	Code   bool   `yaml:"code"`
	Data   bool   `yaml:"data"`
	Access string `yaml:"access"`
}

// End returns Base+Size.
func (b Bank) End() uint64 { return b.Base + b.Size }

// PureData reports whether the bank is data-only (no code role).
func (b Bank) PureData() bool { return b.Data && !b.Code }

// Config is the resolved memory layout: ordered banks, the data
// carve-out size, and an optional fixed boot address.
type Config struct {
	Banks       []Bank
	DataReserve uint64
	Boot        *uint64
}

type rawBank struct {
	Name   string    `yaml:"name"`
	Base   HexUint64 `yaml:"base"`
	Size   HexUint64 `yaml:"size"`
	Code   bool      `yaml:"code"`
	Data   bool      `yaml:"data"`
	Access string    `yaml:"access"`
}

type rawConfig struct {
	Memory struct {
		Banks       []rawBank  `yaml:"banks"`
		DataReserve *uint64    `yaml:"data_reserve"`
		Boot        *HexUint64 `yaml:"boot"`
	} `yaml:"memory"`
}

// Default returns the built-in single-bank layout used when no
// --memory-config file is given: 512 KiB of rwx code+data at
// 0x80000000.
func Default() *Config {
	return &Config{
		Banks: []Bank{{
			Name: "RAM", Base: 0x80000000, Size: 0x80000,
			Code: true, Data: true, Access: "rwx",
		}},
		DataReserve: DefaultDataReserve,
	}
}

// LoadFile reads and validates a memory-config YAML file.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("cannot read memory config: %v", err), map[string]any{"path": path})
	}
	return Parse(raw)
}

// Parse validates raw YAML against the schema and the semantic rules,
// returning the resolved Config.
func Parse(raw []byte) (*Config, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var rc rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&rc); err != nil {
		return nil, tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("bad memory config: %v", err), nil)
	}

	cfg := &Config{DataReserve: DefaultDataReserve}
	if rc.Memory.DataReserve != nil {
		cfg.DataReserve = *rc.Memory.DataReserve
	}
	if rc.Memory.Boot != nil {
		boot := uint64(*rc.Memory.Boot)
		cfg.Boot = &boot
	}
	for _, rb := range rc.Memory.Banks {
		access := strings.ToLower(rb.Access)
		if access == "" {
			access = "rwx"
		}
		cfg.Banks = append(cfg.Banks, Bank{
			Name: rb.Name, Base: uint64(rb.Base), Size: uint64(rb.Size),
			Code: rb.Code, Data: rb.Data, Access: access,
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("bad memory config YAML: %v", err), nil)
	}
	// The schema validator wants json.Unmarshal-shaped values, so the
	// YAML document makes a round trip through encoding/json first.
	j, err := json.Marshal(doc)
	if err != nil {
		return tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("memory config is not schema-checkable: %v", err), nil)
	}
	var jdoc any
	if err := json.Unmarshal(j, &jdoc); err != nil {
		return tibbarerr.New(tibbarerr.ConfigInvalid, err.Error(), nil)
	}
	schema, err := jsonschema.CompileString("memory-config.schema.json", schemaJSON)
	if err != nil {
		return tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("internal: embedded schema does not compile: %v", err), nil)
	}
	if err := schema.Validate(jdoc); err != nil {
		return tibbarerr.New(tibbarerr.ConfigInvalid,
			fmt.Sprintf("memory config fails schema validation: %v", err), nil)
	}
	return nil
}

// validate applies the semantic rules the schema cannot express.
func (c *Config) validate() error {
	hasCode := false
	for _, b := range c.Banks {
		if b.Size == 0 {
			return tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("bank %q has zero size", b.Name), nil)
		}
		if b.Base+b.Size < b.Base {
			return tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("bank %q wraps the address space", b.Name),
				map[string]any{"base": b.Base, "size": b.Size})
		}
		if !b.Code && !b.Data {
			return tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("bank %q declares neither code nor data", b.Name), nil)
		}
		if b.Code {
			hasCode = true
		}
	}
	if !hasCode {
		return tibbarerr.New(tibbarerr.ConfigInvalid, "at least one bank must declare code: true", nil)
	}
	if c.Boot != nil {
		inCode := false
		for _, b := range c.Banks {
			if b.Code && *c.Boot >= b.Base && *c.Boot < b.End() {
				inCode = true
				break
			}
		}
		if !inCode {
			return tibbarerr.New(tibbarerr.ConfigInvalid,
				fmt.Sprintf("boot address 0x%x is not inside any code bank", *c.Boot), nil)
		}
	}
	return nil
}

// CodeBanks returns the banks declaring the code role, in declaration
// order.
func (c *Config) CodeBanks() []Bank {
	var out []Bank
	for _, b := range c.Banks {
		if b.Code {
			out = append(out, b)
		}
	}
	return out
}

// PureDataBanks returns the data-only banks, in declaration order.
func (c *Config) PureDataBanks() []Bank {
	var out []Bank
	for _, b := range c.Banks {
		if b.PureData() {
			out = append(out, b)
		}
	}
	return out
}

// CodeSegments maps the code banks to mapper segments.
func (c *Config) CodeSegments() []addr.Segment {
	var out []addr.Segment
	for _, b := range c.CodeBanks() {
		out = append(out, addr.Segment{Name: b.Name, Base: b.Base, Size: b.Size})
	}
	return out
}

// DataSegments maps every bank declaring the data role (pure or
// shared with code) to mapper segments.
func (c *Config) DataSegments() []addr.Segment {
	var out []addr.Segment
	for _, b := range c.Banks {
		if b.Data {
			out = append(out, addr.Segment{Name: b.Name, Base: b.Base, Size: b.Size})
		}
	}
	return out
}

// LoadAddr is the lowest code-bank base, reported in the .S banner.
func (c *Config) LoadAddr() uint64 {
	first := true
	var lo uint64
	for _, b := range c.CodeBanks() {
		if first || b.Base < lo {
			lo = b.Base
			first = false
		}
	}
	return lo
}

// RAMSize is the total code-bank size, reported in the .S banner.
func (c *Config) RAMSize() uint64 {
	var n uint64
	for _, b := range c.CodeBanks() {
		n += b.Size
	}
	return n
}

// DataRegion returns the first pure data bank's base, if any.
func (c *Config) DataRegion() (uint64, bool) {
	banks := c.PureDataBanks()
	if len(banks) == 0 {
		return 0, false
	}
	return banks[0].Base, true
}
