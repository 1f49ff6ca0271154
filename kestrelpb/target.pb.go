// Hand-rolled wire codec for target.proto
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kestrelpb implements the wire codec for target.proto by hand
// against google.golang.org/protobuf/encoding/protowire, rather than through
// protoc-gen-go generated code: the schema is small and stable enough that a
// direct codec is less machinery than wiring a code generator into the
// build for three messages.
package kestrelpb

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// RamRegion mirrors target.Ram.
type RamRegion struct {
	Start  uint32
	Length uint32
}

// TargetInfo is one discovered device, the structured counterpart of the
// plain-text "targets" monitor command reply.
type TargetInfo struct {
	DesignerCode uint32
	PartID       uint32
	CPUID        uint32
	Driver       string
	Core         string
	Ram          []RamRegion
	Attached     bool
	LastDFSR     uint32
}

// TargetList is the structured snapshot built alongside the "targets"
// monitor command's plain-text reply.
type TargetList struct {
	Targets []TargetInfo
}

// RTTStatus is the structured snapshot built alongside the "rtt status"
// monitor command's plain-text reply.
type RTTStatus struct {
	Found            bool
	ControlBlockAddr uint32
	PollPeriodNs     int64
}

const (
	fieldRamStart  protowire.Number = 1
	fieldRamLength protowire.Number = 2

	fieldTargetDesignerCode protowire.Number = 1
	fieldTargetPartID       protowire.Number = 2
	fieldTargetCPUID        protowire.Number = 3
	fieldTargetDriver       protowire.Number = 4
	fieldTargetCore         protowire.Number = 5
	fieldTargetRam          protowire.Number = 6
	fieldTargetAttached     protowire.Number = 7
	fieldTargetLastDFSR     protowire.Number = 8

	fieldListTargets protowire.Number = 1

	fieldRTTFound        protowire.Number = 1
	fieldRTTCBAddr       protowire.Number = 2
	fieldRTTPollPeriodNs protowire.Number = 3
)

func appendRamRegion(b []byte, r RamRegion) []byte {
	b = protowire.AppendTag(b, fieldRamStart, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Start))
	b = protowire.AppendTag(b, fieldRamLength, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Length))
	return b
}

func consumeRamRegion(b []byte) (RamRegion, error) {
	var r RamRegion
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("kestrelpb: RamRegion: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRamStart:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("kestrelpb: RamRegion.start: %w", protowire.ParseError(n))
			}
			r.Start = uint32(v)
			b = b[n:]
		case fieldRamLength:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return r, fmt.Errorf("kestrelpb: RamRegion.length: %w", protowire.ParseError(n))
			}
			r.Length = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("kestrelpb: RamRegion: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return r, nil
}

// Marshal encodes t per target.proto's TargetInfo message.
func (t TargetInfo) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTargetDesignerCode, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.DesignerCode))
	b = protowire.AppendTag(b, fieldTargetPartID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.PartID))
	b = protowire.AppendTag(b, fieldTargetCPUID, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.CPUID))
	b = protowire.AppendTag(b, fieldTargetDriver, protowire.BytesType)
	b = protowire.AppendString(b, t.Driver)
	b = protowire.AppendTag(b, fieldTargetCore, protowire.BytesType)
	b = protowire.AppendString(b, t.Core)
	for _, r := range t.Ram {
		b = protowire.AppendTag(b, fieldTargetRam, protowire.BytesType)
		b = protowire.AppendBytes(b, appendRamRegion(nil, r))
	}
	b = protowire.AppendTag(b, fieldTargetAttached, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(t.Attached))
	b = protowire.AppendTag(b, fieldTargetLastDFSR, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.LastDFSR))
	return b
}

// UnmarshalTargetInfo decodes one TargetInfo message from b.
func UnmarshalTargetInfo(b []byte) (TargetInfo, error) {
	var t TargetInfo
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return t, fmt.Errorf("kestrelpb: TargetInfo: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldTargetDesignerCode:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.designer_code: %w", protowire.ParseError(n))
			}
			t.DesignerCode = uint32(v)
			b = b[n:]
		case fieldTargetPartID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.part_id: %w", protowire.ParseError(n))
			}
			t.PartID = uint32(v)
			b = b[n:]
		case fieldTargetCPUID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.cpuid: %w", protowire.ParseError(n))
			}
			t.CPUID = uint32(v)
			b = b[n:]
		case fieldTargetDriver:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.driver: %w", protowire.ParseError(n))
			}
			t.Driver = string(v)
			b = b[n:]
		case fieldTargetCore:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.core: %w", protowire.ParseError(n))
			}
			t.Core = string(v)
			b = b[n:]
		case fieldTargetRam:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.ram: %w", protowire.ParseError(n))
			}
			r, err := consumeRamRegion(v)
			if err != nil {
				return t, err
			}
			t.Ram = append(t.Ram, r)
			b = b[n:]
		case fieldTargetAttached:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.attached: %w", protowire.ParseError(n))
			}
			t.Attached = protowire.DecodeBool(v)
			b = b[n:]
		case fieldTargetLastDFSR:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo.last_dfsr: %w", protowire.ParseError(n))
			}
			t.LastDFSR = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return t, fmt.Errorf("kestrelpb: TargetInfo: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return t, nil
}

// Marshal encodes l per target.proto's TargetList message.
func (l TargetList) Marshal() []byte {
	var b []byte
	for _, t := range l.Targets {
		b = protowire.AppendTag(b, fieldListTargets, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Marshal())
	}
	return b
}

// UnmarshalTargetList decodes a TargetList message from b.
func UnmarshalTargetList(b []byte) (TargetList, error) {
	var l TargetList
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return l, fmt.Errorf("kestrelpb: TargetList: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldListTargets:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return l, fmt.Errorf("kestrelpb: TargetList.targets: %w", protowire.ParseError(n))
			}
			t, err := UnmarshalTargetInfo(v)
			if err != nil {
				return l, err
			}
			l.Targets = append(l.Targets, t)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return l, fmt.Errorf("kestrelpb: TargetList: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return l, nil
}

// Marshal encodes s per target.proto's RTTStatus message.
func (s RTTStatus) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRTTFound, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(s.Found))
	b = protowire.AppendTag(b, fieldRTTCBAddr, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.ControlBlockAddr))
	b = protowire.AppendTag(b, fieldRTTPollPeriodNs, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.PollPeriodNs))
	return b
}

// UnmarshalRTTStatus decodes an RTTStatus message from b.
func UnmarshalRTTStatus(b []byte) (RTTStatus, error) {
	var s RTTStatus
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return s, fmt.Errorf("kestrelpb: RTTStatus: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldRTTFound:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, fmt.Errorf("kestrelpb: RTTStatus.found: %w", protowire.ParseError(n))
			}
			s.Found = protowire.DecodeBool(v)
			b = b[n:]
		case fieldRTTCBAddr:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, fmt.Errorf("kestrelpb: RTTStatus.control_block_addr: %w", protowire.ParseError(n))
			}
			s.ControlBlockAddr = uint32(v)
			b = b[n:]
		case fieldRTTPollPeriodNs:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return s, fmt.Errorf("kestrelpb: RTTStatus.poll_period_ns: %w", protowire.ParseError(n))
			}
			s.PollPeriodNs = int64(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return s, fmt.Errorf("kestrelpb: RTTStatus: skip field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return s, nil
}
