// SPDX-License-Identifier: BSD-3-Clause
// Copyright (c) 2025 Pierre Jay

package theme

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ParseInstruction converts a wire instruction into typed form
func ParseInstruction(raw RawInstruction) (Instruction, error) {
	if len(raw) != instructionFields {
		return Instruction{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedInstruction, instructionFields, len(raw))
	}

	id := strings.TrimSpace(raw[0])
	if id == "" {
		return Instruction{}, fmt.Errorf("%w: empty fixture id", ErrMalformedInstruction)
	}

	var values [5]float64
	for i := range values {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw[i+1]), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return Instruction{}, fmt.Errorf("%w: field %d of %s: %q", ErrMalformedInstruction, i+1, id, raw[i+1])
		}
		values[i] = v
	}

	if values[4] < 0 {
		values[4] = 0
	}

	return Instruction{
		FixtureID:  id,
		Hue:        values[0],
		Saturation: values[1],
		Brightness: values[2],
		Kelvin:     values[3],
		Duration:   time.Duration(values[4] * float64(time.Millisecond)),
	}, nil
}

// ParseInstructions parses every instruction, returning the valid ones in
// order plus one error per skipped instruction
func ParseInstructions(raw []RawInstruction) ([]Instruction, []error) {
	out := make([]Instruction, 0, len(raw))
	var errs []error
	for i, r := range raw {
		in, err := ParseInstruction(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("instruction %d: %w", i, err))
			continue
		}
		out = append(out, in)
	}
	return out, errs
}

// Format converts an instruction back to wire form
func (in Instruction) Format() RawInstruction {
	return RawInstruction{
		in.FixtureID,
		formatFloat(in.Hue),
		formatFloat(in.Saturation),
		formatFloat(in.Brightness),
		formatFloat(in.Kelvin),
		strconv.FormatInt(in.Duration.Milliseconds(), 10),
	}
}

// FormatInstructions converts typed instructions back to wire form
func FormatInstructions(ins []Instruction) []RawInstruction {
	out := make([]RawInstruction, len(ins))
	for i, in := range ins {
		out[i] = in.Format()
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ParsedKeyframes validates the palette and returns its keyframes parsed and
// sorted ascending by time. Malformed instructions inside a keyframe are
// dropped and reported in the returned error slice.
func (p *Palette) ParsedKeyframes() ([]Keyframe, []error, error) {
	if len(p.Keyframes) < 2 {
		return nil, nil, ErrTooFewKeyframes
	}
	if p.Duration <= 0 {
		return nil, nil, ErrInvalidDuration
	}

	var skipped []error
	frames := make([]Keyframe, len(p.Keyframes))
	for i, kf := range p.Keyframes {
		if math.IsNaN(kf.Time) {
			return nil, nil, fmt.Errorf("keyframe %d: invalid time", i)
		}
		ins, errs := ParseInstructions(kf.Instructions)
		for _, err := range errs {
			skipped = append(skipped, fmt.Errorf("keyframe %d: %w", i, err))
		}
		frames[i] = Keyframe{
			Time:         math.Max(0, math.Min(1, kf.Time)),
			Instructions: ins,
		}
	}

	sort.SliceStable(frames, func(i, j int) bool {
		return frames[i].Time < frames[j].Time
	})

	return frames, skipped, nil
}

// Decode parses a theme or animated palette from JSON
func Decode(data []byte) (*Palette, error) {
	var p Palette
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode theme: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("decode theme: %w", err)
	}
	return &p, nil
}

// Validate rejects unknown theme types and easing names
func (p *Palette) Validate() error {
	if p.Type != "" && p.Type != TypeAnimated {
		return fmt.Errorf("unknown type %q", p.Type)
	}
	switch p.Easing {
	case "", EaseLinear, EaseIn, EaseOut, EaseInOut:
	default:
		return fmt.Errorf("unknown easing %q", p.Easing)
	}
	return nil
}

// Encode serialises a theme or palette to JSON
func Encode(p *Palette) ([]byte, error) {
	return json.Marshal(p)
}

// UnmarshalJSON accepts numeric fields as well as strings so generated
// themes that emit bare numbers still decode; values are kept as strings.
func (r *RawInstruction) UnmarshalJSON(data []byte) error {
	var fields []json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	out := make(RawInstruction, len(fields))
	for i, f := range fields {
		var s string
		if err := json.Unmarshal(f, &s); err == nil {
			out[i] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(f, &n); err != nil {
			return fmt.Errorf("instruction field %d: %w", i, err)
		}
		out[i] = n.String()
	}
	*r = out
	return nil
}
