package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Stack-height analysis
// ---------------------------------------------------------------------------

// StackEffect returns the net operand-stack effect of in, in words.
func StackEffect(in Instruction) (int, error) {
	switch in.Op {
	case OpLDC:
		switch in.Const.(type) {
		case int64, float64:
			return 2, nil
		}
		return 1, nil
	case OpGETSTATIC:
		return in.Type.Size(), nil
	case OpPUTSTATIC:
		return -in.Type.Size(), nil
	case OpGETFIELD:
		return in.Type.Size() - 1, nil
	case OpPUTFIELD:
		return -in.Type.Size() - 1, nil
	case OpINVOKEVIRTUAL, OpINVOKESPECIAL, OpINVOKESTATIC, OpINVOKEINTERFACE:
		mt, err := ParseMethodType(in.Desc)
		if err != nil {
			return 0, err
		}
		effect := mt.Return.Size() - mt.ArgSize()
		if in.Op != OpINVOKESTATIC {
			effect--
		}
		return effect, nil
	}
	if _, ok := opcodeTable[in.Op]; !ok {
		return 0, fmt.Errorf("vm: unknown opcode %02x", byte(in.Op))
	}
	return in.Op.Info().StackEffect, nil
}

// Analyze computes the stack height before every reachable instruction and
// returns the maximum height. It fails when a jump target is reached with
// two different heights or when an instruction would underflow.
func Analyze(m *Method) (int, error) {
	heights, err := StackHeights(m)
	if err != nil {
		return 0, err
	}
	max := 0
	for i, h := range heights {
		if h < 0 {
			continue
		}
		e, _ := StackEffect(m.Instructions[i])
		if h > max {
			max = h
		}
		if h+e > max {
			max = h + e
		}
	}
	return max, nil
}

// StackHeights returns the height before each instruction; unreachable
// instructions get -1.
func StackHeights(m *Method) ([]int, error) {
	n := len(m.Instructions)
	heights := make([]int, n)
	for i := range heights {
		heights[i] = -1
	}
	var work []int

	reach := func(at, h int, from string) error {
		if at >= n {
			return fmt.Errorf("vm: %s: control transfers past the end (from %s)", m.Name, from)
		}
		if heights[at] == -1 {
			heights[at] = h
			work = append(work, at)
			return nil
		}
		if heights[at] != h {
			return fmt.Errorf("vm: %s: inconsistent stack height at %d (%d vs %d, from %s)",
				m.Name, at, heights[at], h, from)
		}
		return nil
	}
	target := func(l Label) (int, error) {
		pos, ok := m.Labels[l]
		if !ok {
			return 0, fmt.Errorf("vm: %s: unmarked label %v", m.Name, l)
		}
		return pos, nil
	}

	if n == 0 {
		return heights, nil
	}
	if err := reach(0, 0, "entry"); err != nil {
		return nil, err
	}
	handlersDone := make([]bool, len(m.TryCatch))
	for {
		for len(work) > 0 {
			pc := work[len(work)-1]
			work = work[:len(work)-1]
			in := m.Instructions[pc]
			h := heights[pc]
			effect, err := StackEffect(in)
			if err != nil {
				return nil, err
			}
			after := h + effect
			if after < 0 {
				return nil, fmt.Errorf("vm: %s: stack underflow at %d (%s)", m.Name, pc, in.Op)
			}
			if in.Op.IsJump() {
				pos, err := target(in.Target)
				if err != nil {
					return nil, err
				}
				if err := reach(pos, after, in.Op.Name()); err != nil {
					return nil, err
				}
			}
			if in.Switch != nil {
				for _, l := range append([]Label{in.Switch.Default}, in.Switch.Labels...) {
					pos, err := target(l)
					if err != nil {
						return nil, err
					}
					if err := reach(pos, after, in.Op.Name()); err != nil {
						return nil, err
					}
				}
			}
			if !in.Op.IsTerminal() {
				if pc+1 == n {
					return nil, fmt.Errorf("vm: %s: control falls off the end after %s", m.Name, in.Op)
				}
				if err := reach(pc+1, after, in.Op.Name()); err != nil {
					return nil, err
				}
			}
		}

		progressed := false
		for i, tc := range m.TryCatch {
			if handlersDone[i] {
				continue
			}
			start, err := target(tc.Start)
			if err != nil {
				return nil, err
			}
			end, err := target(tc.End)
			if err != nil {
				return nil, err
			}
			covered := false
			for pc := start; pc < end && pc < n; pc++ {
				if heights[pc] >= 0 {
					covered = true
					break
				}
			}
			if !covered {
				continue
			}
			handler, err := target(tc.Handler)
			if err != nil {
				return nil, err
			}
			handlersDone[i] = true
			progressed = true
			if err := reach(handler, 1, "handler"); err != nil {
				return nil, err
			}
		}
		if !progressed {
			break
		}
	}
	return heights, nil
}
