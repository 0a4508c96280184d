// node_mode.go defines the role of a session/pool inside a codec.

package types

import (
	"fmt"
)

type NodeMode int

const (
	NodeModeDecInput = NodeMode(iota)
	NodeModeDecOutput
	NodeModeEncInput
	NodeModeEncOutput
)

func (m NodeMode) String() string {
	switch m {
	case NodeModeDecInput:
		return "dec_input"
	case NodeModeDecOutput:
		return "dec_output"
	case NodeModeEncInput:
		return "enc_input"
	case NodeModeEncOutput:
		return "enc_output"
	default:
		return fmt.Sprintf("unknown_node_mode_%d", int(m))
	}
}

func (m NodeMode) IsDecoder() bool {
	return m == NodeModeDecInput || m == NodeModeDecOutput
}

func (m NodeMode) IsOutput() bool {
	return m == NodeModeDecOutput || m == NodeModeEncOutput
}
