package id

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator hands out time-ordered unique ids. Each process needs a distinct node id
// when several instances share logs.
type Generator struct {
	node *snowflake.Node
}

func NewGenerator(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("creating snowflake node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Next returns a fresh id.
func (g *Generator) Next() snowflake.ID {
	return g.node.Generate()
}

// NextString returns a fresh id in decimal form, as used for turn ids in logs.
func (g *Generator) NextString() string {
	return g.Next().String()
}
