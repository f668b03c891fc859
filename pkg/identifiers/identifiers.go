package identifiers

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/speps/go-hashids/v2"
)

const (
	orderTimeLayout   = "20060102150405"
	voucherCodeLength = 12
	groupCodeMinLen   = 8
	// 32 symbols without 0/O/1/I so codes read cleanly at a till.
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// Options configure a Generator.
type Options struct {
	NodeID      int64
	OrderPrefix string
	GroupSalt   string
}

// Generator mints the externally presented identifiers.
type Generator struct {
	node   *snowflake.Node
	hashes *hashids.HashID
	prefix string
	now    func() time.Time
}

// NewGenerator builds a generator for one service instance. NodeID must be
// unique per running instance.
func NewGenerator(opts Options) (*Generator, error) {
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node: %w", err)
	}
	hd := hashids.NewData()
	hd.Salt = opts.GroupSalt
	hd.MinLength = groupCodeMinLen
	hd.Alphabet = codeAlphabet
	hashes, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, fmt.Errorf("hashids: %w", err)
	}
	return &Generator{
		node:   node,
		hashes: hashes,
		prefix: strings.ToUpper(strings.TrimSpace(opts.OrderPrefix)),
		now:    time.Now,
	}, nil
}

// OrderNumber returns prefix + UTC timestamp + zero-padded snowflake id, so
// numbers sort chronologically as plain strings.
func (g *Generator) OrderNumber() string {
	id := g.node.Generate().Int64()
	return fmt.Sprintf("%s%s%019d", g.prefix, g.now().UTC().Format(orderTimeLayout), id)
}

// GroupNumber returns a short share code derived from a snowflake id.
func (g *Generator) GroupNumber() (string, error) {
	code, err := g.hashes.EncodeInt64([]int64{g.node.Generate().Int64()})
	if err != nil {
		return "", fmt.Errorf("encode group number: %w", err)
	}
	return code, nil
}

// VoucherCode returns a random fixed-length code with no embedded metadata.
func VoucherCode() (string, error) {
	buf := make([]byte, voucherCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	out := make([]byte, voucherCodeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[b&31]
	}
	return string(out), nil
}
